// Package cli defines the fsefetch command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sisstools/fsefetch/browser"
	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/files"
	"github.com/sisstools/fsefetch/mailbox"
	"github.com/sisstools/fsefetch/portal"
	"github.com/sisstools/fsefetch/runner"
)

var (
	cfgFile string
	verbose bool

	cfg *config.Config
	log *slog.Logger
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fsefetch",
		Short: "Scarica i referti FSE segnalati dalle mail di notifica",
		Long: `fsefetch legge le mail di notifica "Nuovo Documento", apre il
portale FSE degli operatori sanitari e scarica i referti dei pazienti
segnalati, rinominandoli per codice fiscale e tipologia.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			log = initLogger(cfg.Log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", ".env", "percorso del file di configurazione")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log di debug")

	root.AddCommand(newRunCmd())
	root.AddCommand(newPatientCmd())
	root.AddCommand(newEntiCmd())
	root.AddCommand(newOverrideCmd())
	return root
}

// initLogger configures slog based on the LogConfig.
func initLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// newRunner assembles the orchestrator with its real collaborators.
func newRunner() (*runner.Runner, error) {
	seen, err := mailbox.OpenSeenStore(cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}
	mail := mailbox.NewClient(cfg.Mail, seen, log)

	session := browser.NewSession(cfg.Browser, browser.NewRegistry(), browser.NewProcessController(), log)
	harv := portal.NewHarvester(cfg, session, log)
	mgr := files.NewManager(cfg.Paths.DownloadDir, log)

	return runner.New(cfg, mail, harv, mgr, log), nil
}
