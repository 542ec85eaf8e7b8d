package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sisstools/fsefetch/browser"
)

// newOverrideCmd toggles the persistent launch-command override that lets
// the attach protocol restart a running browser with debugging enabled.
func newOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <on|off|status>",
		Short: "Gestisce l'avvio del browser con debug remoto abilitato",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := browser.NewRegistry()
			target := browser.Resolve(reg, cfg.Browser.Channel, cfg.Browser.DebugPort)
			if target.ExecutablePath == "" {
				return fmt.Errorf("nessun browser installato trovato")
			}

			switch args[0] {
			case "on":
				if err := reg.EnableDebugOverride(target.ExecutablePath, target.Port); err != nil {
					return err
				}
				log.Info("debug override enabled",
					"exe", target.ExecutablePath, "port", target.Port)
			case "off":
				if err := reg.DisableDebugOverride(target.ExecutablePath); err != nil {
					return err
				}
				log.Info("debug override disabled", "exe", target.ExecutablePath)
			case "status":
				if reg.DebugOverrideActive(target.ExecutablePath) {
					fmt.Println("attivo")
				} else {
					fmt.Println("non attivo")
				}
			default:
				return fmt.Errorf("argomento non valido: %q (usa on, off o status)", args[0])
			}
			return nil
		},
	}
	return cmd
}
