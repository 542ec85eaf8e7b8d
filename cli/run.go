package cli

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sisstools/fsefetch/models"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Elabora tutte le mail di notifica non lette",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			sum, err := r.Run(ctx)
			if err != nil {
				logProcError(err)
				return err
			}
			if sum.Interrupted {
				return errors.New("run interrupted before completion")
			}
			if sum.DocsFailed > 0 || sum.EmailsSkipped > 0 {
				return errors.New("run completed with failures, affected mail left unread")
			}
			return nil
		},
	}
}

// logProcError surfaces the remediation hint of connection failures,
// which the generic error line would otherwise bury.
func logProcError(err error) {
	var pe *models.ProcError
	if errors.As(err, &pe) && pe.Hint != "" {
		log.Error(pe.Message, "code", pe.Code, "hint", pe.Hint)
		return
	}
	log.Error("run failed", "error", err)
}
