package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newEntiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enti <codice-fiscale>",
		Short: "Elenca le strutture presenti nei risultati di un paziente",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf := strings.ToUpper(strings.TrimSpace(args[0]))
			if !codiceFiscalePattern.MatchString(cf) {
				return fmt.Errorf("codice fiscale non valido: %q", args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			enti, err := r.RunEnteScan(ctx, cf)
			if err != nil {
				logProcError(err)
				return err
			}
			if len(enti) == 0 {
				fmt.Println("nessuna struttura trovata")
				return nil
			}
			for _, e := range enti {
				fmt.Println(e)
			}
			return nil
		},
	}
}
