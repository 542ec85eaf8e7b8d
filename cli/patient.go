package cli

import (
	"fmt"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sisstools/fsefetch/portal"
)

var codiceFiscalePattern = regexp.MustCompile(`^[A-Z0-9]{16}$`)

func newPatientCmd() *cobra.Command {
	var (
		types    []string
		ente     string
		fromStr  string
		toStr    string
		allDates bool
	)

	cmd := &cobra.Command{
		Use:   "patient <codice-fiscale>",
		Short: "Scarica i referti di un singolo paziente",
		Long: `Elabora un paziente senza passare dalle mail di notifica. Senza
--from/--to/--all scarica solo i documenti dell'ultima visita.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf := strings.ToUpper(strings.TrimSpace(args[0]))
			if !codiceFiscalePattern.MatchString(cf) {
				return fmt.Errorf("codice fiscale non valido: %q", args[0])
			}

			criteria := portal.Criteria{
				AllowedTypes: cfg.Run.AllowedTypes,
				Ente:         ente,
				LatestOnly:   true,
			}
			if len(types) > 0 {
				criteria.AllowedTypes = types
			}
			if fromStr != "" {
				d, err := parseDateFlag(fromStr)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				criteria.DateFrom = &d
				criteria.LatestOnly = false
			}
			if toStr != "" {
				d, err := parseDateFlag(toStr)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				criteria.DateTo = &d
				criteria.LatestOnly = false
			}
			if allDates {
				criteria.LatestOnly = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			sum, err := r.RunPatient(ctx, cf, criteria)
			if err != nil {
				logProcError(err)
				return err
			}
			if sum.DocsFailed > 0 {
				return fmt.Errorf("%d documenti non scaricati", sum.DocsFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "tipologie ammesse (es. REFERTO,VERBALE DI PRONTO SOCCORSO)")
	cmd.Flags().StringVar(&ente, "ente", "", "filtra per struttura (sottostringa)")
	cmd.Flags().StringVar(&fromStr, "from", "", "data minima, formato gg/mm/aaaa")
	cmd.Flags().StringVar(&toStr, "to", "", "data massima, formato gg/mm/aaaa")
	cmd.Flags().BoolVar(&allDates, "all", false, "tutte le visite, non solo l'ultima")
	return cmd
}

func parseDateFlag(s string) (time.Time, error) {
	d, ok := portal.ParseDate(s)
	if !ok {
		return time.Time{}, fmt.Errorf("data non riconosciuta: %q", s)
	}
	return d, nil
}
