package portal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"

	"github.com/sisstools/fsefetch/browser"
	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

// Harvester is the per-patient orchestrator: it drives one browser
// session through navigation, scan, filter, and download, and turns
// every outcome into DocumentResults.
type Harvester struct {
	session *browser.Session
	nav     *Navigator
	down    *Downloader
	cfg     *config.Config
	log     *slog.Logger
}

// NewHarvester wires the harvester around an acquired session.
func NewHarvester(cfg *config.Config, session *browser.Session, log *slog.Logger) *Harvester {
	return &Harvester{
		session: session,
		nav:     NewNavigator(cfg.Portal, log),
		down:    NewDownloader(cfg.Portal, cfg.TempDownloadDir(), cfg.Paths.LogDir, log),
		cfg:     cfg,
		log:     log,
	}
}

// Start acquires the browser session.
func (h *Harvester) Start(ctx context.Context) error {
	return h.session.Start(ctx)
}

// Stop releases the browser session.
func (h *Harvester) Stop() {
	h.session.Stop()
}

// Alive reports whether the underlying session still answers.
func (h *Harvester) Alive() bool {
	return h.session.IsAlive()
}

// WaitForLogin opens the portal home and blocks until the operator has
// completed the manual smart-card login, bounded by the configured wait.
func (h *Harvester) WaitForLogin(ctx context.Context) error {
	page := h.session.Page()
	if err := page.Timeout(h.cfg.Portal.PageTimeout).Navigate(h.cfg.Portal.BaseURL); err != nil {
		return models.NewProcError(models.ErrCodeNavigation,
			"failed to open portal home", err)
	}
	h.log.Info("waiting for operator login", "bound", h.cfg.Portal.LoginWait)
	return h.nav.WaitForApp(ctx, page, h.cfg.Portal.LoginWait)
}

// ProcessPatient runs the full scan-filter-download sequence for one
// patient. Navigation and structure failures abort the patient with a
// single error-carrying result; per-row download failures do not.
func (h *Harvester) ProcessPatient(ctx context.Context, rec models.EmailRecord, criteria Criteria) []models.DocumentResult {
	page, err := h.openPatient(ctx, rec)
	if err != nil {
		return h.navFailure(page, rec, err)
	}

	rows, schema, err := h.scanTable(page, rec)
	if err != nil {
		return h.navFailure(page, rec, err)
	}

	decisions := Apply(rows, criteria)
	results := make([]models.DocumentResult, 0, len(decisions))
	for _, dec := range decisions {
		if ctx.Err() != nil {
			h.log.Warn("interrupted between rows", "patient", rec.CodiceFiscale)
			break
		}
		if !dec.Download {
			h.log.Info("row skipped",
				"row", dec.Row.Index+1, "tipologia", dec.Row.Tipologia, "reason", dec.Reason)
			results = append(results, models.DocumentResult{
				Tipologia: dec.Row.Tipologia, Skipped: true,
			})
			continue
		}
		results = append(results, h.down.DownloadRow(page, schema, dec.Row, rec.CodiceFiscale))
	}
	return results
}

// ScanEnti collects the distinct facility names in the patient's results
// table, for interactive facility filtering. Returns nil when the table
// has no facility column.
func (h *Harvester) ScanEnti(ctx context.Context, rec models.EmailRecord) ([]string, error) {
	page, err := h.openPatient(ctx, rec)
	if err != nil {
		return nil, err
	}
	rows, schema, err := h.scanTable(page, rec)
	if err != nil {
		return nil, err
	}
	if schema.EnteCol < 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	enti := make([]string, 0, len(rows))
	for _, row := range rows {
		e := strings.TrimSpace(row.Ente)
		if e == "" || seen[strings.ToUpper(e)] {
			continue
		}
		seen[strings.ToUpper(e)] = true
		enti = append(enti, e)
	}
	return enti, nil
}

// scanTable locates the results table, resolves its schema, and snapshots
// every data row.
func (h *Harvester) scanTable(page *rod.Page, rec models.EmailRecord) ([]models.RowRecord, models.TableSchema, error) {
	var schema models.TableSchema
	table, err := FindResultsTable(page, h.cfg.Portal.PageTimeout)
	if err != nil {
		return nil, schema, err
	}
	headers, err := headerTexts(table)
	if err != nil {
		return nil, schema, models.NewProcError(models.ErrCodeStructure,
			"failed to read results table header", err)
	}
	schema, err = ResolveSchema(headers)
	if err != nil {
		return nil, schema, err
	}
	rows, err := ScanRows(table, schema)
	if err != nil {
		return nil, schema, err
	}
	h.log.Info("results table scanned",
		"patient", rec.CodiceFiscale, "rows", len(rows))
	return rows, schema, nil
}

// openPatient restarts a dead session, follows the patient's deep link
// (or the home URL with the codice fiscale fragment), and walks to the
// results section.
func (h *Harvester) openPatient(ctx context.Context, rec models.EmailRecord) (*rod.Page, error) {
	if !h.session.IsAlive() {
		if rerr := h.session.Restart(ctx); rerr != nil {
			return nil, rerr
		}
	}
	page := h.session.Page()

	link := rec.FSELink
	if link == "" {
		link = strings.TrimRight(h.cfg.Portal.BaseURL, "/") + "/#/?codiceFiscale=" + rec.CodiceFiscale
	}
	if err := h.nav.Open(ctx, page, link); err != nil {
		return page, err
	}
	if err := h.nav.ToResults(ctx, page, rec.CodiceFiscale); err != nil {
		return page, err
	}
	return page, nil
}

// navFailure reports a patient-level failure as a single result and keeps
// a diagnostic screenshot of the state that caused it.
func (h *Harvester) navFailure(page *rod.Page, rec models.EmailRecord, err error) []models.DocumentResult {
	h.log.Error("patient processing failed",
		"patient", rec.CodiceFiscale, "error", err)
	h.down.Screenshot(page, rec.CodiceFiscale)
	return []models.DocumentResult{{Tipologia: "N/A", Err: err.Error()}}
}
