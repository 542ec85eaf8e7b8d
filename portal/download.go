package portal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

// clickableSelector matches the controls the portal uses for the per-row
// view action: links, buttons, bare images, and icon-styled elements.
const clickableSelector = "a, button, img, i, [role=button], [class*=icon]"

// Downloader performs per-row document downloads with an at-most-one
// retry policy: pending -> attempt1 -> {success | retry} -> attempt2 ->
// {success | failed}. Never a third attempt.
type Downloader struct {
	cfg     config.PortalConfig
	log     *slog.Logger
	dir     string // temporary capture directory
	shotDir string // diagnostic screenshots

	attemptFn func(page *rod.Page, schema models.TableSchema, row models.RowRecord) (string, error)
	recoverFn func(page *rod.Page)
	captureFn func(page *rod.Page, label string)
}

// NewDownloader builds a downloader capturing into dir and writing
// diagnostic screenshots into shotDir.
func NewDownloader(cfg config.PortalConfig, dir, shotDir string, log *slog.Logger) *Downloader {
	d := &Downloader{cfg: cfg, log: log, dir: dir, shotDir: shotDir}
	d.attemptFn = d.attempt
	d.recoverFn = d.reload
	d.captureFn = d.Screenshot
	return d
}

// DownloadRow triggers the row's view action and captures the resulting
// file. Failure is always reported as data in the result; this function
// never propagates an error past the per-row boundary.
func (d *Downloader) DownloadRow(page *rod.Page, schema models.TableSchema, row models.RowRecord, label string) models.DocumentResult {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		path, err := d.attemptFn(page, schema, row)
		if err == nil {
			d.log.Info("download complete",
				"row", row.Index+1, "tipologia", row.Tipologia, "file", filepath.Base(path))
			return models.DocumentResult{Tipologia: row.Tipologia, DownloadPath: path}
		}
		lastErr = err
		if attempt == 1 {
			d.log.Warn("download failed, reloading and retrying",
				"row", row.Index+1, "tipologia", row.Tipologia, "error", err)
			d.recoverFn(page)
		}
	}
	d.log.Error("download failed permanently",
		"row", row.Index+1, "tipologia", row.Tipologia, "error", lastErr)
	d.captureFn(page, fmt.Sprintf("%s_row%d", label, row.Index+1))
	perr := models.NewProcError(
		models.Categorize(lastErr, models.ErrCodeDownload),
		fmt.Sprintf("row %d download failed", row.Index+1), lastErr)
	return models.DocumentResult{Tipologia: row.Tipologia, Err: perr.Error()}
}

// attempt performs one download try: re-locate the live row, click its
// action control, answer the optional consent dialog, and capture the
// file under a per-row temporary name.
func (d *Downloader) attempt(page *rod.Page, schema models.TableSchema, row models.RowRecord) (string, error) {
	table, err := FindResultsTable(page, d.cfg.PageTimeout)
	if err != nil {
		return "", err
	}
	rowEl, err := dataRow(table, row.Index)
	if err != nil {
		return "", err
	}
	cells, err := rowEl.Elements("td")
	if err != nil || len(cells) == 0 {
		return "", fmt.Errorf("row %d has no data cells", row.Index+1)
	}
	idx := schema.ActionCol
	if idx < 0 || idx >= len(cells) {
		idx = len(cells) - 1
	}
	target := clickTarget(cells[idx])

	wait := page.Browser().Timeout(d.cfg.DownloadTimeout).WaitDownload(d.dir)
	if err := target.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("clicking view action: %w", err)
	}
	d.clickConsent(page)

	info := wait()
	if info == nil {
		return "", fmt.Errorf("download did not complete within %s", d.cfg.DownloadTimeout)
	}
	captured := filepath.Join(d.dir, info.GUID)
	if _, err := os.Stat(captured); err != nil {
		return "", fmt.Errorf("captured file missing: %w", err)
	}

	// Per-row unique temporary name; the final name is the renamer's job.
	ext := filepath.Ext(info.SuggestedFilename)
	if ext == "" {
		ext = ".pdf"
	}
	dest := filepath.Join(d.dir, fmt.Sprintf("row%03d_%s%s", row.Index+1, info.GUID, ext))
	if err := os.Rename(captured, dest); err != nil {
		return "", fmt.Errorf("staging captured file: %w", err)
	}
	return dest, nil
}

// clickConsent answers the confirmation dialog some document types show
// before downloading. Its absence is not an error.
func (d *Downloader) clickConsent(page *rod.Page) {
	if d.cfg.ConsentButtonText == "" {
		return
	}
	el, err := page.Timeout(5 * time.Second).ElementR("button", regexp.QuoteMeta(d.cfg.ConsentButtonText))
	if err != nil {
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		d.log.Debug("consent click failed", "error", err)
	}
}

// reload refreshes the page between attempts and waits for the table to
// reattach. Errors here only make the second attempt fail on its own.
func (d *Downloader) reload(page *rod.Page) {
	if err := page.Timeout(d.cfg.PageTimeout).Reload(); err != nil {
		d.log.Debug("reload failed", "error", err)
		return
	}
	if _, err := FindResultsTable(page, d.cfg.PageTimeout); err != nil {
		d.log.Debug("table did not reattach after reload", "error", err)
	}
}

// Screenshot saves a diagnostic capture keyed by label. Best-effort: a
// screenshot failure is swallowed, never escalated.
func (d *Downloader) Screenshot(page *rod.Page, label string) {
	if page == nil {
		return
	}
	data, err := page.Timeout(10 * time.Second).Screenshot(false, nil)
	if err != nil {
		d.log.Debug("screenshot failed", "label", label, "error", err)
		return
	}
	name := "debug_" + sanitizeLabel(label) + ".png"
	if err := os.WriteFile(filepath.Join(d.shotDir, name), data, 0o644); err != nil {
		d.log.Debug("screenshot write failed", "label", label, "error", err)
	}
}

// dataRow returns the idx-th row that actually carries data cells.
func dataRow(table *rod.Element, idx int) (*rod.Element, error) {
	rows, err := table.Elements("tbody tr")
	if err != nil {
		return nil, fmt.Errorf("reading table rows: %w", err)
	}
	n := 0
	for _, row := range rows {
		cells, cerr := row.Elements("td")
		if cerr != nil || len(cells) == 0 {
			continue
		}
		if n == idx {
			return row, nil
		}
		n++
	}
	return nil, fmt.Errorf("row %d no longer present (rows=%d)", idx+1, n)
}

// clickTarget finds the first clickable descendant of the action cell,
// falling back to the cell itself.
func clickTarget(cell *rod.Element) *rod.Element {
	els, err := cell.Elements(clickableSelector)
	if err == nil && len(els) > 0 {
		return els[0]
	}
	return cell
}

var labelCleaner = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeLabel(label string) string {
	return strings.Trim(labelCleaner.ReplaceAllString(label, "_"), "_")
}
