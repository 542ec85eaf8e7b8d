// Package runner orchestrates a full retrieval run: mailbox in, browser
// work in the middle, renamed files and a report out.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/sisstools/fsefetch/cache"
	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
	"github.com/sisstools/fsefetch/portal"
)

// Mailbox is the notification source.
type Mailbox interface {
	Connect() error
	Close()
	FetchNotifications() ([]models.EmailRecord, error)
	Acknowledge(uid uint32) error
}

// Harvester drives the browser for one patient at a time.
type Harvester interface {
	Start(ctx context.Context) error
	Stop()
	Alive() bool
	WaitForLogin(ctx context.Context) error
	ProcessPatient(ctx context.Context, rec models.EmailRecord, criteria portal.Criteria) []models.DocumentResult
	ScanEnti(ctx context.Context, rec models.EmailRecord) ([]string, error)
}

// Renamer finalizes captured files, records failures for the report,
// and writes the run artifacts.
type Renamer interface {
	RenameDownload(rec models.EmailRecord, res models.DocumentResult) (string, error)
	RecordFailure(rec models.EmailRecord, res models.DocumentResult)
	WriteMappingFile() (string, error)
	WriteReport() (string, error)
}

// Runner executes the batch flow. Patients are processed strictly one at
// a time; the limiter enforces the politeness delay between them.
type Runner struct {
	cfg     *config.Config
	log     *slog.Logger
	mail    Mailbox
	harv    Harvester
	files   Renamer
	enti    *cache.Cache
	limiter *rate.Limiter
}

// New wires a runner from its collaborators.
func New(cfg *config.Config, mail Mailbox, harv Harvester, files Renamer, log *slog.Logger) *Runner {
	interval := cfg.Run.PatientInterval
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &Runner{
		cfg:     cfg,
		log:     log,
		mail:    mail,
		harv:    harv,
		files:   files,
		enti:    cache.New(cfg.Run.EnteCacheTTL),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run executes the full batch: fetch notifications, process each patient
// with latest-visit semantics, finalize files, write the report. A mail
// is acknowledged only when every one of its documents succeeded, so a
// partial failure is retried on the next run.
func (r *Runner) Run(ctx context.Context) (models.Summary, error) {
	var sum models.Summary

	if err := r.mail.Connect(); err != nil {
		return sum, err
	}
	defer r.mail.Close()

	records, err := r.mail.FetchNotifications()
	if err != nil {
		return sum, err
	}
	sum.EmailsFound = len(records)
	if len(records) == 0 {
		r.log.Info("nothing to do")
		return sum, nil
	}

	if err := r.ensureSession(ctx); err != nil {
		return sum, err
	}

	criteria := portal.Criteria{
		AllowedTypes: r.cfg.Run.AllowedTypes,
		LatestOnly:   true,
	}

	for i, rec := range records {
		if err := r.limiter.Wait(ctx); err != nil {
			r.log.Warn("interrupted by user", "remaining", len(records)-i)
			sum.Interrupted = true
			break
		}
		r.log.Info("processing patient",
			"n", i+1, "of", len(records), "patient", rec.CodiceFiscale, "name", rec.PatientName)

		results := r.harv.ProcessPatient(ctx, rec, criteria)
		ok := r.finalize(rec, results, &sum)

		if ctx.Err() != nil {
			r.log.Warn("interrupted by user", "remaining", len(records)-i-1)
			sum.Interrupted = true
			break
		}
		if ok {
			sum.EmailsOK++
			if err := r.mail.Acknowledge(rec.UID); err != nil {
				r.log.Warn("failed to acknowledge mail", "uid", rec.UID, "error", err)
			}
		} else {
			sum.EmailsSkipped++
			r.log.Warn("mail left unread for retry",
				"uid", rec.UID, "patient", rec.CodiceFiscale)
		}
	}

	r.writeArtifacts()
	r.writeSummary(sum)
	r.logSummary(sum)
	return sum, nil
}

// RunPatient processes a single patient outside the mail flow, with
// explicit filter criteria.
func (r *Runner) RunPatient(ctx context.Context, codiceFiscale string, criteria portal.Criteria) (models.Summary, error) {
	var sum models.Summary

	rec := models.EmailRecord{CodiceFiscale: codiceFiscale, PatientName: "SCONOSCIUTO"}
	if err := r.ensureSession(ctx); err != nil {
		return sum, err
	}

	results := r.harv.ProcessPatient(ctx, rec, criteria)
	r.finalize(rec, results, &sum)
	if ctx.Err() != nil {
		sum.Interrupted = true
	}

	r.writeArtifacts()
	r.writeSummary(sum)
	r.logSummary(sum)
	return sum, nil
}

// RunEnteScan lists the distinct facilities in a patient's results
// table, serving repeated lookups from the TTL cache.
func (r *Runner) RunEnteScan(ctx context.Context, codiceFiscale string) ([]string, error) {
	key := cache.Key(codiceFiscale)
	if enti, ok := r.enti.Get(key); ok {
		r.log.Debug("facility picklist served from cache", "patient", codiceFiscale)
		return enti, nil
	}

	rec := models.EmailRecord{CodiceFiscale: codiceFiscale, PatientName: "SCONOSCIUTO"}
	if err := r.ensureSession(ctx); err != nil {
		return nil, err
	}

	enti, err := r.harv.ScanEnti(ctx, rec)
	if err != nil {
		return nil, err
	}
	r.enti.Set(key, enti)
	return enti, nil
}

// ensureSession acquires the browser session and waits out the operator
// login, reusing a still-alive session from an earlier flow in the same
// process.
func (r *Runner) ensureSession(ctx context.Context) error {
	if r.harv.Alive() {
		r.log.Debug("reusing live browser session")
		return nil
	}
	if err := r.harv.Start(ctx); err != nil {
		return err
	}
	return r.harv.WaitForLogin(ctx)
}

// Close releases the browser session. Call once per process, after the
// last flow.
func (r *Runner) Close() {
	r.harv.Stop()
}

// finalize tallies one patient's results and moves successful captures to
// their final names. Returns true when every result is either a download
// that was filed or an intentional skip.
func (r *Runner) finalize(rec models.EmailRecord, results []models.DocumentResult, sum *models.Summary) bool {
	ok := len(results) > 0
	for _, res := range results {
		switch {
		case res.Skipped:
			sum.DocsSkipped++
		case res.Downloaded():
			sum.DocsDownloaded++
			if _, err := r.files.RenameDownload(rec, res); err != nil {
				r.log.Error("failed to file document",
					"patient", rec.CodiceFiscale, "tipologia", res.Tipologia, "error", err)
				ok = false
			} else {
				sum.DocsRenamed++
			}
		default:
			sum.DocsFailed++
			r.files.RecordFailure(rec, res)
			ok = false
		}
	}
	return ok
}

func (r *Runner) writeArtifacts() {
	if path, err := r.files.WriteMappingFile(); err != nil {
		r.log.Warn("failed to write mapping file", "error", err)
	} else if path != "" {
		r.log.Info("mapping file written", "path", path)
	}
	if path, err := r.files.WriteReport(); err != nil {
		r.log.Warn("failed to write report", "error", err)
	} else if path != "" {
		r.log.Info("report written", "path", path)
	}
}

// writeSummary persists the run accounting next to the logs.
func (r *Runner) writeSummary(sum models.Summary) {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.cfg.Paths.LogDir,
		"summary_"+time.Now().Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.log.Warn("failed to write run summary", "error", err)
	}
}

func (r *Runner) logSummary(sum models.Summary) {
	r.log.Info("run complete",
		"emailsFound", sum.EmailsFound,
		"emailsOK", sum.EmailsOK,
		"emailsSkipped", sum.EmailsSkipped,
		"downloaded", sum.DocsDownloaded,
		"skipped", sum.DocsSkipped,
		"failed", sum.DocsFailed,
		"renamed", sum.DocsRenamed,
		"interrupted", sum.Interrupted,
	)
}
