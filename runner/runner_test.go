package runner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
	"github.com/sisstools/fsefetch/portal"
)

type fakeMailbox struct {
	records []models.EmailRecord
	acked   []uint32
}

func (f *fakeMailbox) Connect() error { return nil }
func (f *fakeMailbox) Close()         {}
func (f *fakeMailbox) FetchNotifications() ([]models.EmailRecord, error) {
	return f.records, nil
}
func (f *fakeMailbox) Acknowledge(uid uint32) error {
	f.acked = append(f.acked, uid)
	return nil
}

type fakeHarvester struct {
	results map[string][]models.DocumentResult
	enti    []string
	cancel  context.CancelFunc // when set, fired during the first patient
}

func (f *fakeHarvester) Start(context.Context) error        { return nil }
func (f *fakeHarvester) Stop()                              {}
func (f *fakeHarvester) Alive() bool                        { return false }
func (f *fakeHarvester) WaitForLogin(context.Context) error { return nil }
func (f *fakeHarvester) ProcessPatient(ctx context.Context, rec models.EmailRecord, _ portal.Criteria) []models.DocumentResult {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return f.results[rec.CodiceFiscale]
}
func (f *fakeHarvester) ScanEnti(context.Context, models.EmailRecord) ([]string, error) {
	return f.enti, nil
}

type fakeRenamer struct {
	renamed  int
	failures []models.DocumentResult
	fail     bool
}

func (f *fakeRenamer) RenameDownload(models.EmailRecord, models.DocumentResult) (string, error) {
	if f.fail {
		return "", context.DeadlineExceeded
	}
	f.renamed++
	return "/downloads/x.pdf", nil
}
func (f *fakeRenamer) RecordFailure(_ models.EmailRecord, res models.DocumentResult) {
	f.failures = append(f.failures, res)
}
func (f *fakeRenamer) WriteMappingFile() (string, error) { return "", nil }
func (f *fakeRenamer) WriteReport() (string, error)      { return "", nil }

func testRunner(t *testing.T, mail *fakeMailbox, harv *fakeHarvester, files *fakeRenamer) *Runner {
	t.Helper()
	cfg := &config.Config{
		Run:   config.RunConfig{PatientInterval: 0, EnteCacheTTL: time.Hour},
		Paths: config.PathsConfig{LogDir: t.TempDir()},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, mail, harv, files, log)
}

func TestRun_AcknowledgesOnlyFullyProcessedMail(t *testing.T) {
	mail := &fakeMailbox{records: []models.EmailRecord{
		{UID: 1, CodiceFiscale: "AAAAAA80A01F205A"},
		{UID: 2, CodiceFiscale: "BBBBBB80A01F205B"},
	}}
	harv := &fakeHarvester{results: map[string][]models.DocumentResult{
		"AAAAAA80A01F205A": {
			{Tipologia: "REFERTO", DownloadPath: "/tmp/a.pdf"},
			{Tipologia: "NON DISPONIBILE", Skipped: true},
		},
		"BBBBBB80A01F205B": {
			{Tipologia: "REFERTO", DownloadPath: "/tmp/b.pdf"},
			{Tipologia: "REFERTO", Err: "download did not start"},
		},
	}}
	files := &fakeRenamer{}

	sum, err := testRunner(t, mail, harv, files).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mail.acked) != 1 || mail.acked[0] != 1 {
		t.Errorf("acked = %v, want only uid 1", mail.acked)
	}
	if sum.EmailsOK != 1 || sum.EmailsSkipped != 1 {
		t.Errorf("EmailsOK=%d EmailsSkipped=%d, want 1/1", sum.EmailsOK, sum.EmailsSkipped)
	}
	if sum.DocsDownloaded != 2 || sum.DocsSkipped != 1 || sum.DocsFailed != 1 {
		t.Errorf("docs tally = %+v", sum)
	}
	if sum.DocsRenamed != 2 || files.renamed != 2 {
		t.Errorf("DocsRenamed=%d renamed=%d, want 2/2", sum.DocsRenamed, files.renamed)
	}
	if len(files.failures) != 1 || files.failures[0].Err != "download did not start" {
		t.Errorf("failed document must be recorded for the report, got %+v", files.failures)
	}
}

func TestRun_RenameFailureBlocksAcknowledge(t *testing.T) {
	mail := &fakeMailbox{records: []models.EmailRecord{
		{UID: 1, CodiceFiscale: "AAAAAA80A01F205A"},
	}}
	harv := &fakeHarvester{results: map[string][]models.DocumentResult{
		"AAAAAA80A01F205A": {{Tipologia: "REFERTO", DownloadPath: "/tmp/a.pdf"}},
	}}

	sum, err := testRunner(t, mail, harv, &fakeRenamer{fail: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mail.acked) != 0 {
		t.Errorf("mail with unfiled document must stay unread, acked %v", mail.acked)
	}
	if sum.EmailsSkipped != 1 {
		t.Errorf("EmailsSkipped = %d, want 1", sum.EmailsSkipped)
	}
}

func TestRun_EmptyResultsBlocksAcknowledge(t *testing.T) {
	mail := &fakeMailbox{records: []models.EmailRecord{
		{UID: 1, CodiceFiscale: "AAAAAA80A01F205A"},
	}}
	harv := &fakeHarvester{results: map[string][]models.DocumentResult{}}

	_, err := testRunner(t, mail, harv, &fakeRenamer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mail.acked) != 0 {
		t.Errorf("patient with no results must stay unread, acked %v", mail.acked)
	}
}

func TestRun_InterruptionStopsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mail := &fakeMailbox{records: []models.EmailRecord{
		{UID: 1, CodiceFiscale: "AAAAAA80A01F205A"},
		{UID: 2, CodiceFiscale: "BBBBBB80A01F205B"},
	}}
	harv := &fakeHarvester{
		cancel: cancel,
		results: map[string][]models.DocumentResult{
			"AAAAAA80A01F205A": {{Tipologia: "REFERTO", DownloadPath: "/tmp/a.pdf"}},
			"BBBBBB80A01F205B": {{Tipologia: "REFERTO", DownloadPath: "/tmp/b.pdf"}},
		},
	}
	files := &fakeRenamer{}

	sum, err := testRunner(t, mail, harv, files).Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Interrupted {
		t.Error("summary must record the interruption")
	}
	if len(mail.acked) != 0 {
		t.Errorf("interrupted run must not acknowledge mail, acked %v", mail.acked)
	}
	// The first patient's capture is still filed, never discarded.
	if files.renamed != 1 {
		t.Errorf("renamed = %d, want 1", files.renamed)
	}
}

func TestRun_NoMailShortCircuits(t *testing.T) {
	mail := &fakeMailbox{}
	sum, err := testRunner(t, mail, &fakeHarvester{}, &fakeRenamer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.EmailsFound != 0 || sum.Interrupted {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRunEnteScan_SecondLookupServedFromCache(t *testing.T) {
	harv := &fakeHarvester{enti: []string{"ASST Niguarda", "San Raffaele"}}
	r := testRunner(t, &fakeMailbox{}, harv, &fakeRenamer{})

	first, err := r.RunEnteScan(context.Background(), "aaaaaa80a01f205a")
	if err != nil {
		t.Fatal(err)
	}
	harv.enti = nil // a second scan would now return nothing
	second, err := r.RunEnteScan(context.Background(), "AAAAAA80A01F205A")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("picklists: first=%v second=%v", first, second)
	}
}
