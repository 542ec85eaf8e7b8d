package files

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sisstools/fsefetch/models"
)

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(dir, log), dir
}

func stageFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTipologiaTag(t *testing.T) {
	tests := []struct {
		tipologia string
		want      string
	}{
		{"REFERTO DI LABORATORIO ANALISI", "LAB"},
		{"VERBALE DI PRONTO SOCCORSO", "PS"},
		{"LETTERA DI DIMISSIONE OSPEDALIERA", "DIMOSP"},
		{"REFERTO SPECIALISTICO", "SPEC"},
		{"referto specialistica ambulatoriale", "SPEC"},
		{"REFERTO", "SPEC"},
		{"REFERTO CARDIOLOGIA", "SPEC"},
		{"CERTIFICATO VACCINALE", "DOC"},
		{"", "DOC"},
	}
	for _, tt := range tests {
		if got := TipologiaTag(tt.tipologia); got != tt.want {
			t.Errorf("TipologiaTag(%q) = %q, want %q", tt.tipologia, got, tt.want)
		}
	}
}

func TestBuildFilename(t *testing.T) {
	got := BuildFilename("RSSMRA80A01F205X", "MARIO ROSSI", "REFERTO SPECIALISTICO", ".pdf")
	want := "RSSMRA80A01F205X_MARIO-ROSSI_SPEC.pdf"
	if got != want {
		t.Errorf("BuildFilename = %q, want %q", got, want)
	}
}

func TestBuildFilename_SanitizesUnsafeNames(t *testing.T) {
	got := BuildFilename("RSSMRA80A01F205X", `D'ANGELO / O'NEILL`, "X", "")
	if got != "RSSMRA80A01F205X_DANGELO--ONEILL_DOC.pdf" {
		t.Errorf("unexpected filename: %q", got)
	}
}

func TestRenameDownload(t *testing.T) {
	m, dir := testManager(t)
	staged := stageFile(t, dir, "row001_guid.pdf")

	rec := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X", PatientName: "MARIO ROSSI"}
	res := models.DocumentResult{Tipologia: "REFERTO DI LABORATORIO", DownloadPath: staged}

	dest, err := m.RenameDownload(rec, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(dest) != "RSSMRA80A01F205X_MARIO-ROSSI_LAB.pdf" {
		t.Errorf("unexpected destination: %q", dest)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged file should have been moved")
	}
	if len(m.Mappings()) != 1 {
		t.Fatalf("expected one mapping, got %d", len(m.Mappings()))
	}
}

func TestRenameDownload_CollisionCounter(t *testing.T) {
	m, dir := testManager(t)
	rec := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X", PatientName: "MARIO ROSSI"}

	first := stageFile(t, dir, "row001_a.pdf")
	second := stageFile(t, dir, "row002_b.pdf")

	d1, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "REFERTO", DownloadPath: first})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "REFERTO", DownloadPath: second})
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Fatalf("collision not resolved: both files at %q", d1)
	}
	if filepath.Base(d1) != "RSSMRA80A01F205X_MARIO-ROSSI_SPEC.pdf" {
		t.Errorf("unexpected first name: %q", filepath.Base(d1))
	}
	if filepath.Base(d2) != "RSSMRA80A01F205X_MARIO-ROSSI_1_SPEC.pdf" {
		t.Errorf("the counter must sit before the tag, got %q", filepath.Base(d2))
	}

	third := stageFile(t, dir, "row003_c.pdf")
	d3, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "REFERTO", DownloadPath: third})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(d3) != "RSSMRA80A01F205X_MARIO-ROSSI_2_SPEC.pdf" {
		t.Errorf("unexpected third name: %q", filepath.Base(d3))
	}
}

func TestRenameDownload_RejectsNonDownloads(t *testing.T) {
	m, _ := testManager(t)
	rec := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X"}

	if _, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "X", Skipped: true}); err == nil {
		t.Error("skipped result must not be renamed")
	}
	if _, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "X", Err: "boom"}); err == nil {
		t.Error("failed result must not be renamed")
	}
}

func TestWriteArtifacts(t *testing.T) {
	m, dir := testManager(t)
	staged := stageFile(t, dir, "row001_a.pdf")
	rec := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X", PatientName: "MARIO ROSSI"}
	if _, err := m.RenameDownload(rec, models.DocumentResult{Tipologia: "REFERTO", DownloadPath: staged}); err != nil {
		t.Fatal(err)
	}

	mapping, err := m.WriteMappingFile()
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	report, err := m.WriteReport()
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, p := range []string{mapping, report} {
		if p == "" {
			t.Fatal("expected artifact paths")
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}
}

func TestRecordFailure_TrackedInMappings(t *testing.T) {
	m, _ := testManager(t)
	rec := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X", PatientName: "MARIO ROSSI"}
	m.RecordFailure(rec, models.DocumentResult{Tipologia: "REFERTO DI LABORATORIO", Err: "download timeout"})

	mappings := m.Mappings()
	if len(mappings) != 1 {
		t.Fatalf("expected one mapping, got %d", len(mappings))
	}
	mp := mappings[0]
	if mp.Renamed {
		t.Error("a failed document must not be marked renamed")
	}
	if mp.Error != "download timeout" {
		t.Errorf("Error = %q", mp.Error)
	}
	if mp.Tag != "LAB" {
		t.Errorf("Tag = %q, want LAB", mp.Tag)
	}
}

func TestWriteReport_FailuresFirstThenTagGroups(t *testing.T) {
	m, dir := testManager(t)
	rossi := models.EmailRecord{CodiceFiscale: "RSSMRA80A01F205X", PatientName: "MARIO ROSSI"}
	bianchi := models.EmailRecord{CodiceFiscale: "BNCNNA90B42F205Y", PatientName: "ANNA BIANCHI"}

	for i, res := range []models.DocumentResult{
		{Tipologia: "REFERTO DI LABORATORIO"},
		{Tipologia: "REFERTO DI LABORATORIO"},
		{Tipologia: "REFERTO SPECIALISTICO"},
	} {
		res.DownloadPath = stageFile(t, dir, fmt.Sprintf("row%03d.pdf", i))
		if _, err := m.RenameDownload(rossi, res); err != nil {
			t.Fatal(err)
		}
	}
	m.RecordFailure(bianchi, models.DocumentResult{Tipologia: "VERBALE DI PRONTO SOCCORSO", Err: "click timeout"})

	path, err := m.WriteReport()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	report := string(data)

	if !strings.Contains(report, "DOWNLOAD FALLITI (1)") {
		t.Errorf("missing failed section:\n%s", report)
	}
	if !strings.Contains(report, "ANNA BIANCHI (BNCNNA90B42F205Y) VERBALE DI PRONTO SOCCORSO: click timeout") {
		t.Errorf("failed entry not rendered:\n%s", report)
	}
	failedIdx := strings.Index(report, "DOWNLOAD FALLITI")
	labIdx := strings.Index(report, "LAB (2)")
	if labIdx < 0 {
		t.Fatalf("missing LAB group:\n%s", report)
	}
	if failedIdx > labIdx {
		t.Error("failed section must come before the tag groups")
	}
	if !strings.Contains(report, "MARIO ROSSI (RSSMRA80A01F205X): 2") {
		t.Errorf("per-patient count missing in LAB group:\n%s", report)
	}
	if !strings.Contains(report, "SPEC (1)") {
		t.Errorf("missing SPEC group:\n%s", report)
	}
	if !strings.Contains(report, "Totale documenti: 4 (scaricati 3, falliti 1)") {
		t.Errorf("unexpected totals line:\n%s", report)
	}
}

func TestWriteArtifacts_EmptyRunWritesNothing(t *testing.T) {
	m, _ := testManager(t)
	if p, err := m.WriteMappingFile(); err != nil || p != "" {
		t.Errorf("empty run mapping: %q, %v", p, err)
	}
	if p, err := m.WriteReport(); err != nil || p != "" {
		t.Errorf("empty run report: %q, %v", p, err)
	}
}
