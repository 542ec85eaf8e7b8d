package portal

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/go-rod/rod"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

func testDownloader(t *testing.T) *Downloader {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDownloader(config.PortalConfig{}, t.TempDir(), t.TempDir(), log)
}

func TestDownloadRow_FirstAttemptSucceeds(t *testing.T) {
	d := testDownloader(t)

	attempts := 0
	d.attemptFn = func(*rod.Page, models.TableSchema, models.RowRecord) (string, error) {
		attempts++
		return "/tmp/row001_abc.pdf", nil
	}
	d.recoverFn = func(*rod.Page) { t.Error("recovery must not run on success") }
	d.captureFn = func(*rod.Page, string) { t.Error("screenshot must not run on success") }

	res := d.DownloadRow(nil, models.TableSchema{}, models.RowRecord{Tipologia: "REFERTO"}, "x")
	if !res.Downloaded() {
		t.Fatalf("expected success, got %+v", res)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDownloadRow_RetriesOnceAfterRecovery(t *testing.T) {
	d := testDownloader(t)

	attempts, recoveries := 0, 0
	d.attemptFn = func(*rod.Page, models.TableSchema, models.RowRecord) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("stale element")
		}
		return "/tmp/row001_abc.pdf", nil
	}
	d.recoverFn = func(*rod.Page) { recoveries++ }
	d.captureFn = func(*rod.Page, string) { t.Error("screenshot must not run when the retry succeeds") }

	res := d.DownloadRow(nil, models.TableSchema{}, models.RowRecord{Tipologia: "REFERTO"}, "x")
	if !res.Downloaded() {
		t.Fatalf("expected success on retry, got %+v", res)
	}
	if attempts != 2 || recoveries != 1 {
		t.Errorf("attempts=%d recoveries=%d, want 2/1", attempts, recoveries)
	}
}

func TestDownloadRow_NeverAThirdAttempt(t *testing.T) {
	d := testDownloader(t)

	attempts := 0
	captured := false
	d.attemptFn = func(*rod.Page, models.TableSchema, models.RowRecord) (string, error) {
		attempts++
		return "", errors.New("download did not start")
	}
	d.recoverFn = func(*rod.Page) {}
	d.captureFn = func(*rod.Page, string) { captured = true }

	res := d.DownloadRow(nil, models.TableSchema{}, models.RowRecord{Index: 2, Tipologia: "REFERTO"}, "x")
	if res.Downloaded() || res.Skipped {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if res.Err == "" {
		t.Error("failure must carry the error text")
	}
	if res.Tipologia != "REFERTO" {
		t.Errorf("failure must keep the row tipologia, got %q", res.Tipologia)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want exactly 2", attempts)
	}
	if !captured {
		t.Error("permanent failure should produce a diagnostic screenshot")
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"RSSMRA80A01F205X", "RSSMRA80A01F205X"},
		{"a b/c", "a_b_c"},
		{"__x__", "x"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
