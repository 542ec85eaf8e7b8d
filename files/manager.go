// Package files moves captured downloads to their final names and keeps
// the mapping and report artifacts of a run.
package files

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sisstools/fsefetch/models"
)

// tipologiaTags maps document-type keywords to the short tag used in the
// final filename. First match wins, in declaration order; any remaining
// report subtype falls through to the generic SPEC tag.
var tipologiaTags = []struct {
	keyword string
	tag     string
}{
	{"LABORATORIO", "LAB"},
	{"PRONTO SOCCORSO", "PS"},
	{"DIMISSIONE", "DIMOSP"},
}

const (
	refertoTag = "SPEC"
	defaultTag = "DOC"
)

// Mapping records one processed document for the end-of-run artifacts.
// Failed documents are recorded too, with Renamed false and the error
// text, so the report can list them.
type Mapping struct {
	CodiceFiscale string `json:"codice_fiscale"`
	PatientName   string `json:"patient_name"`
	Tipologia     string `json:"tipologia"`
	Tag           string `json:"tag"`
	FileName      string `json:"file_name,omitempty"`
	Renamed       bool   `json:"renamed"`
	Error         string `json:"error,omitempty"`
}

// Manager renames staged downloads into the final download directory and
// accumulates the run's mappings.
type Manager struct {
	dir      string
	log      *slog.Logger
	mappings []Mapping
}

// NewManager builds a manager writing into dir.
func NewManager(dir string, log *slog.Logger) *Manager {
	return &Manager{dir: dir, log: log}
}

// TipologiaTag classifies a document type into its filename tag. Any
// type starting with the generic report prefix that matched no specific
// keyword is tagged SPEC.
func TipologiaTag(tipologia string) string {
	t := strings.ToUpper(strings.TrimSpace(tipologia))
	for _, entry := range tipologiaTags {
		if strings.Contains(t, entry.keyword) {
			return entry.tag
		}
	}
	if strings.HasPrefix(t, "REFERTO") {
		return refertoTag
	}
	return defaultTag
}

// BuildFilename composes the final name: CODICEFISCALE_COGNOME-NOME_TAG.ext.
func BuildFilename(codiceFiscale, patientName, tipologia, ext string) string {
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("%s_%s_%s%s",
		sanitize(codiceFiscale), sanitize(patientName), TipologiaTag(tipologia), ext)
}

// RenameDownload moves a staged capture to its final name, resolving
// collisions with a numeric counter inserted before the tag. A rename
// failure is still recorded in the mappings.
func (m *Manager) RenameDownload(rec models.EmailRecord, res models.DocumentResult) (string, error) {
	if !res.Downloaded() {
		return "", fmt.Errorf("no file to rename for tipologia %q", res.Tipologia)
	}
	name := BuildFilename(rec.CodiceFiscale, rec.PatientName, res.Tipologia, filepath.Ext(res.DownloadPath))
	dest := m.resolveCollision(filepath.Join(m.dir, name))
	if err := os.Rename(res.DownloadPath, dest); err != nil {
		m.mappings = append(m.mappings, Mapping{
			CodiceFiscale: rec.CodiceFiscale,
			PatientName:   rec.PatientName,
			Tipologia:     res.Tipologia,
			Tag:           TipologiaTag(res.Tipologia),
			Error:         err.Error(),
		})
		return "", fmt.Errorf("moving %s to %s: %w", res.DownloadPath, dest, err)
	}
	m.log.Info("document filed",
		"patient", rec.CodiceFiscale, "tipologia", res.Tipologia, "file", filepath.Base(dest))
	m.mappings = append(m.mappings, Mapping{
		CodiceFiscale: rec.CodiceFiscale,
		PatientName:   rec.PatientName,
		Tipologia:     res.Tipologia,
		Tag:           TipologiaTag(res.Tipologia),
		FileName:      filepath.Base(dest),
		Renamed:       true,
	})
	return dest, nil
}

// RecordFailure registers a document that never produced a file, so the
// report's failed section can list it.
func (m *Manager) RecordFailure(rec models.EmailRecord, res models.DocumentResult) {
	m.mappings = append(m.mappings, Mapping{
		CodiceFiscale: rec.CodiceFiscale,
		PatientName:   rec.PatientName,
		Tipologia:     res.Tipologia,
		Tag:           TipologiaTag(res.Tipologia),
		Error:         res.Err,
	})
}

// Mappings returns the run's accumulated document mappings.
func (m *Manager) Mappings() []Mapping {
	return m.mappings
}

// resolveCollision inserts _1, _2, ... before the tag segment until the
// path is free: CF_NOME_LAB.pdf, CF_NOME_1_LAB.pdf, CF_NOME_2_LAB.pdf.
func (m *Manager) resolveCollision(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	base, tag := stem, ""
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		base, tag = stem[:i], stem[i:]
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s%s", base, i, tag, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// sanitize makes a string safe for filenames: spaces become hyphens,
// everything outside the safe set is dropped.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeChars.ReplaceAllString(s, "")
	if s == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(s)
}
