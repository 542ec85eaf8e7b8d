package files

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// WriteMappingFile persists the run's file mappings as JSON next to the
// downloads, one array entry per processed document, failures included.
func (m *Manager) WriteMappingFile() (string, error) {
	if len(m.mappings) == 0 {
		return "", nil
	}
	path := filepath.Join(m.dir, "mappatura_"+time.Now().Format("20060102_150405")+".json")
	data, err := json.MarshalIndent(m.mappings, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing mapping file: %w", err)
	}
	return path, nil
}

// reportTagOrder fixes the section order of the report's per-tag groups.
var reportTagOrder = []string{"LAB", "PS", "DIMOSP", "SPEC", "DOC"}

// WriteReport renders the run summary: failed downloads first, then the
// filed documents grouped by tag with per-patient counts.
func (m *Manager) WriteReport() (string, error) {
	if len(m.mappings) == 0 {
		return "", nil
	}
	path := filepath.Join(m.dir, "report_"+time.Now().Format("20060102_150405")+".txt")

	var failed []Mapping
	byTag := make(map[string][]Mapping)
	for _, mp := range m.mappings {
		if !mp.Renamed {
			failed = append(failed, mp)
			continue
		}
		byTag[mp.Tag] = append(byTag[mp.Tag], mp)
	}

	var sb strings.Builder
	sb.WriteString("REPORT REFERTI SCARICATI\n")
	sb.WriteString("Data: " + time.Now().Format("02/01/2006 15:04") + "\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n\n")

	if len(failed) > 0 {
		sb.WriteString(fmt.Sprintf("DOWNLOAD FALLITI (%d)\n", len(failed)))
		for _, e := range failed {
			reason := e.Error
			if reason == "" {
				reason = "errore sconosciuto"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s) %s: %s\n",
				e.PatientName, e.CodiceFiscale, e.Tipologia, reason))
		}
		sb.WriteByte('\n')
	}

	renamed := 0
	for _, tag := range reportTagOrder {
		entries := byTag[tag]
		if len(entries) == 0 {
			continue
		}
		renamed += len(entries)
		sb.WriteString(fmt.Sprintf("%s (%d)\n", tag, len(entries)))
		counts := make(map[string]int)
		var order []string
		for _, e := range entries {
			key := fmt.Sprintf("%s (%s)", e.PatientName, e.CodiceFiscale)
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
		}
		sort.Strings(order)
		for _, key := range order {
			sb.WriteString(fmt.Sprintf("  %s: %d\n", key, counts[key]))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(fmt.Sprintf("Totale documenti: %d (scaricati %d, falliti %d)\n",
		len(m.mappings), renamed, len(failed)))

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
