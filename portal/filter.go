package portal

import (
	"strings"
	"time"

	"github.com/sisstools/fsefetch/models"
)

// GenericReferto is the allow-list category matching every report subtype:
// the portal distinguishes them by suffix ("REFERTO SPECIALISTICO",
// "REFERTO DI LABORATORIO", ...), so listing the generic category accepts
// any type text starting with it.
const GenericReferto = "REFERTO"

// excludedTypes are rows with no retrievable document behind them; they
// are always skipped, whatever the allow-list says.
var excludedTypes = map[string]bool{
	"NON DISPONIBILE": true,
	"PRESTAZIONI DI LABORATORIO ANALISI CHIMICHE": true,
}

// Criteria is the composable filter chain. Every criterion is
// independently skippable: an empty value disables that filter.
type Criteria struct {
	// AllowedTypes is the document-type allow-list. Empty allows all
	// types except the fixed exclusions.
	AllowedTypes []string

	// Ente restricts rows to facilities containing this substring,
	// case-insensitive.
	Ente string

	// DateFrom and DateTo bound the row date, inclusive on both ends.
	DateFrom *time.Time
	DateTo   *time.Time

	// LatestOnly restricts the scan to the most recent date present.
	// Rows arrive newest-first from the portal, so scanning stops at the
	// first row whose date differs from the first row's date. Used for
	// "latest visit only" semantics when no explicit range is given.
	LatestOnly bool
}

// Decision pairs a scanned row with its filter outcome. Skipped rows are
// still reported, never silently dropped.
type Decision struct {
	Row      models.RowRecord
	Download bool
	Reason   string // set when Download is false
}

// Apply runs the filter chain over the scan-phase snapshot, in table
// order.
func Apply(rows []models.RowRecord, c Criteria) []Decision {
	out := make([]Decision, 0, len(rows))
	var latest string
	for i, row := range rows {
		if c.LatestOnly {
			if i == 0 {
				latest = row.Date
			} else if row.Date != latest {
				break // first older visit: remaining rows are not evaluated
			}
		}
		out = append(out, decide(row, c))
	}
	return out
}

func decide(row models.RowRecord, c Criteria) Decision {
	t := strings.ToUpper(strings.TrimSpace(row.Tipologia))
	if excludedTypes[t] {
		return Decision{Row: row, Reason: "tipologia excluded by policy"}
	}
	if !TypeAllowed(row.Tipologia, c.AllowedTypes) {
		return Decision{Row: row, Reason: "tipologia not in allow-list"}
	}
	if c.Ente != "" && !strings.Contains(strings.ToLower(row.Ente), strings.ToLower(c.Ente)) {
		return Decision{Row: row, Reason: "ente does not match filter"}
	}
	if c.DateFrom != nil || c.DateTo != nil {
		d, ok := ParseDate(row.Date)
		if !ok {
			return Decision{Row: row, Reason: "unparseable date: " + row.Date}
		}
		if c.DateFrom != nil && d.Before(*c.DateFrom) {
			return Decision{Row: row, Reason: "before date range"}
		}
		if c.DateTo != nil && d.After(*c.DateTo) {
			return Decision{Row: row, Reason: "after date range"}
		}
	}
	return Decision{Row: row, Download: true}
}

// TypeAllowed reports whether a document type passes the allow-list: an
// exact case-insensitive match, or the generic report prefix rule.
func TypeAllowed(tipologia string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	t := strings.ToUpper(strings.TrimSpace(tipologia))
	for _, a := range allowed {
		au := strings.ToUpper(strings.TrimSpace(a))
		if t == au {
			return true
		}
		if au == GenericReferto && strings.HasPrefix(t, GenericReferto) {
			return true
		}
	}
	return false
}

// dateLayouts are the locale formats the portal has been seen rendering.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
}

// ParseDate parses a portal date cell. The boolean is false when no known
// layout matches.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
