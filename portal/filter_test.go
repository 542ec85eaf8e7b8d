package portal

import (
	"testing"
	"time"

	"github.com/sisstools/fsefetch/models"
)

func TestTypeAllowed_EmptyListAllowsAll(t *testing.T) {
	if !TypeAllowed("VERBALE DI PRONTO SOCCORSO", nil) {
		t.Error("empty allow-list should allow every type")
	}
}

func TestTypeAllowed_ExactMatchCaseInsensitive(t *testing.T) {
	if !TypeAllowed("verbale di pronto soccorso", []string{"VERBALE DI PRONTO SOCCORSO"}) {
		t.Error("exact match should be case-insensitive")
	}
	if TypeAllowed("LETTERA DI DIMISSIONE", []string{"VERBALE DI PRONTO SOCCORSO"}) {
		t.Error("non-matching type should be rejected")
	}
}

func TestTypeAllowed_GenericRefertoPrefix(t *testing.T) {
	allowed := []string{GenericReferto}
	for _, tipologia := range []string{
		"REFERTO",
		"REFERTO SPECIALISTICO",
		"REFERTO DI LABORATORIO ANALISI",
		"referto ambulatoriale",
	} {
		if !TypeAllowed(tipologia, allowed) {
			t.Errorf("generic REFERTO should accept %q", tipologia)
		}
	}
	if TypeAllowed("VERBALE DI PRONTO SOCCORSO", allowed) {
		t.Error("generic REFERTO must not accept non-report types")
	}
}

func TestApply_ExcludedTypesAlwaysSkipped(t *testing.T) {
	rows := []models.RowRecord{
		{Index: 0, Date: "10/05/2024", Tipologia: "NON DISPONIBILE"},
		{Index: 1, Date: "10/05/2024", Tipologia: "Prestazioni di Laboratorio Analisi Chimiche"},
	}
	// Listing an excluded type explicitly must not resurrect it.
	decisions := Apply(rows, Criteria{AllowedTypes: []string{"NON DISPONIBILE"}})
	for _, dec := range decisions {
		if dec.Download {
			t.Errorf("excluded type %q was allowed through", dec.Row.Tipologia)
		}
	}
}

func TestApply_LatestVisitOnly(t *testing.T) {
	rows := []models.RowRecord{
		{Index: 0, Date: "10/05/2024", Tipologia: "REFERTO SPECIALISTICO"},
		{Index: 1, Date: "10/05/2024", Tipologia: "NON DISPONIBILE"},
		{Index: 2, Date: "09/05/2024", Tipologia: "REFERTO DI LABORATORIO"},
	}
	decisions := Apply(rows, Criteria{AllowedTypes: []string{"REFERTO"}, LatestOnly: true})

	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions (older visit cut off), got %d", len(decisions))
	}
	if !decisions[0].Download {
		t.Errorf("latest-visit report should download, got reason %q", decisions[0].Reason)
	}
	if decisions[1].Download {
		t.Error("NON DISPONIBILE row should be skipped")
	}
}

func TestApply_DateRangeInclusive(t *testing.T) {
	from := time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	rows := []models.RowRecord{
		{Index: 0, Date: "08/05/2024", Tipologia: "REFERTO"},
		{Index: 1, Date: "09/05/2024", Tipologia: "REFERTO"},
		{Index: 2, Date: "10/05/2024", Tipologia: "REFERTO"},
		{Index: 3, Date: "11/05/2024", Tipologia: "REFERTO"},
	}
	decisions := Apply(rows, Criteria{DateFrom: &from, DateTo: &to})

	want := []bool{false, true, true, false}
	for i, dec := range decisions {
		if dec.Download != want[i] {
			t.Errorf("row %d (%s): download=%v, want %v (reason %q)",
				i, dec.Row.Date, dec.Download, want[i], dec.Reason)
		}
	}
}

func TestApply_EnteSubstringMatch(t *testing.T) {
	rows := []models.RowRecord{
		{Index: 0, Date: "10/05/2024", Tipologia: "REFERTO", Ente: "ASST Grande Ospedale Metropolitano Niguarda"},
		{Index: 1, Date: "10/05/2024", Tipologia: "REFERTO", Ente: "IRCCS Policlinico San Donato"},
	}
	decisions := Apply(rows, Criteria{Ente: "niguarda"})

	if !decisions[0].Download {
		t.Errorf("substring match should be case-insensitive, got reason %q", decisions[0].Reason)
	}
	if decisions[1].Download {
		t.Error("non-matching facility should be skipped")
	}
}

func TestApply_UnparseableDateWithRange(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.RowRecord{{Index: 0, Date: "oggi", Tipologia: "REFERTO"}}
	decisions := Apply(rows, Criteria{DateFrom: &from})

	if decisions[0].Download {
		t.Error("row with unparseable date must be skipped when a range is set")
	}
	if decisions[0].Reason == "" {
		t.Error("skip reason should be reported")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"10/05/2024", true, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"2/1/2024", true, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"10-05-2024", true, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"2024-05-10", true, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"  10/05/2024  ", true, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"", false, time.Time{}},
		{"non una data", false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q): ok=%v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
