package portal

import (
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/sisstools/fsefetch/models"
)

// Header keyword sets for schema resolution. Classification is by
// substring; the first header matching a set claims that column. The
// sets are scanned independently, so one header may satisfy several.
var (
	dateKeywords   = []string{"DATA"}
	typeKeywords   = []string{"TIPOLOGIA"}
	enteKeywords   = []string{"ENTE", "STRUTTURA"}
	actionKeywords = []string{"VISUALIZZA"}
)

// headerSignature identifies the results table among the other tables the
// page may render: it is the one carrying the document-type header.
const headerSignature = "TIPOLOGIA"

// FindResultsTable locates the results table by its header signature,
// polling until the SPA has rendered it or the bound elapses. Structural
// position is never trusted.
func FindResultsTable(page *rod.Page, timeout time.Duration) (*rod.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		tables, err := page.Elements("table")
		if err == nil {
			for _, t := range tables {
				headers, herr := headerTexts(t)
				if herr != nil {
					continue
				}
				for _, h := range headers {
					if strings.Contains(strings.ToUpper(h), headerSignature) {
						return t, nil
					}
				}
			}
		}
		if time.Now().After(deadline) {
			return nil, models.NewProcError(models.ErrCodeStructure,
				"results table not found on page", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func headerTexts(table *rod.Element) ([]string, error) {
	cells, err := table.Elements("th")
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		cells, err = table.Elements("thead td")
		if err != nil {
			return nil, err
		}
	}
	texts := make([]string, 0, len(cells))
	for _, c := range cells {
		txt, terr := c.Text()
		if terr != nil {
			txt = ""
		}
		texts = append(texts, strings.TrimSpace(txt))
	}
	return texts, nil
}

// ResolveSchema maps header texts to column indices. The document-type
// column is mandatory; every other column degrades gracefully to -1,
// which disables the dependent filter.
func ResolveSchema(headers []string) (models.TableSchema, error) {
	schema := models.TableSchema{DateCol: -1, TypeCol: -1, EnteCol: -1, ActionCol: -1}
	for i, h := range headers {
		u := strings.ToUpper(h)
		if schema.TypeCol < 0 && containsAny(u, typeKeywords) {
			schema.TypeCol = i
		}
		if schema.DateCol < 0 && containsAny(u, dateKeywords) {
			schema.DateCol = i
		}
		if schema.EnteCol < 0 && containsAny(u, enteKeywords) {
			schema.EnteCol = i
		}
		if schema.ActionCol < 0 && containsAny(u, actionKeywords) {
			schema.ActionCol = i
		}
	}
	if schema.TypeCol < 0 {
		return schema, models.NewProcError(models.ErrCodeStructure,
			"document-type column not found in results table header", nil)
	}
	return schema, nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ScanRows snapshots every data row before any filtering or downloading,
// so later decisions are independent of live page state. Malformed rows
// (fewer cells than the type column needs) are dropped, not fatal.
func ScanRows(table *rod.Element, schema models.TableSchema) ([]models.RowRecord, error) {
	rows, err := table.Elements("tbody tr")
	if err != nil {
		return nil, models.NewProcError(models.ErrCodeStructure,
			"failed to read table rows", err)
	}
	records := make([]models.RowRecord, 0, len(rows))
	idx := 0
	for _, row := range rows {
		cells, cerr := row.Elements("td")
		if cerr != nil || len(cells) == 0 {
			continue // header or decorative row
		}
		rec, ok := buildRecord(idx, cellTexts(cells), schema)
		idx++
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// buildRecord assembles one RowRecord from the cell texts at the resolved
// column indices. Returns false for a row too short to carry a type cell.
func buildRecord(index int, texts []string, schema models.TableSchema) (models.RowRecord, bool) {
	if schema.TypeCol >= len(texts) {
		return models.RowRecord{}, false
	}
	rec := models.RowRecord{
		Index:     index,
		Tipologia: texts[schema.TypeCol],
	}
	if schema.DateCol >= 0 && schema.DateCol < len(texts) {
		rec.Date = texts[schema.DateCol]
	}
	if schema.EnteCol >= 0 && schema.EnteCol < len(texts) {
		rec.Ente = texts[schema.EnteCol]
	}
	return rec, true
}

func cellTexts(cells rod.Elements) []string {
	texts := make([]string, 0, len(cells))
	for _, c := range cells {
		txt, err := c.Text()
		if err != nil {
			txt = ""
		}
		texts = append(texts, strings.TrimSpace(txt))
	}
	return texts
}
