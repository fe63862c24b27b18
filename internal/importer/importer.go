// Package importer loads clients from the referral system's CSV export.
// The export lists one row per plan enrollment, so the same client shows
// up several times; rows are collapsed to one per external client id
// before anything touches the store.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

// Program priority for deduplication. Rows whose program is not listed
// here are not case management and are dropped.
var programPriority = map[string]int{
	"WCCSS":     4,
	"MH PSH CM": 3,
	"BCSS":      2,
	"NAV CM":    1,
}

// Row is one parsed CSV line.
type Row struct {
	ExternalID       string
	FirstName        string
	LastName         string
	PreferredName    string
	PhoneNumber      string
	Insurance        string
	Program          string
	AnnualAssessment string // raw MM/DD/YYYY from the Plan End Date column
}

// DisplayName builds the stored client name, folding in the preferred
// name when present.
func (r Row) DisplayName() string {
	if r.PreferredName != "" {
		return fmt.Sprintf("%s (%s) %s", r.FirstName, r.PreferredName, r.LastName)
	}
	return r.FirstName + " " + r.LastName
}

// RowError records a skipped CSV line. Line is 1-based and counts the
// header.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Column layout of the referral export:
// Id, First Name, Last Name, Preferred Name, Client/Record ID,
// Cell Phone, Plan Program, Plan End Date, Primary Provider, Authorization ID
const minColumns = 8

// Parse reads the CSV export. Rows missing a first or last name are
// reported as RowErrors and skipped; everything else is returned as-is
// for deduplication.
func Parse(r io.Reader) ([]Row, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("csv needs a header row and at least one data row")
	}

	var rows []Row
	var rowErrs []RowError
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) < minColumns {
			rowErrs = append(rowErrs, RowError{Line: line, Reason: fmt.Sprintf("expected at least %d columns, got %d", minColumns, len(rec))})
			continue
		}

		row := Row{
			FirstName:        strings.TrimSpace(rec[1]),
			LastName:         strings.TrimSpace(rec[2]),
			PreferredName:    strings.TrimSpace(rec[3]),
			ExternalID:       strings.TrimSpace(rec[4]),
			PhoneNumber:      strings.TrimSpace(rec[5]),
			Program:          strings.TrimSpace(rec[6]),
			AnnualAssessment: strings.TrimSpace(rec[7]),
		}
		if len(rec) > 9 {
			row.Insurance = strings.TrimSpace(rec[9])
		}
		if row.ExternalID == "" {
			row.ExternalID = strings.TrimSpace(rec[0])
		}
		if row.FirstName == "" || row.LastName == "" {
			rowErrs = append(rowErrs, RowError{Line: line, Reason: "missing first or last name"})
			continue
		}
		if row.PhoneNumber == "" {
			row.PhoneNumber = "No phone provided"
		}
		if row.Insurance == "" {
			row.Insurance = "No insurance provided"
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

// ParseAssessmentDate parses an MM/DD/YYYY plan end date and normalizes
// it to the first of that month at noon UTC. The day of month in the
// input only matters for deduplication tie-breaks.
func ParseAssessmentDate(raw string) (time.Time, error) {
	t, err := time.Parse("1/2/2006", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse assessment date %q: %w", raw, err)
	}
	return time.Date(t.Year(), t.Month(), 1, 12, 0, 0, 0, time.UTC), nil
}

// exactDate keeps the day of month for tie-breaking between rows with
// equal program priority.
func exactDate(raw string) (time.Time, bool) {
	t, err := time.Parse("1/2/2006", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Dedup collapses rows to one per external client id using the program
// priority table. Non-case-management rows never win a slot. Equal
// priority keeps the row with the later plan end date; if either date
// fails to parse the existing row is kept.
func Dedup(rows []Row) []Row {
	byID := make(map[string]Row)
	var order []string

	for _, row := range rows {
		priority := programPriority[row.Program]
		existing, ok := byID[row.ExternalID]
		if !ok {
			if priority > 0 {
				byID[row.ExternalID] = row
				order = append(order, row.ExternalID)
			}
			continue
		}
		if priority == 0 {
			continue
		}

		existingPriority := programPriority[existing.Program]
		switch {
		case priority > existingPriority:
			byID[row.ExternalID] = row
		case priority == existingPriority:
			current, okCur := exactDate(row.AnnualAssessment)
			prev, okPrev := exactDate(existing.AnnualAssessment)
			if okCur && okPrev && current.After(prev) {
				byID[row.ExternalID] = row
			}
		}
	}

	out := make([]Row, 0, len(byID))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// Strategy selects how DedupSimple resolves duplicate external ids.
type Strategy string

const (
	StrategyFirst    Strategy = "first"
	StrategyLatest   Strategy = "latest"
	StrategyEarliest Strategy = "earliest"
)

// ValidStrategy reports whether s is a known deduplication strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyFirst, StrategyLatest, StrategyEarliest:
		return true
	}
	return false
}

// DedupSimple collapses rows to one per external client id for exports
// that carry no program column. The default strategy keeps the first
// occurrence.
func DedupSimple(rows []Row, strategy Strategy) []Row {
	if strategy == "" {
		strategy = StrategyFirst
	}

	byID := make(map[string]Row)
	var order []string

	for _, row := range rows {
		existing, ok := byID[row.ExternalID]
		if !ok {
			byID[row.ExternalID] = row
			order = append(order, row.ExternalID)
			continue
		}
		if strategy == StrategyFirst {
			continue
		}

		current, okCur := exactDate(row.AnnualAssessment)
		prev, okPrev := exactDate(existing.AnnualAssessment)
		if !okCur || !okPrev {
			continue
		}
		if (strategy == StrategyLatest && current.After(prev)) ||
			(strategy == StrategyEarliest && current.Before(prev)) {
			byID[row.ExternalID] = row
		}
	}

	out := make([]Row, 0, len(byID))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
