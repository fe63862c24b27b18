package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"casefile/api/internal/store"
	"casefile/api/internal/util"
)

// clientStore is the slice of the store the importer needs.
type clientStore interface {
	GetClientByExternalID(ctx context.Context, externalID string) (store.Client, error)
	InsertClient(ctx context.Context, c store.Client) error
	EnsureAssignment(ctx context.Context, caseManagerID, clientID string) (store.Assignment, error)
}

// Service runs CSV imports against the store and archives the raw file.
type Service struct {
	store   clientStore
	archive *Archive // nil when object storage is not configured
}

func NewService(store clientStore, archive *Archive) *Service {
	return &Service{store: store, archive: archive}
}

// Options controls an import run.
type Options struct {
	// Simple switches to the no-program-column deduplication and uses
	// Strategy instead of the program priority table.
	Simple   bool
	Strategy Strategy
}

// Report summarizes an import run.
type Report struct {
	Created   int        `json:"created"`
	Matched   int        `json:"matched"`
	Assigned  int        `json:"assigned"`
	Skipped   []RowError `json:"skipped"`
	ArchiveID string     `json:"archiveId,omitempty"`
}

// Import parses csvData, deduplicates it, creates missing clients, and
// assigns every surviving row to caseManagerID. Existing assignments
// are reactivated rather than duplicated.
func (s *Service) Import(ctx context.Context, caseManagerID string, csvData []byte, opts Options) (*Report, error) {
	rows, rowErrs, err := Parse(bytes.NewReader(csvData))
	if err != nil {
		return nil, err
	}

	if opts.Simple {
		if opts.Strategy != "" && !ValidStrategy(opts.Strategy) {
			return nil, fmt.Errorf("unknown deduplication strategy %q", opts.Strategy)
		}
		rows = DedupSimple(rows, opts.Strategy)
	} else {
		rows = Dedup(rows)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no importable client rows found")
	}

	report := &Report{Skipped: rowErrs}
	if report.Skipped == nil {
		report.Skipped = []RowError{}
	}

	for _, row := range rows {
		client, err := s.store.GetClientByExternalID(ctx, row.ExternalID)
		switch {
		case err == nil:
			report.Matched++
		case errors.Is(err, store.ErrNotFound):
			annual, dateErr := ParseAssessmentDate(row.AnnualAssessment)
			if dateErr != nil {
				report.Skipped = append(report.Skipped, RowError{Reason: fmt.Sprintf("client %s: %v", row.ExternalID, dateErr)})
				continue
			}
			client = store.Client{
				ID:                   util.NewID("cl"),
				ExternalID:           row.ExternalID,
				Name:                 row.DisplayName(),
				PhoneNumber:          row.PhoneNumber,
				Insurance:            row.Insurance,
				NextAnnualAssessment: annual,
			}
			if err := s.store.InsertClient(ctx, client); err != nil {
				return nil, fmt.Errorf("insert client %s: %w", row.ExternalID, err)
			}
			report.Created++
		default:
			return nil, fmt.Errorf("look up client %s: %w", row.ExternalID, err)
		}

		if _, err := s.store.EnsureAssignment(ctx, caseManagerID, client.ID); err != nil {
			return nil, fmt.Errorf("assign client %s: %w", row.ExternalID, err)
		}
		report.Assigned++
	}

	if s.archive != nil {
		objectName, err := s.archive.Store(ctx, caseManagerID, csvData)
		if err != nil {
			// The import itself succeeded; losing the archive copy is not fatal.
			log.Printf("importer: archive failed: %v", err)
		} else {
			report.ArchiveID = objectName
		}
	}

	return report, nil
}
