package export

import (
	"context"
	"fmt"
	"time"

	"casefile/api/internal/schedule"
	"casefile/api/internal/store"
)

// DataStore is the slice of the store the report builder needs.
type DataStore interface {
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	ListAssignedClients(ctx context.Context, caseManagerID string) ([]store.AssignedClient, error)
	TodoCountsByClient(ctx context.Context, caseManagerID string) (map[string]store.TodoCounts, error)
	ListTodos(ctx context.Context, clientID string) ([]store.Todo, error)
	ListNotes(ctx context.Context, clientID string) ([]store.Note, error)
}

// Service builds caseload and client reports.
type Service struct {
	store DataStore
	now   func() time.Time
}

// NewService creates a report service.
func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// CaseloadReport renders the active caseload for one case manager.
func (s *Service) CaseloadReport(ctx context.Context, caseManagerID, caseManagerName string, format Format) (*Result, error) {
	clients, err := s.store.ListAssignedClients(ctx, caseManagerID)
	if err != nil {
		return nil, fmt.Errorf("list assigned clients: %w", err)
	}
	counts, err := s.store.TodoCountsByClient(ctx, caseManagerID)
	if err != nil {
		return nil, fmt.Errorf("todo counts: %w", err)
	}

	now := s.now().UTC()
	data := CaseloadData{
		CaseManager: caseManagerName,
		GeneratedAt: now,
		Rows:        make([]CaseloadRow, 0, len(clients)),
	}
	for _, c := range clients {
		idx, dueDate := schedule.NextDue(schedule.ClientSchedule{
			Annual:    c.NextAnnualAssessment,
			Completed: c.QRCompleted(),
			Overrides: c.QROverrides(),
		})
		data.Rows = append(data.Rows, CaseloadRow{
			Name:              c.Name,
			ExternalID:        c.ExternalID,
			PhoneNumber:       c.PhoneNumber,
			NextReviewLabel:   schedule.QuarterlyReviews(c.NextAnnualAssessment)[idx].Label,
			NextReviewDate:    dueDate,
			AnnualAssessment:  c.NextAnnualAssessment,
			ContactUrgency:    contactUrgency(now, c.LastContactDate).String(),
			FaceToFaceUrgency: faceToFaceUrgency(now, c.LastFaceToFaceDate).String(),
			OpenTodos:         counts[c.ID].Incomplete,
		})
	}

	html, err := RenderCaseloadHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render caseload template: %w", err)
	}
	return s.finish(html, "Caseload Report", format)
}

// ClientReport renders the full summary for one client.
func (s *Service) ClientReport(ctx context.Context, clientID string, format Format) (*Result, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	todos, err := s.store.ListTodos(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	notes, err := s.store.ListNotes(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	now := s.now().UTC()
	reviews := schedule.QuarterlyReviews(c.NextAnnualAssessment)
	completed := c.QRCompleted()
	overrides := c.QROverrides()
	idx, dueDate := schedule.NextDue(schedule.ClientSchedule{
		Annual:    c.NextAnnualAssessment,
		Completed: completed,
		Overrides: overrides,
	})

	data := ClientData{
		Name:                   c.Name,
		ExternalID:             c.ExternalID,
		PhoneNumber:            c.PhoneNumber,
		Insurance:              c.Insurance,
		GeneratedAt:            now,
		AnnualAssessment:       c.NextAnnualAssessment,
		NextReviewLabel:        reviews[idx].Label,
		NextReviewDate:         dueDate,
		FirstContactCompleted:  c.FirstContactCompleted,
		SecondContactCompleted: c.SecondContactCompleted,
		LastContact:            c.LastContactDate,
		LastFaceToFace:         c.LastFaceToFaceDate,
		ContactUrgency:         contactUrgency(now, c.LastContactDate).String(),
		FaceToFaceUrgency:      faceToFaceUrgency(now, c.LastFaceToFaceDate).String(),
	}
	if c.LastFaceToFaceDate != nil {
		due := schedule.NextFaceToFaceDue(*c.LastFaceToFaceDate)
		data.FaceToFaceDue = &due
	}
	for i, r := range reviews {
		row := ReviewRow{Label: r.Label, Date: r.Date, Completed: completed[i]}
		if overrides[i] != nil {
			row.Date = *overrides[i]
			row.Overridden = true
		}
		data.Reviews = append(data.Reviews, row)
	}
	for _, t := range todos {
		data.Todos = append(data.Todos, TodoRow{Text: t.Text, Completed: t.Completed, DueDate: t.DueDate})
	}
	for _, n := range notes {
		data.Notes = append(data.Notes, NoteRow{Text: n.Text, CreatedAt: n.CreatedAt})
	}

	html, err := RenderClientHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render client template: %w", err)
	}
	return s.finish(html, c.Name+" Summary", format)
}

func (s *Service) finish(html, title string, format Format) (*Result, error) {
	switch format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func contactUrgency(now time.Time, last *time.Time) schedule.Urgency {
	var event time.Time
	if last != nil {
		event = *last
	}
	return schedule.ClassifyElapsed(now, event, schedule.LastContactThresholdDays)
}

func faceToFaceUrgency(now time.Time, last *time.Time) schedule.Urgency {
	var event time.Time
	if last != nil {
		event = *last
	}
	return schedule.ClassifyElapsed(now, event, schedule.FaceToFaceThresholdDays)
}
