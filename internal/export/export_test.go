package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"casefile/api/internal/store"
)

type fakeStore struct {
	clients  map[string]store.Client
	caseload []store.AssignedClient
	counts   map[string]store.TodoCounts
	todos    map[string][]store.Todo
	notes    map[string][]store.Note
}

func (f *fakeStore) GetClient(_ context.Context, clientID string) (store.Client, error) {
	if c, ok := f.clients[clientID]; ok {
		return c, nil
	}
	return store.Client{}, store.ErrNotFound
}

func (f *fakeStore) ListAssignedClients(_ context.Context, _ string) ([]store.AssignedClient, error) {
	return f.caseload, nil
}

func (f *fakeStore) TodoCountsByClient(_ context.Context, _ string) (map[string]store.TodoCounts, error) {
	return f.counts, nil
}

func (f *fakeStore) ListTodos(_ context.Context, clientID string) ([]store.Todo, error) {
	return f.todos[clientID], nil
}

func (f *fakeStore) ListNotes(_ context.Context, clientID string) ([]store.Note, error) {
	return f.notes[clientID], nil
}

func datePtr(t time.Time) *time.Time { return &t }

func testClient() store.Client {
	return store.Client{
		ID:                   "cl_1",
		ExternalID:           "C-100",
		Name:                 "Ada Lovelace",
		PhoneNumber:          "555-0100",
		Insurance:            "AUTH-1",
		NextAnnualAssessment: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
		QR1Completed:         true,
		QR2Date:              datePtr(time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)),
		LastContactDate:      datePtr(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func newTestService(f *fakeStore, now time.Time) *Service {
	svc := NewService(f)
	svc.now = func() time.Time { return now }
	return svc
}

func TestCaseloadReportHTML(t *testing.T) {
	f := &fakeStore{
		caseload: []store.AssignedClient{{Client: testClient()}},
		counts:   map[string]store.TodoCounts{"cl_1": {Total: 5, Incomplete: 3}},
	}
	svc := newTestService(f, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))

	res, err := svc.CaseloadReport(context.Background(), "cm-1", "Casey Manager", FormatHTML)
	if err != nil {
		t.Fatalf("CaseloadReport() error = %v", err)
	}
	html := string(res.Data)

	for _, want := range []string{
		"Casey Manager",
		"Ada Lovelace",
		"C-100",
		// QR1 complete, QR2 has an override: next due is the override date.
		"2nd Quarter",
		"Oct 15, 2025",
		// 40 days since last contact against a 30-day threshold.
		"urgency-critical",
		// no face-to-face ever recorded
		"urgency-unknown",
		">3<",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("caseload html missing %q", want)
		}
	}
	if res.MimeType != "text/html; charset=utf-8" {
		t.Errorf("MimeType = %q", res.MimeType)
	}
}

func TestClientReportHTML(t *testing.T) {
	c := testClient()
	f := &fakeStore{
		clients: map[string]store.Client{"cl_1": c},
		todos: map[string][]store.Todo{
			"cl_1": {{Text: "Schedule intake call", Completed: false}},
		},
		notes: map[string][]store.Note{
			"cl_1": {{Text: "Prefers afternoon calls", CreatedAt: time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)}},
		},
	}
	svc := newTestService(f, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))

	res, err := svc.ClientReport(context.Background(), "cl_1", FormatHTML)
	if err != nil {
		t.Fatalf("ClientReport() error = %v", err)
	}
	html := string(res.Data)

	for _, want := range []string{
		"Ada Lovelace",
		"March 2025",
		"1st Quarter",
		"4th Quarter",
		// the Q2 override shows the adjusted date
		"Oct 15, 2025",
		"(adjusted)",
		"Schedule intake call",
		"Prefers afternoon calls",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("client html missing %q", want)
		}
	}
	if res.Filename != "Ada-Lovelace-Summary.html" {
		t.Errorf("Filename = %q", res.Filename)
	}
}

func TestClientReportUnknownClient(t *testing.T) {
	svc := newTestService(&fakeStore{clients: map[string]store.Client{}}, time.Now())
	if _, err := svc.ClientReport(context.Background(), "nope", FormatHTML); err == nil {
		t.Fatal("expected error for unknown client")
	}
}

func TestFinishRejectsUnknownFormat(t *testing.T) {
	svc := newTestService(&fakeStore{}, time.Now())
	if _, err := svc.finish("<html></html>", "x", Format("docx")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ada Lovelace Summary", "Ada-Lovelace-Summary"},
		{"weird/:*name?", "weirdname"},
		{"", "report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("encoded = %q", got)
	}
}
