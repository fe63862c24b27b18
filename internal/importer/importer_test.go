package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"casefile/api/internal/store"
)

const csvHeader = "Id,First Name,Last Name,Preferred Name,Client/Record ID,Cell Phone,Plan Program,Plan End Date,Primary Provider,Authorization ID\n"

func TestParseSkipsRowsMissingNames(t *testing.T) {
	input := csvHeader +
		"1,Ada,Lovelace,,C-100,555-0100,WCCSS,03/15/2025,Dr. Byron,AUTH-1\n" +
		"2,,Hopper,,C-101,555-0101,BCSS,04/01/2025,Dr. Mauchly,AUTH-2\n"

	rows, rowErrs, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if len(rowErrs) != 1 || rowErrs[0].Line != 3 {
		t.Fatalf("rowErrs = %+v, want one error on line 3", rowErrs)
	}
	if rows[0].ExternalID != "C-100" || rows[0].Insurance != "AUTH-1" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestParseQuotedFieldsAndDefaults(t *testing.T) {
	input := csvHeader +
		`3,"Grace","Hopper, Jr.",Amazing,C-102,,NAV CM,05/01/2025,,` + "\n"

	rows, rowErrs, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("unexpected row errors: %+v", rowErrs)
	}
	row := rows[0]
	if row.LastName != "Hopper, Jr." {
		t.Errorf("LastName = %q", row.LastName)
	}
	if row.PhoneNumber != "No phone provided" {
		t.Errorf("PhoneNumber = %q", row.PhoneNumber)
	}
	if row.Insurance != "No insurance provided" {
		t.Errorf("Insurance = %q", row.Insurance)
	}
	if got := row.DisplayName(); got != "Grace (Amazing) Hopper, Jr." {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestParseRejectsHeaderOnly(t *testing.T) {
	if _, _, err := Parse(strings.NewReader(csvHeader)); err == nil {
		t.Fatal("expected error for header-only csv")
	}
}

func TestParseAssessmentDateNormalizesToFirstOfMonth(t *testing.T) {
	got, err := ParseAssessmentDate("3/15/2025")
	if err != nil {
		t.Fatalf("ParseAssessmentDate() error = %v", err)
	}
	want := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}
}

func row(externalID, program, date string) Row {
	return Row{
		ExternalID:       externalID,
		FirstName:        "First",
		LastName:         "Last",
		Program:          program,
		AnnualAssessment: date,
	}
}

func TestDedupProgramPriority(t *testing.T) {
	rows := []Row{
		row("C-1", "NAV CM", "01/01/2025"),
		row("C-1", "WCCSS", "02/01/2025"),
		row("C-1", "BCSS", "03/01/2025"),
	}
	out := Dedup(rows)
	if len(out) != 1 {
		t.Fatalf("deduped rows = %d, want 1", len(out))
	}
	if out[0].Program != "WCCSS" {
		t.Errorf("kept program = %q, want WCCSS", out[0].Program)
	}
}

func TestDedupDropsNonCaseManagementRows(t *testing.T) {
	rows := []Row{
		row("C-1", "Housing Support", "01/01/2025"),
		row("C-2", "BCSS", "01/01/2025"),
	}
	out := Dedup(rows)
	if len(out) != 1 || out[0].ExternalID != "C-2" {
		t.Fatalf("deduped = %+v, want only C-2", out)
	}
}

func TestDedupEqualPriorityKeepsLaterDate(t *testing.T) {
	rows := []Row{
		row("C-1", "WCCSS", "02/01/2025"),
		row("C-1", "WCCSS", "07/15/2025"),
		row("C-1", "WCCSS", "03/01/2025"),
	}
	out := Dedup(rows)
	if out[0].AnnualAssessment != "07/15/2025" {
		t.Errorf("kept date = %q, want 07/15/2025", out[0].AnnualAssessment)
	}
}

func TestDedupUnparseableDateKeepsExisting(t *testing.T) {
	rows := []Row{
		row("C-1", "WCCSS", "02/01/2025"),
		row("C-1", "WCCSS", "not-a-date"),
	}
	out := Dedup(rows)
	if out[0].AnnualAssessment != "02/01/2025" {
		t.Errorf("kept date = %q, want 02/01/2025", out[0].AnnualAssessment)
	}
}

func TestDedupSimpleStrategies(t *testing.T) {
	rows := []Row{
		row("C-1", "", "05/01/2025"),
		row("C-1", "", "01/01/2025"),
		row("C-1", "", "09/01/2025"),
	}

	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyFirst, "05/01/2025"},
		{StrategyLatest, "09/01/2025"},
		{StrategyEarliest, "01/01/2025"},
		{"", "05/01/2025"}, // default
	}
	for _, tt := range tests {
		out := DedupSimple(rows, tt.strategy)
		if len(out) != 1 {
			t.Fatalf("strategy %q: deduped rows = %d, want 1", tt.strategy, len(out))
		}
		if out[0].AnnualAssessment != tt.want {
			t.Errorf("strategy %q: kept date = %q, want %q", tt.strategy, out[0].AnnualAssessment, tt.want)
		}
	}
}

// fakeClientStore is an in-memory clientStore for import tests.
type fakeClientStore struct {
	clients     map[string]store.Client // keyed by external id
	assignments map[string]bool         // caseManagerID|clientID
}

func newFakeClientStore() *fakeClientStore {
	return &fakeClientStore{
		clients:     make(map[string]store.Client),
		assignments: make(map[string]bool),
	}
}

func (f *fakeClientStore) GetClientByExternalID(_ context.Context, externalID string) (store.Client, error) {
	if c, ok := f.clients[externalID]; ok {
		return c, nil
	}
	return store.Client{}, store.ErrNotFound
}

func (f *fakeClientStore) InsertClient(_ context.Context, c store.Client) error {
	f.clients[c.ExternalID] = c
	return nil
}

func (f *fakeClientStore) EnsureAssignment(_ context.Context, caseManagerID, clientID string) (store.Assignment, error) {
	f.assignments[caseManagerID+"|"+clientID] = true
	return store.Assignment{CaseManagerID: caseManagerID, ClientID: clientID}, nil
}

func TestImportCreatesAndAssigns(t *testing.T) {
	fake := newFakeClientStore()
	svc := NewService(fake, nil)

	input := csvHeader +
		"1,Ada,Lovelace,,C-100,555-0100,WCCSS,03/15/2025,Dr. Byron,AUTH-1\n" +
		"2,Ada,Lovelace,,C-100,555-0100,NAV CM,06/01/2025,Dr. Byron,AUTH-1\n" +
		"3,Grace,Hopper,,C-101,555-0101,BCSS,04/01/2025,Dr. Mauchly,AUTH-2\n"

	report, err := svc.Import(context.Background(), "cm-1", []byte(input), Options{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Created != 2 || report.Matched != 0 || report.Assigned != 2 {
		t.Fatalf("report = %+v", report)
	}

	ada, ok := fake.clients["C-100"]
	if !ok {
		t.Fatal("C-100 not created")
	}
	want := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	if !ada.NextAnnualAssessment.Equal(want) {
		t.Errorf("NextAnnualAssessment = %v, want %v", ada.NextAnnualAssessment, want)
	}
	if !fake.assignments["cm-1|"+ada.ID] {
		t.Error("expected assignment for cm-1")
	}
}

func TestImportMatchesExistingClient(t *testing.T) {
	fake := newFakeClientStore()
	fake.clients["C-100"] = store.Client{ID: "cl_existing", ExternalID: "C-100", Name: "Ada Lovelace"}
	svc := NewService(fake, nil)

	input := csvHeader +
		"1,Ada,Lovelace,,C-100,555-0100,WCCSS,03/15/2025,Dr. Byron,AUTH-1\n"

	report, err := svc.Import(context.Background(), "cm-2", []byte(input), Options{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Created != 0 || report.Matched != 1 || report.Assigned != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !fake.assignments["cm-2|cl_existing"] {
		t.Error("existing client should be assigned, not recreated")
	}
}

func TestImportRejectsUnknownStrategy(t *testing.T) {
	svc := NewService(newFakeClientStore(), nil)
	input := csvHeader +
		"1,Ada,Lovelace,,C-100,555-0100,WCCSS,03/15/2025,Dr. Byron,AUTH-1\n"

	if _, err := svc.Import(context.Background(), "cm-1", []byte(input), Options{Simple: true, Strategy: "newest"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestImportNoImportableRows(t *testing.T) {
	svc := NewService(newFakeClientStore(), nil)
	input := csvHeader +
		"1,Ada,Lovelace,,C-100,555-0100,Housing Support,03/15/2025,Dr. Byron,AUTH-1\n"

	if _, err := svc.Import(context.Background(), "cm-1", []byte(input), Options{}); err == nil {
		t.Fatal("expected error when every row is filtered out")
	}
}
