package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingDispatch struct {
	mu     sync.Mutex
	todos  map[string]bool
	fields map[string]any

	failTodo  error
	failField error
	onField   func()
}

func newRecordingDispatch() *recordingDispatch {
	return &recordingDispatch{
		todos:  make(map[string]bool),
		fields: make(map[string]any),
	}
}

func (r *recordingDispatch) dispatchers() Dispatchers {
	return Dispatchers{
		SetTodoCompleted: func(_ context.Context, todoID string, completed bool) error {
			if r.failTodo != nil {
				return r.failTodo
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.todos[todoID] = completed
			return nil
		},
		SetClientField: func(_ context.Context, clientID, field string, value any) error {
			if r.onField != nil {
				r.onField()
			}
			if r.failField != nil {
				return r.failField
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fields[clientID+"/"+field] = value
			return nil
		},
	}
}

func TestUpsertReplacesByKey(t *testing.T) {
	l := New()
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: true})
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: false})

	if got := len(l.Changes()); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	if l.ContactState("c1", FieldQR1Completed, true) != false {
		t.Error("later write for same key must win")
	}
}

func TestUpsertDistinctKeysAccumulate(t *testing.T) {
	l := New()
	l.Upsert(TodoChange{TodoID: "t1", Completed: true})
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldFirstContactCompleted, Value: true})
	l.Upsert(DateChange{ClientID: "c1", Field: FieldLastContactDate, Value: 1700000000000})
	// Same field name on a different client is a different key.
	l.Upsert(DateChange{ClientID: "c2", Field: FieldLastContactDate, Value: 1700000000001})

	if got := len(l.Changes()); got != 4 {
		t.Fatalf("entries = %d, want 4", got)
	}
}

func TestEffectiveValueFallsBackToAuthoritative(t *testing.T) {
	l := New()
	if !l.TodoState("t1", true) {
		t.Error("no pending todo entry should fall back to authoritative")
	}
	if l.ContactState("c1", FieldQR2Completed, false) {
		t.Error("no pending contact entry should fall back to authoritative")
	}
	if got := l.DateState("c1", FieldQR1Date, 42); got != 42 {
		t.Errorf("DateState = %d, want authoritative 42", got)
	}
}

func TestFlushClearsOnSuccess(t *testing.T) {
	l := New()
	l.Upsert(TodoChange{TodoID: "t1", Completed: true})
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: true})
	l.Upsert(DateChange{ClientID: "c1", Field: FieldNextAnnualAssessment, Value: 1735689600000})

	rec := newRecordingDispatch()
	if err := l.Flush(context.Background(), rec.dispatchers()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if l.HasPending() {
		t.Error("ledger should be empty after successful flush")
	}
	if l.State() != StateIdle {
		t.Errorf("state = %s, want idle", l.State())
	}
	if l.ContactState("c1", FieldQR1Completed, false) != false {
		t.Error("effective value should be authoritative after flush")
	}
	if !rec.todos["t1"] {
		t.Error("todo dispatcher not invoked")
	}
	if rec.fields["c1/qr1Completed"] != true {
		t.Error("contact dispatcher not invoked")
	}
	if rec.fields["c1/nextAnnualAssessment"] != int64(1735689600000) {
		t.Error("date dispatcher not invoked")
	}
}

func TestFlushFailureRetainsEverything(t *testing.T) {
	l := New()
	l.Upsert(TodoChange{TodoID: "t1", Completed: true})
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: true})

	rec := newRecordingDispatch()
	boom := errors.New("store unavailable")
	rec.failField = boom

	err := l.Flush(context.Background(), rec.dispatchers())
	if !errors.Is(err, boom) {
		t.Fatalf("flush error = %v, want wrapped %v", err, boom)
	}

	if got := len(l.Changes()); got != 2 {
		t.Fatalf("entries after failed flush = %d, want 2", got)
	}
	if l.State() != StateDirty {
		t.Errorf("state = %s, want dirty", l.State())
	}

	// Retry after the store recovers drains the same entries.
	rec.failField = nil
	if err := l.Flush(context.Background(), rec.dispatchers()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if l.HasPending() {
		t.Error("retry should have cleared the ledger")
	}
}

func TestFlushEmptyLedgerIsNoop(t *testing.T) {
	l := New()
	if err := l.Flush(context.Background(), Dispatchers{}); err != nil {
		t.Fatalf("flush of empty ledger: %v", err)
	}
}

func TestUpsertDuringFlushSurvives(t *testing.T) {
	l := New()
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: true})

	rec := newRecordingDispatch()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rec.onField = func() {
		once.Do(func() { close(inFlight) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Flush(context.Background(), rec.dispatchers())
	}()

	<-inFlight
	if l.State() != StateFlushing {
		t.Errorf("state = %s, want flushing", l.State())
	}
	// New key arrives while the flush is in flight.
	l.Upsert(TodoChange{TodoID: "t9", Completed: true})
	// A snapshotted key is replaced with a newer value mid-flight.
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: false})
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("flush: %v", err)
	}

	changes := l.Changes()
	if len(changes) != 2 {
		t.Fatalf("entries after flush = %d, want 2 survivors", len(changes))
	}
	if l.State() != StateDirty {
		t.Errorf("state = %s, want dirty", l.State())
	}
	if !l.TodoState("t9", false) {
		t.Error("new key added during flush was lost")
	}
	if l.ContactState("c1", FieldQR1Completed, true) != false {
		t.Error("mid-flight replacement was clobbered by the flush clear")
	}
}

func TestFlushWhileFlushingRejected(t *testing.T) {
	l := New()
	l.Upsert(ContactChange{ClientID: "c1", Field: FieldQR1Completed, Value: true})

	rec := newRecordingDispatch()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rec.onField = func() {
		once.Do(func() { close(inFlight) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Flush(context.Background(), rec.dispatchers())
	}()

	<-inFlight
	if err := l.Flush(context.Background(), rec.dispatchers()); !errors.Is(err, ErrFlushInFlight) {
		t.Errorf("second flush error = %v, want ErrFlushInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first flush: %v", err)
	}
}

func TestDiscardClearsUnconditionally(t *testing.T) {
	l := New()
	l.Upsert(TodoChange{TodoID: "t1", Completed: true})
	l.Upsert(DateChange{ClientID: "c1", Field: FieldQR4Date, Value: 1})
	l.Discard()
	if l.HasPending() {
		t.Error("discard should drop all entries")
	}
	if l.State() != StateIdle {
		t.Errorf("state = %s, want idle", l.State())
	}
}

func TestFieldValidators(t *testing.T) {
	if !ValidContactField("qr3Completed") || ValidContactField("lastContactDate") {
		t.Error("contact field validation wrong")
	}
	if !ValidDateField("qr3Date") || ValidDateField("qr3Completed") {
		t.Error("date field validation wrong")
	}
}
