// Package pending buffers uncommitted field edits made during a client
// detail session. The ledger is an ordered upsert log keyed by
// (change kind, entity, field): a later write for the same key replaces
// the earlier one, and a flush dispatches every buffered entry to the
// store concurrently, clearing the buffer only when every dispatch
// succeeds. The buffer is volatile and is never persisted.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ContactField enumerates the boolean client fields the ledger may buffer.
type ContactField string

const (
	FieldFirstContactCompleted  ContactField = "firstContactCompleted"
	FieldSecondContactCompleted ContactField = "secondContactCompleted"
	FieldQR1Completed           ContactField = "qr1Completed"
	FieldQR2Completed           ContactField = "qr2Completed"
	FieldQR3Completed           ContactField = "qr3Completed"
	FieldQR4Completed           ContactField = "qr4Completed"
)

// DateField enumerates the timestamp client fields the ledger may buffer.
// Values are epoch milliseconds, the wire format of the API.
type DateField string

const (
	FieldLastContactDate      DateField = "lastContactDate"
	FieldLastFaceToFaceDate   DateField = "lastFaceToFaceDate"
	FieldNextAnnualAssessment DateField = "nextAnnualAssessment"
	FieldQR1Date              DateField = "qr1Date"
	FieldQR2Date              DateField = "qr2Date"
	FieldQR3Date              DateField = "qr3Date"
	FieldQR4Date              DateField = "qr4Date"
)

// ValidContactField reports whether name is a bufferable boolean field.
func ValidContactField(name string) bool {
	switch ContactField(name) {
	case FieldFirstContactCompleted, FieldSecondContactCompleted,
		FieldQR1Completed, FieldQR2Completed, FieldQR3Completed, FieldQR4Completed:
		return true
	}
	return false
}

// ValidDateField reports whether name is a bufferable date field.
func ValidDateField(name string) bool {
	switch DateField(name) {
	case FieldLastContactDate, FieldLastFaceToFaceDate, FieldNextAnnualAssessment,
		FieldQR1Date, FieldQR2Date, FieldQR3Date, FieldQR4Date:
		return true
	}
	return false
}

// Change is one buffered edit: a todo completion, a boolean contact flag,
// or a date field. The concrete types are comparable so the ledger can
// tell an untouched snapshot entry from one replaced mid-flush.
type Change interface {
	// key identifies the slot this change occupies in the ledger.
	key() string
}

// TodoChange sets a todo's completion state.
type TodoChange struct {
	TodoID    string
	Completed bool
}

func (c TodoChange) key() string { return "todo/" + c.TodoID }

// ContactChange sets a boolean contact/review flag on a client.
type ContactChange struct {
	ClientID string
	Field    ContactField
	Value    bool
}

func (c ContactChange) key() string { return "contact/" + c.ClientID + "/" + string(c.Field) }

// DateChange sets a date field on a client, in epoch milliseconds.
type DateChange struct {
	ClientID string
	Field    DateField
	Value    int64
}

func (c DateChange) key() string { return "date/" + c.ClientID + "/" + string(c.Field) }

// Dispatchers are the store operations a flush fans out to. Both are
// absolute-value sets, so resending an already-applied entry on retry is
// a no-op.
type Dispatchers struct {
	SetTodoCompleted func(ctx context.Context, todoID string, completed bool) error
	SetClientField   func(ctx context.Context, clientID, field string, value any) error
}

// State describes the ledger lifecycle.
type State int

const (
	StateIdle State = iota
	StateDirty
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// ErrFlushInFlight is returned when Flush is called while another flush
// on the same ledger has not settled yet.
var ErrFlushInFlight = errors.New("pending: flush already in flight")

// Ledger holds the pending changes of one detail-view session.
//
// The zero value is not usable; construct with New.
type Ledger struct {
	mu       sync.Mutex
	entries  []Change
	flushing bool
}

func New() *Ledger {
	return &Ledger{}
}

// Upsert inserts change, replacing any existing entry with the same key.
// Order of first insertion is preserved; a replacement keeps its slot.
func (l *Ledger) Upsert(change Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.entries {
		if existing.key() == change.key() {
			l.entries[i] = change
			return
		}
	}
	l.entries = append(l.entries, change)
}

// TodoState returns the pending completion state for a todo, or the
// authoritative value when nothing is buffered.
func (l *Ledger) TodoState(todoID string, authoritative bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if c, ok := entry.(TodoChange); ok && c.TodoID == todoID {
			return c.Completed
		}
	}
	return authoritative
}

// ContactState returns the pending value for a boolean client field, or
// the authoritative value when nothing is buffered.
func (l *Ledger) ContactState(clientID string, field ContactField, authoritative bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if c, ok := entry.(ContactChange); ok && c.ClientID == clientID && c.Field == field {
			return c.Value
		}
	}
	return authoritative
}

// DateState returns the pending value for a date field in epoch
// milliseconds, or the authoritative value when nothing is buffered.
func (l *Ledger) DateState(clientID string, field DateField, authoritative int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if c, ok := entry.(DateChange); ok && c.ClientID == clientID && c.Field == field {
			return c.Value
		}
	}
	return authoritative
}

// HasPending reports whether any change is buffered.
func (l *Ledger) HasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) > 0
}

// Changes returns a copy of the buffered entries in order.
func (l *Ledger) Changes() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Change, len(l.entries))
	copy(out, l.entries)
	return out
}

// State reports the ledger lifecycle state.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.flushing:
		return StateFlushing
	case len(l.entries) > 0:
		return StateDirty
	default:
		return StateIdle
	}
}

// Flush dispatches every buffered entry concurrently and waits for all of
// them. The entry set is snapshotted at flush start: on full success
// exactly the snapshotted entries are removed, so an upsert that lands
// mid-flush survives, including one that replaced a snapshotted key with
// a new value. On any dispatcher failure the ledger is left untouched and
// the joined error is returned so the caller can retry; the dispatches
// are independent, so a retry may resend entries that already applied,
// which is safe because every dispatch is an absolute-value set.
func (l *Ledger) Flush(ctx context.Context, d Dispatchers) error {
	l.mu.Lock()
	if l.flushing {
		l.mu.Unlock()
		return ErrFlushInFlight
	}
	if len(l.entries) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.flushing = true
	snapshot := make([]Change, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, entry := range snapshot {
		wg.Add(1)
		go func(i int, entry Change) {
			defer wg.Done()
			errs[i] = dispatch(ctx, d, entry)
		}(i, entry)
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushing = false

	if err := errors.Join(errs...); err != nil {
		return err
	}

	flushed := make(map[Change]struct{}, len(snapshot))
	for _, entry := range snapshot {
		flushed[entry] = struct{}{}
	}
	kept := l.entries[:0]
	for _, entry := range l.entries {
		if _, ok := flushed[entry]; !ok {
			kept = append(kept, entry)
		}
	}
	l.entries = kept
	return nil
}

// Discard drops every buffered entry without dispatching anything.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func dispatch(ctx context.Context, d Dispatchers, entry Change) error {
	switch c := entry.(type) {
	case TodoChange:
		if err := d.SetTodoCompleted(ctx, c.TodoID, c.Completed); err != nil {
			return fmt.Errorf("todo %s: %w", c.TodoID, err)
		}
	case ContactChange:
		if err := d.SetClientField(ctx, c.ClientID, string(c.Field), c.Value); err != nil {
			return fmt.Errorf("client %s %s: %w", c.ClientID, c.Field, err)
		}
	case DateChange:
		if err := d.SetClientField(ctx, c.ClientID, string(c.Field), c.Value); err != nil {
			return fmt.Errorf("client %s %s: %w", c.ClientID, c.Field, err)
		}
	default:
		return fmt.Errorf("pending: unknown change type %T", entry)
	}
	return nil
}
