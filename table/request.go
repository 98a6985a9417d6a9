// Package table implements spec.md §4.3 and §4.4: the Request Table
// (single-shot reply slots keyed by id) and the Stream Table (multi-shot
// delivery sinks keyed by id). Grounded on
// golang.org/x/tools/internal/jsonrpc2/jsonrpc2.go's Conn.pending map
// (a map[ID]chan *wireResponse guarded by a dedicated mutex) generalized
// from "one pending response channel" to "one completion cell with an
// explicit completed/failed state", per spec.md §3's Request Slot
// invariant: transitions only pending → completed or pending → failed,
// never twice.
package table

import (
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

// Slot is a single-shot completion cell. The zero value is not usable;
// construct with newSlot via RequestTable.Register.
type Slot struct {
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	value any
	err   error
}

func newSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// Done returns a channel closed once the slot transitions out of pending.
func (s *Slot) Done() <-chan struct{} { return s.done }

// complete/fail are the only ways out of pending; both are idempotent —
// a second call is a silent no-op, matching spec.md §4.3's "idempotent
// against already-completed slots".
func (s *Slot) complete(value any) {
	s.once.Do(func() {
		s.mu.Lock()
		s.value = value
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Slot) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Result returns the slot's outcome. ok is false until the slot has
// transitioned out of pending; callers typically select on Done() first.
func (s *Slot) Result() (value any, err error, ok bool) {
	select {
	case <-s.done:
	default:
		return nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err, true
}

// RequestTable maps a request id to its pending Slot, enforcing
// at-most-once completion across the whole table (spec.md §4.3).
type RequestTable struct {
	mu      sync.Mutex
	pending map[string]*Slot
}

// NewRequestTable returns an empty RequestTable.
func NewRequestTable() *RequestTable {
	return &RequestTable{pending: make(map[string]*Slot)}
}

// Register creates and stores a new pending Slot for id, overwriting any
// prior (already-resolved, since a caller never reuses an in-flight id)
// slot under the same id.
func (t *RequestTable) Register(id string) *Slot {
	s := newSlot()
	t.mu.Lock()
	t.pending[id] = s
	t.mu.Unlock()
	return s
}

// Peek returns the slot for id without removing it.
func (t *RequestTable) Peek(id string) (*Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.pending[id]
	return s, ok
}

// Take removes and returns the slot for id, if any.
func (t *RequestTable) Take(id string) (*Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return s, ok
}

// Complete resolves id's slot with value. It is a no-op (returns false) if
// id is not registered or already resolved.
func (t *RequestTable) Complete(id string, value any) bool {
	s, ok := t.Take(id)
	if !ok {
		return false
	}
	s.complete(value)
	return true
}

// Fail resolves id's slot with err. Same no-op semantics as Complete.
func (t *RequestTable) Fail(id string, err error) bool {
	s, ok := t.Take(id)
	if !ok {
		return false
	}
	s.fail(err)
	return true
}

// FailAll fails every currently-pending slot with reason, used by
// engine.Facade.Close (spec.md §4.9, §4.11). It returns the aggregate of
// however many slots existed, wrapped with hashicorp/go-multierror so a
// caller inspecting the Close error can see exactly how many operations
// were outstanding.
func (t *RequestTable) FailAll(reason error) error {
	t.mu.Lock()
	slots := t.pending
	t.pending = make(map[string]*Slot)
	t.mu.Unlock()

	if len(slots) == 0 {
		return nil
	}
	var result *multierror.Error
	for id, s := range slots {
		s.fail(reason)
		result = multierror.Append(result, &idError{id: id, err: reason})
	}
	return result.ErrorOrNil()
}

// Len reports the number of currently pending slots.
func (t *RequestTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

type idError struct {
	id  string
	err error
}

func (e *idError) Error() string { return e.id + ": " + e.err.Error() }
func (e *idError) Unwrap() error { return e.err }
