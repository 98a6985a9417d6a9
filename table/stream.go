package table

import (
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

// Item is one delivery on a Sink: either ordinary data, or a terminal
// outcome (Done with no error on normal close, or a non-nil Err on error
// close). Exactly one terminal Item is ever sent per spec.md §3's Stream
// Sink invariant.
type Item struct {
	Data any
	Err  error
	Done bool
}

// Sink is a multi-shot delivery channel keyed by id (spec.md §3, §4.4).
// Grounded on the teacher's drpcmanager/mcp pattern of "a map of
// per-operation channels guarded by one mutex", generalized here to a
// broadcast-style channel with an explicit closed flag so Send after
// Close is a safe no-op rather than a panic on a closed channel.
type Sink struct {
	mu     sync.Mutex
	closed bool
	ch     chan Item
}

func newSink() *Sink {
	return &Sink{ch: make(chan Item, 64)}
}

// C returns the channel consumers range over.
func (s *Sink) C() <-chan Item { return s.ch }

// Send delivers ordinary data. A no-op once the sink is closed (spec.md
// §3: "once closed, further sends are no-ops").
func (s *Sink) Send(data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- Item{Data: data}
}

// Close delivers a normal terminal event and closes the sink. Idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ch <- Item{Done: true}
	close(s.ch)
}

// CloseWithError delivers a terminal error event and closes the sink.
// Per spec.md §3, "a closed sink still permits one terminal error delivery
// only if not yet closed" — i.e. this is exactly as idempotent as Close,
// not an exception to it.
func (s *Sink) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ch <- Item{Err: err}
	close(s.ch)
}

// Closed reports whether the sink has already delivered its terminal
// event.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StreamTable maps a stream id to its Sink (spec.md §4.4).
type StreamTable struct {
	mu      sync.Mutex
	streams map[string]*Sink
}

// NewStreamTable returns an empty StreamTable.
func NewStreamTable() *StreamTable {
	return &StreamTable{streams: make(map[string]*Sink)}
}

// GetOrCreate returns the existing sink for id, or lazily creates one —
// spec.md §4.4: "a peer may begin streaming before the local handler has
// taken ownership." A previously-closed sink is never resurrected: if the
// last sink under id was closed and removed, GetOrCreate makes a fresh
// one, which is the correct behavior for a new operation reusing an id
// only after the old one's full lifecycle completed.
func (t *StreamTable) GetOrCreate(id string) *Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[id]; ok {
		return s
	}
	s := newSink()
	t.streams[id] = s
	return s
}

// Get returns the sink for id without creating one.
func (t *StreamTable) Get(id string) (*Sink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

// Has reports whether a sink exists for id.
func (t *StreamTable) Has(id string) bool {
	_, ok := t.Get(id)
	return ok
}

// Remove deletes and returns the sink for id, if any. Callers that mean
// to terminate the sink should also Close/CloseWithError it; Remove alone
// only unlinks it from the table (e.g. after it is already closed).
func (t *StreamTable) Remove(id string) (*Sink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if ok {
		delete(t.streams, id)
	}
	return s, ok
}

// CloseAll closes every currently tracked sink with reason and clears the
// table, used by engine.Facade.Close (spec.md §4.9, §4.11).
func (t *StreamTable) CloseAll(reason error) error {
	t.mu.Lock()
	sinks := t.streams
	t.streams = make(map[string]*Sink)
	t.mu.Unlock()

	if len(sinks) == 0 {
		return nil
	}
	var result *multierror.Error
	for id, s := range sinks {
		s.CloseWithError(reason)
		result = multierror.Append(result, &idError{id: id, err: reason})
	}
	return result.ErrorOrNil()
}

// Len reports the number of currently tracked sinks.
func (t *StreamTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}
