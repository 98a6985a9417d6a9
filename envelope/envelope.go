// Package envelope defines the wire-level message that crosses the
// transport between two RPC engine peers.
//
// The shape follows golang.org/x/tools/internal/jsonrpc2_v2's Message /
// Request / Response split, generalized from JSON-RPC's two-message model
// (call, response) to the engine's seven-kind envelope (REQUEST, RESPONSE,
// STREAM_DATA, STREAM_END, ERROR, PING, PONG), per spec.md §3.
package envelope

// Kind discriminates the seven envelope kinds the engine ever sends or
// receives, plus UNKNOWN for anything the codec produced that the
// dispatcher cannot route.
type Kind string

const (
	Request    Kind = "REQUEST"
	Response   Kind = "RESPONSE"
	StreamData Kind = "STREAM_DATA"
	StreamEnd  Kind = "STREAM_END"
	Error      Kind = "ERROR"
	Ping       Kind = "PING"
	Pong       Kind = "PONG"
	Unknown    Kind = "UNKNOWN"
)

// Metadata is an ordered string-to-value mapping. Insertion order is not
// semantically significant (spec.md §3) but is preserved so codecs that
// care about wire stability (and tests asserting round-trips) see a
// deterministic encoding.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata returns an empty Metadata ready for use.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// Set inserts or overwrites the value for key, preserving first-insertion
// order.
func (m *Metadata) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Len reports the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls f for every key in insertion order. It stops early if f
// returns false.
func (m *Metadata) Range(f func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !f(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a deep-enough copy: a new Metadata with the same entries,
// safe to mutate independently of m.
func (m *Metadata) Clone() *Metadata {
	out := NewMetadata()
	m.Range(func(k string, v any) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Envelope is a single framed message crossing the transport. It is the
// engine's analogue of jsonrpc2_v2's Message interface, but unified into a
// single struct (rather than a closed Request/Response sum type) because
// the engine's seven kinds share far more fields than JSON-RPC's two do.
//
// Invariant (spec.md §3): for any ID, at most one RESPONSE or terminal
// ERROR is ever sent by the responder side. The engine, not this type,
// enforces that invariant (see table.RequestTable).
type Envelope struct {
	// ID is opaque and unique per originating side. It scopes both a
	// request and its stream, if any.
	ID string
	// Kind selects how the Dispatcher routes this envelope.
	Kind Kind
	// Service and Method are required on Request, optional elsewhere
	// (carried along on STREAM_DATA so a lazily created sink can be
	// attributed to a method, per spec.md §4.4).
	Service string
	Method  string
	// Payload is opaque to the envelope itself: a user value, a map, or a
	// marker.Marker. See marker.Marker for the recognized control values.
	Payload any
	// HeaderMetadata and TrailerMetadata are ordered string-to-value maps.
	HeaderMetadata  *Metadata
	TrailerMetadata *Metadata
	// DebugLabel is informational only (spec.md §6.2).
	DebugLabel string
}

// New returns an Envelope with empty, non-nil metadata maps so callers
// never need a nil check before Set.
func New(id string, kind Kind) *Envelope {
	return &Envelope{
		ID:              id,
		Kind:            kind,
		HeaderMetadata:  NewMetadata(),
		TrailerMetadata: NewMetadata(),
	}
}

// IsCall reports whether this is a REQUEST that expects a reply, mirroring
// jsonrpc2_v2's Request.IsCall — in this engine every REQUEST is a call
// (there is no fire-and-forget notification kind at the envelope level;
// the engine's only one-way message shapes are STREAM_DATA and markers).
func (e *Envelope) IsCall() bool { return e.Kind == Request }
