// Package registry implements spec.md §4.6's Method Registry: a map from
// (service, method) to an opaque handler descriptor. Grounded on
// golang.org/x/tools/internal/mcp/server.go's featureSet (a name-keyed,
// mutex-guarded collection with add/remove/get, used there for tools,
// prompts and resources) and internal/mcp/shared.go's methodInfo map,
// generalized from "one handler shape" to the four call-pattern kinds
// spec.md §3 names.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/logging"
)

// Kind is the call pattern a Descriptor implements (spec.md §3).
type Kind int

const (
	Unary Kind = iota
	ServerStream
	ClientStream
	Bidi
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ServerStream:
		return "server_stream"
	case ClientStream:
		return "client_stream"
	case Bidi:
		return "bidi"
	default:
		return "unknown"
	}
}

// Context is passed to every handler invoker (spec.md §3's Context: id,
// service, method, payload, header/trailer metadata, optional deadline).
type Context struct {
	ID              string
	Service         string
	Method          string
	Payload         any
	HeaderMetadata  *envelope.Metadata
	TrailerMetadata *envelope.Metadata
	HasDeadline     bool
	Deadline        int64 // epoch millis, valid iff HasDeadline
}

// StreamEvent is one item flowing through a channel-based stream, in
// either direction: a handler's outbound server-stream, or the engine's
// inbound request-stream fed to a client-stream/bidi handler. A channel
// close with no trailing StreamEvent means normal completion; a
// StreamEvent carrying a non-nil Err, immediately followed by channel
// close, means the stream ended in error. This is the engine's
// minimal, typed-wrapper-agnostic stand-in for spec.md §6.4's
// "source-of-values" / "request-sink" — the typed contract-builder layer
// spec.md §1 leaves external is expected to adapt a user's own stream
// type to this shape at registration time.
type StreamEvent struct {
	Value any
	Err   error
}

// UnaryInvoker handles a UNARY call: it consumes a Context and returns a
// single scalar result. CLIENT_STREAM calls use ClientStreamInvoker.
type UnaryInvoker func(ctx context.Context, rc *Context) (any, error)

// ClientStreamInvoker handles a CLIENT_STREAM call: it reads the caller's
// inbound stream to completion and produces one scalar result.
type ClientStreamInvoker func(ctx context.Context, rc *Context, requestStream <-chan StreamEvent) (any, error)

// ServerStreamInvoker handles a SERVER_STREAM call: it returns a channel
// the engine drains until close, delivering a STREAM_DATA envelope for
// every non-error StreamEvent and ending the call on close or on a
// StreamEvent carrying Err.
type ServerStreamInvoker func(ctx context.Context, rc *Context) (<-chan StreamEvent, error)

// BidiInvoker handles a BIDI call: it is handed the inbound request
// stream and returns an outbound response stream, both independent
// half-streams per spec.md §4.10.
type BidiInvoker func(ctx context.Context, rc *Context, requestStream <-chan StreamEvent) (<-chan StreamEvent, error)

// Descriptor is the Method Registry's stored value (spec.md §3's Method
// Descriptor / §6.4's registration surface). Exactly one invoker field
// matching Kind should be set; Registry.Register validates this.
type Descriptor struct {
	Service string
	Method  string
	Kind    Kind

	// RequestParser/ResponseParser are optional typed-payload hooks the
	// caller's higher-level contract-builder layer may install; the
	// engine itself never calls them; they exist purely so a registered
	// Descriptor can carry them through to that layer (spec.md §1: "Typed
	// handler wrapping ... described only at the interface level").
	RequestParser  func(payload any) (any, error)
	ResponseParser func(payload any) (any, error)

	Unary        UnaryInvoker
	ClientStream ClientStreamInvoker
	ServerStream ServerStreamInvoker
	Bidi         BidiInvoker
}

func (d *Descriptor) validate() error {
	set := 0
	if d.Unary != nil {
		set++
	}
	if d.ClientStream != nil {
		set++
	}
	if d.ServerStream != nil {
		set++
	}
	if d.Bidi != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("registry: descriptor for %s.%s must set exactly one invoker, got %d", d.Service, d.Method, set)
	}
	switch d.Kind {
	case Unary:
		if d.Unary == nil {
			return fmt.Errorf("registry: descriptor for %s.%s declares Unary but no Unary invoker set", d.Service, d.Method)
		}
	case ClientStream:
		if d.ClientStream == nil {
			return fmt.Errorf("registry: descriptor for %s.%s declares ClientStream but no ClientStream invoker set", d.Service, d.Method)
		}
	case ServerStream:
		if d.ServerStream == nil {
			return fmt.Errorf("registry: descriptor for %s.%s declares ServerStream but no ServerStream invoker set", d.Service, d.Method)
		}
	case Bidi:
		if d.Bidi == nil {
			return fmt.Errorf("registry: descriptor for %s.%s declares Bidi but no Bidi invoker set", d.Service, d.Method)
		}
	default:
		return fmt.Errorf("registry: descriptor for %s.%s has unknown kind %v", d.Service, d.Method, d.Kind)
	}
	return nil
}

type key struct{ service, method string }

// Registry maps (service, method) to a Descriptor.
type Registry struct {
	log logging.Logger

	mu      sync.Mutex
	methods map[key]*Descriptor
}

// New returns an empty Registry. A nil log discards rejection messages.
func New(log logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop{}
	}
	return &Registry{log: log, methods: make(map[key]*Descriptor)}
}

// Register adds d to the registry. Re-registration of an existing
// (service, method) pair is rejected: logged and ignored, per spec.md
// §4.6, and reported to the caller via the boolean return so tests can
// assert on it without scraping logs.
func (r *Registry) Register(d *Descriptor) (bool, error) {
	if err := d.validate(); err != nil {
		return false, err
	}
	k := key{d.Service, d.Method}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[k]; exists {
		r.log.Warn(context.Background(), "registry: rejecting duplicate registration",
			"service", d.Service, "method", d.Method)
		return false, nil
	}
	r.methods[k] = d
	return true, nil
}

// Find looks up the descriptor for (service, method).
func (r *Registry) Find(service, method string) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.methods[key{service, method}]
	return d, ok
}

// MethodsFor returns every descriptor registered under service.
func (r *Registry) MethodsFor(service string) []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Descriptor
	for k, d := range r.methods {
		if k.service == service {
			out = append(out, d)
		}
	}
	return out
}

// All returns every registered descriptor, in no particular order.
func (r *Registry) All() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Descriptor, 0, len(r.methods))
	for _, d := range r.methods {
		out = append(out, d)
	}
	return out
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = make(map[key]*Descriptor)
}
