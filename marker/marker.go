// Package marker implements the Service Marker tagged variant of spec.md
// §3 and §6.3: structured control values that travel as an Envelope's
// Payload, discriminated by a well-known field, rather than as a distinct
// envelope kind.
//
// This mirrors golang.org/x/tools/internal/jsonrpc2_v2's WireError (a
// structured payload embedded in a Response) and
// internal/mcp/internal/protocol's typed notification params — both are
// "a tagged struct carried as an opaque payload" in exactly this shape.
package marker

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
)

// Kind names a recognized marker, used as the wire discriminator field
// (conventionally "_marker_type" per spec.md §6.3).
type Kind string

const (
	KindStatus              Kind = "status"
	KindDeadline            Kind = "deadline"
	KindCancel              Kind = "cancel"
	KindPing                Kind = "ping"
	KindPong                Kind = "pong"
	KindClientStreamEnd     Kind = "client_stream_end"
	KindServerStreamEnd     Kind = "server_stream_end"
	KindChannelClosed       Kind = "channel_closed"
	KindHeaders             Kind = "headers"
	KindTrailers            Kind = "trailers"
	KindClientStreamingInit Kind = "client_streaming_init"
	KindBidirectionalInit   Kind = "bidirectional_init"
	KindHealthCheck         Kind = "health_check"
	KindFlowControl         Kind = "flow_control"
	KindCompression         Kind = "compression"
)

// Code is the status code carried by a Status marker. spec.md §6.5's status
// table is, field for field, gRPC's canonical code table, so the engine
// reuses google.golang.org/grpc/codes.Code's numeric values instead of
// redeclaring the same seventeen constants (see SPEC_FULL.md's Domain Stack
// section). Code is a defined type rather than an alias of codes.Code so it
// can carry its own wire encoding: spec.md §6.3 requires Status.code travel
// as the code's string name, not codes.Code's bare uint32.
type Code codes.Code

// Re-exported so callers of this package never need to import
// google.golang.org/grpc/codes directly for the subset spec.md actively
// uses (§4.7, §4.8).
const (
	OK                 = Code(codes.OK)
	Cancelled          = Code(codes.Canceled)
	Unknown            = Code(codes.Unknown)
	InvalidArgument    = Code(codes.InvalidArgument)
	DeadlineExceeded   = Code(codes.DeadlineExceeded)
	NotFound           = Code(codes.NotFound)
	AlreadyExists      = Code(codes.AlreadyExists)
	PermissionDenied   = Code(codes.PermissionDenied)
	ResourceExhausted  = Code(codes.ResourceExhausted)
	FailedPrecondition = Code(codes.FailedPrecondition)
	Aborted            = Code(codes.Aborted)
	OutOfRange         = Code(codes.OutOfRange)
	Unimplemented      = Code(codes.Unimplemented)
	Internal           = Code(codes.Internal)
	Unavailable        = Code(codes.Unavailable)
	DataLoss           = Code(codes.DataLoss)
	Unauthenticated    = Code(codes.Unauthenticated)
)

// codeNames is the wire name for each Code, per spec.md §6.3's requirement
// that Status.code travel as a string rather than a bare integer.
var codeNames = map[Code]string{
	OK:                 "OK",
	Cancelled:          "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

var namesToCode = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, name := range codeNames {
		m[name] = c
	}
	return m
}()

// String renders the code's wire name, e.g. "INVALID_ARGUMENT".
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint32(c))
}

// MarshalJSON encodes a Code as its wire name (spec.md §6.3), not its
// numeric value.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a Code from its wire name. An unrecognized name
// decodes to Unknown rather than erroring, mirroring FromMapping's
// degraded-mode handling of unrecognized markers elsewhere in this package.
func (c *Code) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if code, ok := namesToCode[name]; ok {
		*c = code
		return nil
	}
	*c = Unknown
	return nil
}

// Marker is the interface implemented by every recognized Service Marker.
// The set is deliberately closed (a private method) the same way
// jsonrpc2_v2.Message closes Request/Response: callers switch on
// concrete type or on MarkerKind(), never on an open interface.
type Marker interface {
	MarkerKind() Kind
	isMarker()
}

// Details carries the free-form {error, stackTrace} pair spec.md §4.7
// attaches to non-OK statuses produced by a mapped fault.
type Details struct {
	Error      string `json:"error,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Status is the terminal or informational status marker. Status.Code OK
// on a stream path is treated as ordinary data (spec.md §4.8); any other
// code terminates the operation.
type Status struct {
	Code    Code     `json:"code"`
	Message string   `json:"message,omitempty"`
	Details *Details `json:"details,omitempty"`
}

func (Status) MarkerKind() Kind { return KindStatus }
func (Status) isMarker()        {}

// Error implements the error interface so a Status can be returned
// directly as a Go error from facade operations (spec.md §7's
// "RPC Error [<CODE>]: <message>" user-visible failure shape).
func (s Status) Error() string {
	return fmt.Sprintf("RPC Error [%s]: %s", s.Code, s.Message)
}

// Deadline marks an absolute instant after which the operation must
// terminate with DEADLINE_EXCEEDED (spec.md §3, Glossary).
type Deadline struct {
	EpochMS int64 `json:"epoch_ms"`
}

func (Deadline) MarkerKind() Kind { return KindDeadline }
func (Deadline) isMarker()        {}

// At returns the deadline as a time.Time.
func (d Deadline) At() time.Time {
	return time.UnixMilli(d.EpochMS)
}

// Expired reports whether the deadline has already passed as of now.
func (d Deadline) Expired(now time.Time) bool {
	return !now.Before(d.At())
}

// Cancel requests termination of the operation named by OperationID.
type Cancel struct {
	OperationID string   `json:"operation_id"`
	Reason      string   `json:"reason,omitempty"`
	Details     *Details `json:"details,omitempty"`
}

func (Cancel) MarkerKind() Kind { return KindCancel }
func (Cancel) isMarker()        {}

// Ping carries a timestamp the peer must echo back in a Pong.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

func (Ping) MarkerKind() Kind { return KindPing }
func (Ping) isMarker()        {}

// Pong answers a Ping, echoing its timestamp and adding the responder's
// own, so the caller of send_ping can compute round-trip time.
type Pong struct {
	OriginalTimestamp int64 `json:"original_timestamp"`
	ResponseTimestamp int64 `json:"response_timestamp"`
}

func (Pong) MarkerKind() Kind { return KindPong }
func (Pong) isMarker()        {}

// RTT returns the measured round-trip duration.
func (p Pong) RTT() time.Duration {
	return time.Duration(p.ResponseTimestamp-p.OriginalTimestamp) * time.Millisecond
}

// ClientStreamEnd signals the caller-to-responder half of a stream is done.
type ClientStreamEnd struct{}

func (ClientStreamEnd) MarkerKind() Kind { return KindClientStreamEnd }
func (ClientStreamEnd) isMarker()        {}

// ServerStreamEnd signals the responder-to-caller half of a stream is done.
type ServerStreamEnd struct{}

func (ServerStreamEnd) MarkerKind() Kind { return KindServerStreamEnd }
func (ServerStreamEnd) isMarker()        {}

// ChannelClosed signals that the whole bidirectional channel (both halves)
// is closed.
type ChannelClosed struct{}

func (ChannelClosed) MarkerKind() Kind { return KindChannelClosed }
func (ChannelClosed) isMarker()        {}

// Headers carries header metadata out of band from the Envelope's own
// HeaderMetadata field (used by transports/codecs that need headers to
// arrive as an ordinary stream item, e.g. mid-stream header updates).
type Headers struct {
	Values map[string]string `json:"values,omitempty"`
}

func (Headers) MarkerKind() Kind { return KindHeaders }
func (Headers) isMarker()        {}

// Trailers is the Headers analogue for trailing metadata.
type Trailers struct {
	Values map[string]string `json:"values,omitempty"`
}

func (Trailers) MarkerKind() Kind { return KindTrailers }
func (Trailers) isMarker()        {}

// ClientStreamingInit opens a client-streaming call: the caller announces
// a stream id and optional params before sending any STREAM_DATA.
type ClientStreamingInit struct {
	StreamID string         `json:"stream_id"`
	Params   map[string]any `json:"params,omitempty"`
}

func (ClientStreamingInit) MarkerKind() Kind { return KindClientStreamingInit }
func (ClientStreamingInit) isMarker()        {}

// BidirectionalInit is the ClientStreamingInit analogue for BIDI calls.
type BidirectionalInit struct {
	StreamID string         `json:"stream_id"`
	Params   map[string]any `json:"params,omitempty"`
}

func (BidirectionalInit) MarkerKind() Kind { return KindBidirectionalInit }
func (BidirectionalInit) isMarker()        {}

// HealthCheck is a liveness probe distinct from Ping/Pong (no RTT
// measurement semantics; delivered to the sink untouched per spec.md §4.8).
type HealthCheck struct{}

func (HealthCheck) MarkerKind() Kind { return KindHealthCheck }
func (HealthCheck) isMarker()        {}

// FlowControl is an opaque backpressure hint, delivered to the sink
// untouched; the engine does not interpret it (spec.md §4.8).
type FlowControl struct {
	WindowSize int64 `json:"window_size,omitempty"`
}

func (FlowControl) MarkerKind() Kind { return KindFlowControl }
func (FlowControl) isMarker()        {}

// Compression negotiates a codec-level compression scheme out of band;
// the engine itself is codec-agnostic and simply forwards it.
type Compression struct {
	Scheme string `json:"scheme,omitempty"`
}

func (Compression) MarkerKind() Kind { return KindCompression }
func (Compression) isMarker()        {}
