// Package fault defines the engine's error taxonomy (spec.md §7) and its
// mapping onto marker.Status codes (spec.md §4.7). Grounded on
// golang.org/x/tools/internal/jsonrpc2_v2/messages.go's toWireError, which
// wraps an arbitrary error in a *WireError carrying a wire code, and on
// github.com/pkg/errors (a direct dependency of bearlytools-claw) for the
// stack-trace capture toWireError itself does not need but spec.md §7's
// Internal/TransportClosed categories do, since those are almost always
// symptoms worth a trace at the point they were first raised.
package fault

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/nogipx/rpcengine-go/marker"
)

// Category is one of spec.md §7's error kinds.
type Category int

const (
	Argument Category = iota
	Format
	Timeout
	IllegalState
	NotImplemented
	Custom
	Internal
	TransportClosed
	Serialization
	MiddlewareFailure
)

func (c Category) String() string {
	switch c {
	case Argument:
		return "argument"
	case Format:
		return "format"
	case Timeout:
		return "timeout"
	case IllegalState:
		return "illegal_state"
	case NotImplemented:
		return "not_implemented"
	case Custom:
		return "custom"
	case Internal:
		return "internal"
	case TransportClosed:
		return "transport_closed"
	case Serialization:
		return "serialization"
	case MiddlewareFailure:
		return "middleware_failure"
	default:
		return "unknown"
	}
}

// Code is the marker.Code this Category maps to by default (spec.md §4.7's
// error-to-status table), reusing grpc's status codes end to end since
// spec.md's table is that table.
func (c Category) Code() marker.Code {
	switch c {
	case Argument, Format:
		return marker.InvalidArgument
	case Timeout:
		return marker.DeadlineExceeded
	case IllegalState:
		return marker.FailedPrecondition
	case NotImplemented:
		return marker.Unimplemented
	case TransportClosed:
		return marker.Unavailable
	case MiddlewareFailure:
		return marker.Internal
	case Custom, Internal, Serialization:
		return marker.Internal
	default:
		return marker.Unknown
	}
}

// Fault is the engine's concrete error type: a Category, a message, and a
// stack trace captured at the point of New/Wrap (pkg/errors.New or
// pkg/errors.Wrap).
type Fault struct {
	category Category
	msg      string
	cause    error
}

// New creates a Fault of the given category, capturing a stack trace.
func New(category Category, format string, args ...any) *Fault {
	msg := fmt.Sprintf(format, args...)
	return &Fault{category: category, msg: msg, cause: pkgerrors.New(msg)}
}

// Wrap attaches category to an existing error, capturing a stack trace at
// the wrap site (pkg/errors.Wrap), unless err is already a *Fault, in which
// case its category is preserved and only the message gains context.
func Wrap(err error, category Category, context string) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Fault); ok {
		return &Fault{category: f.category, msg: context + ": " + f.msg, cause: pkgerrors.Wrap(f.cause, context)}
	}
	return &Fault{category: category, msg: context + ": " + err.Error(), cause: pkgerrors.Wrap(err, context)}
}

func (f *Fault) Error() string { return f.msg }

func (f *Fault) Unwrap() error { return f.cause }

// Category reports the Fault's taxonomy entry.
func (f *Fault) Category() Category { return f.category }

// StackTrace renders the captured stack, per pkg/errors' convention of
// exposing it via a %+v format verb on the wrapped cause.
func (f *Fault) StackTrace() string {
	return fmt.Sprintf("%+v", f.cause)
}

// ToStatus converts a Fault into the marker.Status the engine sends back to
// the peer (spec.md §4.7). Non-Fault errors are treated as Internal.
func ToStatus(err error) marker.Status {
	if err == nil {
		return marker.Status{Code: marker.OK}
	}
	f, ok := err.(*Fault)
	if !ok {
		return marker.Status{
			Code:    marker.Internal,
			Message: err.Error(),
		}
	}
	return marker.Status{
		Code:    f.category.Code(),
		Message: f.msg,
		Details: &marker.Details{Error: f.msg, StackTrace: f.StackTrace()},
	}
}

// ArgumentError constructs an Argument-category Fault (e.g. an invalid
// request payload).
func ArgumentError(format string, args ...any) *Fault { return New(Argument, format, args...) }

// NotImplementedError constructs a NotImplemented-category Fault.
func NotImplementedError(service, method string) *Fault {
	return New(NotImplemented, "no handler registered for %s.%s", service, method)
}

// TimeoutError constructs a Timeout-category Fault. Named distinctly from
// the Category constant Timeout to keep call sites readable.
func TimeoutError(format string, args ...any) *Fault { return New(Timeout, format, args...) }

// TransportClosedError constructs a TransportClosed-category Fault.
func TransportClosedError(cause error) *Fault {
	return Wrap(cause, TransportClosed, "transport closed")
}
