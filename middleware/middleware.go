// Package middleware implements spec.md §4.5's Middleware Chain: five
// ordered, best-effort hooks run around every request, response,
// stream-data item, stream-end, and error. Grounded on
// golang.org/x/tools/internal/jsonrpc2/handler.go's middleware-as-Handler-
// wrapper style (CancelHandler, AsyncHandler, MustReplyHandler each wrap a
// Handler and return a new one) and internal/mcp/shared.go's
// Middleware[S] / addMiddleware, generalized from "wrap one handler
// function" to "run an ordered list of hooks, each allowed to transform
// payload and context".
package middleware

import (
	"context"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/logging"
)

// Direction distinguishes messages originating at the remote peer from
// messages this engine is about to send to the peer (spec.md Glossary).
type Direction int

const (
	FromRemote Direction = iota
	ToRemote
)

func (d Direction) String() string {
	if d == FromRemote {
		return "from_remote"
	}
	return "to_remote"
}

// Hook is one named middleware entry. Every field is optional; a Chain
// skips nil hooks. This is the struct form of mcp's
// Middleware[S] func(MethodHandler[S]) MethodHandler[S] — instead of
// wrapping a handler closure, each Hook is invoked directly by the Chain
// for the event it cares about, which keeps a fault in one hook from
// requiring every other hook to also understand wrapping.
type Hook struct {
	Name string

	// OnRequest/OnResponse/OnStreamData may transform payload and
	// metadata; returning the inputs unchanged is always valid.
	OnRequest    func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error)
	OnResponse   func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error)
	OnStreamData func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error)

	// OnStreamEnd and OnError are observational: spec.md §4.5 does not
	// have them transform anything.
	OnStreamEnd func(ctx context.Context, service, method string, dir Direction)
	OnError     func(ctx context.Context, service, method string, err error, dir Direction)
}

// Chain is an ordered, append-only list of Hooks. Hooks run in
// registration order. Dispatch only reads the hook list, so several
// goroutines may dispatch through one Chain at once; Append takes no lock,
// so an Append that runs concurrently with dispatch or with another Append
// is not synchronized.
type Chain struct {
	log   logging.Logger
	hooks []Hook
}

// New returns an empty Chain. If log is nil, failures are silently
// swallowed (still per spec, just unobserved).
func New(log logging.Logger) *Chain {
	if log == nil {
		log = logging.Nop{}
	}
	return &Chain{log: log}
}

// Append adds hooks to the end of the chain.
func (c *Chain) Append(hooks ...Hook) {
	c.hooks = append(c.hooks, hooks...)
}

// Result carries a request/response/stream-data payload through the
// chain alongside its metadata, so a run can be expressed as a single
// value instead of two out-parameters threaded through every hook call.
type Result struct {
	Payload  any
	Metadata *envelope.Metadata
}

// runTransform is shared by OnRequest/OnResponse/OnStreamData: it applies
// every hook in order, and on a hook fault logs and continues with the
// pre-hook (payload, metadata) pair — spec.md §4.5's "middleware faults
// never abort the call".
func (c *Chain) runTransform(
	ctx context.Context,
	name string,
	pick func(Hook) func(context.Context, string, string, any, *envelope.Metadata, Direction) (any, *envelope.Metadata, error),
	service, method string,
	in Result,
	dir Direction,
) Result {
	cur := in
	for _, h := range c.hooks {
		fn := pick(h)
		if fn == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error(ctx, "middleware panicked, continuing with pre-hook value", asError(r),
						"hook", h.Name, "stage", name, "service", service, "method", method, "direction", dir.String())
				}
			}()
			payload, meta, err := fn(ctx, service, method, cur.Payload, cur.Metadata, dir)
			if err != nil {
				c.log.Error(ctx, "middleware failed, continuing with pre-hook value", err,
					"hook", h.Name, "stage", name, "service", service, "method", method, "direction", dir.String())
				return
			}
			cur = Result{Payload: payload, Metadata: meta}
		}()
	}
	return cur
}

// OnRequest runs every hook's OnRequest, in order.
func (c *Chain) OnRequest(ctx context.Context, service, method string, in Result, dir Direction) Result {
	return c.runTransform(ctx, "on_request", func(h Hook) func(context.Context, string, string, any, *envelope.Metadata, Direction) (any, *envelope.Metadata, error) {
		return h.OnRequest
	}, service, method, in, dir)
}

// OnResponse runs every hook's OnResponse, in order.
func (c *Chain) OnResponse(ctx context.Context, service, method string, in Result, dir Direction) Result {
	return c.runTransform(ctx, "on_response", func(h Hook) func(context.Context, string, string, any, *envelope.Metadata, Direction) (any, *envelope.Metadata, error) {
		return h.OnResponse
	}, service, method, in, dir)
}

// OnStreamData runs every hook's OnStreamData, in order.
func (c *Chain) OnStreamData(ctx context.Context, service, method string, in Result, dir Direction) Result {
	return c.runTransform(ctx, "on_stream_data", func(h Hook) func(context.Context, string, string, any, *envelope.Metadata, Direction) (any, *envelope.Metadata, error) {
		return h.OnStreamData
	}, service, method, in, dir)
}

// OnStreamEnd runs every hook's OnStreamEnd, swallowing panics the same
// way runTransform does.
func (c *Chain) OnStreamEnd(ctx context.Context, service, method string, dir Direction) {
	for _, h := range c.hooks {
		if h.OnStreamEnd == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error(ctx, "middleware panicked in on_stream_end", asError(r), "hook", h.Name)
				}
			}()
			h.OnStreamEnd(ctx, service, method, dir)
		}()
	}
}

// OnError runs every hook's OnError, swallowing panics.
func (c *Chain) OnError(ctx context.Context, service, method string, callErr error, dir Direction) {
	for _, h := range c.hooks {
		if h.OnError == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error(ctx, "middleware panicked in on_error", asError(r), "hook", h.Name)
				}
			}()
			h.OnError(ctx, service, method, callErr, dir)
		}()
	}
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return "unknown panic value"
}
