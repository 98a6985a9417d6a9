// Package dispatcher implements spec.md §4.2 (pure routing by envelope
// kind), §4.7 (Request Path) and §4.8 (Stream Path). Grounded on
// golang.org/x/tools/internal/jsonrpc2_v2/conn.go's Conn.read loop, which
// switches an incoming Message into either "complete a pending call" or
// "run the bound Handler", and on internal/mcp/server.go's routing of
// initialize/notification/request methods — generalized here from
// JSON-RPC's two-shape Message to the engine's eight-kind Envelope.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/fault"
	"github.com/nogipx/rpcengine-go/logging"
	"github.com/nogipx/rpcengine-go/marker"
	"github.com/nogipx/rpcengine-go/middleware"
	"github.com/nogipx/rpcengine-go/registry"
	"github.com/nogipx/rpcengine-go/table"
)

// Sender is the Dispatcher's one external effect: emitting an outbound
// Envelope. engine.Facade implements this; Dispatcher never touches a
// transport or codec directly (spec.md §1: those are external
// collaborators).
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Dispatcher routes inbound envelopes (spec.md §4.2) and owns the Request
// Path and Stream Path. It holds no state beyond the tables and the
// remote-deadline timer set it is handed; "No state is held here; all
// effects go through the two tables plus the facade's send primitive"
// (spec.md §4.2) — the remote-deadline timers are the one exception the
// spec itself carves out in §4.8/§5.
type Dispatcher struct {
	Requests  *table.RequestTable
	Streams   *table.StreamTable
	Registry  *registry.Registry
	Mw        *middleware.Chain
	Log       logging.Logger
	Sender    Sender
	deadlines *table.DeadlineTimers
}

// New constructs a Dispatcher. Log may be nil (defaults to a no-op sink).
func New(requests *table.RequestTable, streams *table.StreamTable, reg *registry.Registry, mw *middleware.Chain, log logging.Logger, sender Sender) *Dispatcher {
	if log == nil {
		log = logging.Nop{}
	}
	return &Dispatcher{
		Requests:  requests,
		Streams:   streams,
		Registry:  reg,
		Mw:        mw,
		Log:       log,
		Sender:    sender,
		deadlines: table.NewDeadlineTimers(),
	}
}

// Dispatch routes one inbound envelope per spec.md §4.2.
func (d *Dispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) {
	switch env.Kind {
	case envelope.Request:
		d.handleRequest(ctx, env)
	case envelope.Response:
		d.deadlines.Cancel(env.ID)
		d.Requests.Complete(env.ID, env.Payload)
	case envelope.StreamData:
		d.handleStreamData(ctx, env)
	case envelope.StreamEnd:
		d.deadlines.Cancel(env.ID)
		d.Mw.OnStreamEnd(ctx, env.Service, env.Method, middleware.FromRemote)
		if sink, ok := d.Streams.Remove(env.ID); ok {
			sink.Close()
		}
	case envelope.Error:
		d.handleEnvelopeError(ctx, env)
	case envelope.Ping:
		d.handlePing(ctx, env)
	case envelope.Pong:
		d.Requests.Complete(env.ID, env.Payload)
	default:
		d.Log.Debug(ctx, "dispatcher: dropping envelope of unknown kind", "id", env.ID, "kind", string(env.Kind))
	}
}

func (d *Dispatcher) handleEnvelopeError(ctx context.Context, env *envelope.Envelope) {
	d.deadlines.Cancel(env.ID)
	err := toGoError(env.Payload)
	d.Mw.OnError(ctx, env.Service, env.Method, err, middleware.FromRemote)
	d.Requests.Fail(env.ID, err)
	if sink, ok := d.Streams.Get(env.ID); ok {
		sink.CloseWithError(err)
	}
}

func (d *Dispatcher) handlePing(ctx context.Context, env *envelope.Envelope) {
	ts := int64(0)
	if p, ok := env.Payload.(marker.Ping); ok {
		ts = p.Timestamp
	} else if p, ok := env.Payload.(*marker.Ping); ok {
		ts = p.Timestamp
	}
	pong := envelope.New(env.ID, envelope.Pong)
	pong.Payload = marker.Pong{OriginalTimestamp: ts, ResponseTimestamp: nowMillis()}
	pong.HeaderMetadata = env.HeaderMetadata
	if err := d.Sender.Send(ctx, pong); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send pong", err, "id", env.ID)
	}
}

// --- Request Path (spec.md §4.7) ---

func (d *Dispatcher) handleRequest(ctx context.Context, env *envelope.Envelope) {
	if env.Service == "" || env.Method == "" {
		d.failRequestWithStatus(ctx, env.ID, "", "", marker.Status{
			Code:    marker.InvalidArgument,
			Message: "request missing service/method",
		})
		return
	}
	desc, ok := d.Registry.Find(env.Service, env.Method)
	if !ok {
		d.failRequestWithStatus(ctx, env.ID, env.Service, env.Method, marker.Status{
			Code:    marker.NotFound,
			Message: fmt.Sprintf("no handler registered for %s.%s", env.Service, env.Method),
		})
		return
	}

	in := middleware.Result{Payload: env.Payload, Metadata: env.HeaderMetadata}
	transformed := d.Mw.OnRequest(ctx, env.Service, env.Method, in, middleware.FromRemote)

	rc := &registry.Context{
		ID:              env.ID,
		Service:         env.Service,
		Method:          env.Method,
		Payload:         transformed.Payload,
		HeaderMetadata:  transformed.Metadata,
		TrailerMetadata: env.TrailerMetadata,
	}

	// Every handler shape runs off the dispatch goroutine: a CLIENT_STREAM
	// or BIDI invoker blocks reading its request stream, which must not
	// stall delivery of other ids' envelopes (spec.md §5's single-executor
	// model is emulated here with one goroutine per in-flight operation
	// plus table-level mutexes, per §5's own allowance for that).
	switch desc.Kind {
	case registry.Unary:
		go d.runUnary(ctx, env, desc, rc)
	case registry.ClientStream:
		sink := d.Streams.GetOrCreate(env.ID)
		reqStream := streamEventsFromSink(sink)
		go func() {
			value, err := desc.ClientStream(ctx, rc, reqStream)
			d.finishScalar(ctx, env, value, err)
		}()
	case registry.ServerStream:
		go d.runServerStream(ctx, env, desc, rc)
	case registry.Bidi:
		sink := d.Streams.GetOrCreate(env.ID)
		reqStream := streamEventsFromSink(sink)
		go func() {
			source, err := desc.Bidi(ctx, rc, reqStream)
			if err != nil {
				d.finishScalar(ctx, env, nil, err)
				return
			}
			d.deliverServerStream(ctx, env, source)
		}()
	}
}

func (d *Dispatcher) runUnary(ctx context.Context, env *envelope.Envelope, desc *registry.Descriptor, rc *registry.Context) {
	value, err := desc.Unary(ctx, rc)
	d.finishScalar(ctx, env, value, err)
}

// finishScalar implements §4.7's "Scalar" result handling and the shared
// error tail ("On any thrown error ... map the error to a Status code").
func (d *Dispatcher) finishScalar(ctx context.Context, env *envelope.Envelope, value any, err error) {
	if err != nil {
		d.failRequest(ctx, env.ID, env.Service, env.Method, err)
		return
	}
	out := d.Mw.OnResponse(ctx, env.Service, env.Method, middleware.Result{Payload: value}, middleware.ToRemote)
	resp := envelope.New(env.ID, envelope.Response)
	resp.Service, resp.Method = env.Service, env.Method
	resp.Payload = out.Payload
	if err := d.Sender.Send(ctx, resp); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send response", err, "id", env.ID)
		return
	}
	d.sendStatus(ctx, env.ID, marker.Status{Code: marker.OK})
}

func (d *Dispatcher) runServerStream(ctx context.Context, env *envelope.Envelope, desc *registry.Descriptor, rc *registry.Context) {
	source, err := desc.ServerStream(ctx, rc)
	if err != nil {
		d.finishScalar(ctx, env, nil, err)
		return
	}
	d.deliverServerStream(ctx, env, source)
}

// deliverServerStream implements §4.7's "Server-stream source" /
// "Bidirectional source" delivery: a synthetic "Stream started" response,
// then STREAM_DATA per item, then STREAM_END + Status(OK), or an ERROR
// envelope + mapped Status on source failure. This is the source's
// normative server-streaming contract per spec.md §9 Open Question 2.
func (d *Dispatcher) deliverServerStream(ctx context.Context, env *envelope.Envelope, source <-chan registry.StreamEvent) {
	resp := envelope.New(env.ID, envelope.Response)
	resp.Service, resp.Method = env.Service, env.Method
	resp.Payload = "Stream started"
	if err := d.Sender.Send(ctx, resp); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send stream-started response", err, "id", env.ID)
		return
	}

	for ev := range source {
		if ev.Err != nil {
			d.sendLegacyError(ctx, env.ID, ev.Err.Error())
			d.sendStatus(ctx, env.ID, fault.ToStatus(ev.Err))
			return
		}
		out := d.Mw.OnStreamData(ctx, env.Service, env.Method, middleware.Result{Payload: ev.Value}, middleware.ToRemote)
		data := envelope.New(env.ID, envelope.StreamData)
		data.Service, data.Method = env.Service, env.Method
		data.Payload = out.Payload
		if err := d.Sender.Send(ctx, data); err != nil {
			d.Log.Error(ctx, "dispatcher: failed to send stream data", err, "id", env.ID)
			return
		}
	}
	end := envelope.New(env.ID, envelope.StreamEnd)
	end.Service, end.Method = env.Service, env.Method
	if err := d.Sender.Send(ctx, end); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send stream end", err, "id", env.ID)
		return
	}
	d.sendStatus(ctx, env.ID, marker.Status{Code: marker.OK})
}

// failRequest is the shared error tail of §4.7 step 5: map to Status, send
// it, and also send a legacy ERROR envelope for back-compat consumers.
func (d *Dispatcher) failRequest(ctx context.Context, id, service, method string, err error) {
	d.Mw.OnError(ctx, service, method, err, middleware.ToRemote)
	d.sendLegacyError(ctx, id, err.Error())
	d.sendStatus(ctx, id, fault.ToStatus(err))
}

// failRequestWithStatus sends a protocol-level failure that is not routed
// through the fault.Category table — spec.md §4.7 steps 1-2 name
// INVALID_ARGUMENT and NOT_FOUND directly, independent of the error
// taxonomy used for handler-thrown faults.
func (d *Dispatcher) failRequestWithStatus(ctx context.Context, id, service, method string, status marker.Status) {
	d.Mw.OnError(ctx, service, method, status, middleware.ToRemote)
	d.sendLegacyError(ctx, id, status.Message)
	d.sendStatus(ctx, id, status)
}

func (d *Dispatcher) sendStatus(ctx context.Context, id string, status marker.Status) {
	env := envelope.New(id, envelope.StreamData)
	env.Payload = status
	if err := d.Sender.Send(ctx, env); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send status", err, "id", id)
	}
}

func (d *Dispatcher) sendLegacyError(ctx context.Context, id, message string) {
	env := envelope.New(id, envelope.Error)
	env.Payload = message
	if err := d.Sender.Send(ctx, env); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send legacy error", err, "id", id)
	}
}

// --- Stream Path (spec.md §4.8) ---

func (d *Dispatcher) handleStreamData(ctx context.Context, env *envelope.Envelope) {
	sink, ok := d.Streams.Get(env.ID)
	if !ok {
		if env.Service == "" && env.Method == "" {
			d.Log.Debug(ctx, "dispatcher: dropping stream data for unknown id with no service/method", "id", env.ID)
			return
		}
		sink = d.Streams.GetOrCreate(env.ID)
	}

	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	if m, isMarker := asMarker(payload); isMarker {
		d.handleStreamMarker(ctx, env, sink, m)
		return
	}

	out := d.Mw.OnStreamData(ctx, env.Service, env.Method, middleware.Result{Payload: payload, Metadata: env.HeaderMetadata}, middleware.FromRemote)
	sink.Send(out.Payload)
}

func asMarker(payload any) (marker.Marker, bool) {
	m, ok := payload.(marker.Marker)
	return m, ok
}

func (d *Dispatcher) handleStreamMarker(ctx context.Context, env *envelope.Envelope, sink *table.Sink, m marker.Marker) {
	switch mm := m.(type) {
	case marker.ClientStreamEnd:
		d.Mw.OnStreamEnd(ctx, env.Service, env.Method, middleware.FromRemote)
		sink.Send(mm)
		sink.Close()
	case marker.ServerStreamEnd, marker.Headers, marker.Trailers, marker.FlowControl,
		marker.Compression, marker.HealthCheck, marker.ClientStreamingInit,
		marker.BidirectionalInit, marker.ChannelClosed:
		sink.Send(mm)
	case marker.Ping:
		pong := marker.Pong{OriginalTimestamp: mm.Timestamp, ResponseTimestamp: nowMillis()}
		d.sendStreamData(ctx, env.ID, env.Service, env.Method, pong)
	case marker.Pong:
		d.deadlines.Cancel(env.ID)
		d.Requests.Complete(env.ID, mm)
	case marker.Status:
		if mm.Code == marker.OK {
			sink.Send(mm)
			return
		}
		d.deadlines.Cancel(env.ID)
		err := error(mm)
		d.Requests.Fail(env.ID, err)
		sink.CloseWithError(err)
	case marker.Deadline:
		d.handleDeadlineMarker(ctx, env, sink, mm)
	case marker.Cancel:
		d.handleCancelMarker(ctx, env, sink, mm)
	default:
		sink.Send(mm)
	}
}

func (d *Dispatcher) sendStreamData(ctx context.Context, id, service, method string, payload any) {
	env := envelope.New(id, envelope.StreamData)
	env.Service, env.Method = service, method
	env.Payload = payload
	if err := d.Sender.Send(ctx, env); err != nil {
		d.Log.Error(ctx, "dispatcher: failed to send stream data", err, "id", id)
	}
}

func (d *Dispatcher) handleDeadlineMarker(ctx context.Context, env *envelope.Envelope, sink *table.Sink, dl marker.Deadline) {
	sink.Send(dl)
	expire := func() {
		d.expireDeadline(context.Background(), env.ID, env.Service, env.Method)
	}
	if dl.Expired(time.Now()) {
		expire()
		return
	}
	d.deadlines.Arm(env.ID, dl.At(), expire)
}

func (d *Dispatcher) expireDeadline(ctx context.Context, id, service, method string) {
	err := fault.New(fault.Timeout, "deadline exceeded")
	d.sendStatus(ctx, id, fault.ToStatus(err))
	d.Requests.Fail(id, err)
	if sink, ok := d.Streams.Get(id); ok {
		sink.CloseWithError(err)
	}
}

func (d *Dispatcher) handleCancelMarker(ctx context.Context, env *envelope.Envelope, sink *table.Sink, c marker.Cancel) {
	if c.OperationID != env.ID {
		sink.Send(c)
		return
	}
	d.deadlines.Cancel(env.ID)
	err := fault.New(fault.Custom, "cancelled: %s", c.Reason)
	d.sendStatus(ctx, env.ID, marker.Status{Code: marker.Cancelled, Message: c.Reason})
	d.Requests.Fail(env.ID, err)
	sink.CloseWithError(err)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func toGoError(payload any) error {
	if payload == nil {
		return fault.New(fault.Custom, "remote error")
	}
	if s, ok := payload.(string); ok {
		return fault.New(fault.Custom, "%s", s)
	}
	if err, ok := payload.(error); ok {
		return err
	}
	return fault.New(fault.Custom, "remote error: %v", payload)
}

// streamEventsFromSink adapts a table.Sink (the universal inbound
// delivery mechanism for a stream id) into the channel shape
// registry.ClientStreamInvoker/BidiInvoker expect for their request
// stream, so CLIENT_STREAM and BIDI handlers read inbound STREAM_DATA
// through the same Stream Table plumbing as every other consumer
// (spec.md §4.4's sink is "shared between the engine (producer) and the
// consumer").
func streamEventsFromSink(sink *table.Sink) <-chan registry.StreamEvent {
	out := make(chan registry.StreamEvent)
	go func() {
		defer close(out)
		for item := range sink.C() {
			if item.Done {
				return
			}
			if item.Err != nil {
				out <- registry.StreamEvent{Err: item.Err}
				return
			}
			out <- registry.StreamEvent{Value: item.Data}
		}
	}()
	return out
}
