// Package engine implements spec.md §4.9's Engine Facade: the public
// operations a caller or handler uses to drive the RPC runtime, plus the
// read loop that decodes inbound frames and feeds the Dispatcher. Grounded
// on golang.org/x/tools/internal/mcp/transport.go's ConnectionOptions (an
// Options struct gathering a connection's dependencies) and
// internal/mcp/server.go's NewServer/Server.Run (the facade that owns a
// transport, a handler registry, and a read goroutine).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/nogipx/rpcengine-go/codec"
	"github.com/nogipx/rpcengine-go/dispatcher"
	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/fault"
	"github.com/nogipx/rpcengine-go/logging"
	"github.com/nogipx/rpcengine-go/marker"
	"github.com/nogipx/rpcengine-go/middleware"
	"github.com/nogipx/rpcengine-go/registry"
	"github.com/nogipx/rpcengine-go/table"
	"github.com/nogipx/rpcengine-go/transport"
)

// Options configures a Facade. Every field has a usable zero value except
// Transport, which must be supplied by the caller; a nil Registry defaults
// to an empty one.
type Options struct {
	Transport  transport.Transport
	Codec      codec.Codec
	Registry   *registry.Registry
	Middleware *middleware.Chain
	Log        logging.Logger
	// IDGenerator produces opaque request/stream ids. Defaults to
	// uuid.NewString, matching gravitational-teleport and rclone-rclone's
	// use of github.com/google/uuid for operation identifiers.
	IDGenerator func() string
}

func (o *Options) setDefaults() {
	if o.Codec == nil {
		o.Codec = codec.JSON{}
	}
	if o.Registry == nil {
		o.Registry = registry.New(o.Log)
	}
	if o.Middleware == nil {
		o.Middleware = middleware.New(o.Log)
	}
	if o.Log == nil {
		o.Log = logging.Nop{}
	}
	if o.IDGenerator == nil {
		o.IDGenerator = uuid.NewString
	}
}

// Facade is the engine's public surface (spec.md §4.9). It owns the
// Request Table, Stream Table, Dispatcher, and the transport's read loop.
type Facade struct {
	opts       Options
	requests   *table.RequestTable
	streams    *table.StreamTable
	dispatcher *dispatcher.Dispatcher
	deadlines  *table.DeadlineTimers
	log        logging.Logger
	mw         *middleware.Chain

	ctx        context.Context
	cancelRead context.CancelFunc
	readDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New builds a Facade and starts its inbound read loop.
func New(opts Options) *Facade {
	opts.setDefaults()

	requests := table.NewRequestTable()
	streams := table.NewStreamTable()

	f := &Facade{
		opts:      opts,
		requests:  requests,
		streams:   streams,
		deadlines: table.NewDeadlineTimers(),
		log:       opts.Log,
		mw:        opts.Middleware,
		readDone:  make(chan struct{}),
	}
	f.dispatcher = dispatcher.New(requests, streams, opts.Registry, opts.Middleware, opts.Log, f)
	f.ctx, f.cancelRead = context.WithCancel(context.Background())

	go f.readLoop()
	return f
}

// readLoop implements spec.md §4.1: decode every inbound frame and hand
// it to the Dispatcher; a decode failure is logged and the frame dropped.
func (f *Facade) readLoop() {
	defer close(f.readDone)
	frames := f.opts.Transport.Receive(f.ctx)
	for {
		select {
		case <-f.ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			env, err := f.opts.Codec.Decode(raw)
			if err != nil {
				f.log.Error(f.ctx, "engine: dropping frame that failed to decode", err)
				continue
			}
			f.dispatcher.Dispatch(f.ctx, env)
		}
	}
}

// Send implements dispatcher.Sender: encode and hand the frame to the
// transport. Outbound send is fire-and-forget from the Dispatcher's point
// of view; backpressure is the transport's responsibility (spec.md §4.1).
func (f *Facade) Send(ctx context.Context, env *envelope.Envelope) error {
	raw, err := f.opts.Codec.Encode(env)
	if err != nil {
		return fault.Wrap(err, fault.Serialization, "engine: encode outbound envelope")
	}
	if err := f.opts.Transport.Send(ctx, raw); err != nil {
		return fault.Wrap(err, fault.TransportClosed, "engine: send outbound frame")
	}
	return nil
}

// Invoke implements spec.md §4.9's invoke: allocate an id, register a
// slot, send REQUEST, optionally arm a deadline, and block for the
// result. The local deadline timer is canceled once the call returns.
func (f *Facade) Invoke(ctx context.Context, service, method string, request any, timeout time.Duration, meta *envelope.Metadata) (any, error) {
	id := f.opts.IDGenerator()
	slot := f.requests.Register(id)

	env := envelope.New(id, envelope.Request)
	env.Service, env.Method = service, method
	env.Payload = request
	if meta != nil {
		env.HeaderMetadata = meta
	}
	if err := f.Send(ctx, env); err != nil {
		f.requests.Take(id)
		return nil, err
	}

	if timeout > 0 {
		f.armLocalDeadline(id, service, method, timeout)
		defer f.deadlines.Cancel(id)
	}

	select {
	case <-slot.Done():
		value, err, _ := slot.Result()
		return value, err
	case <-ctx.Done():
		f.requests.Fail(id, ctx.Err())
		return nil, ctx.Err()
	}
}

// OpenStream implements spec.md §4.9's open_stream: use or generate an id,
// create a sink, send REQUEST (whose payload may carry an init marker),
// and return the sink's read side.
func (f *Facade) OpenStream(ctx context.Context, service, method string, request any, meta *envelope.Metadata, streamID string) (*table.Sink, error) {
	id := streamID
	if id == "" {
		id = f.opts.IDGenerator()
	}
	sink := f.streams.GetOrCreate(id)

	env := envelope.New(id, envelope.Request)
	env.Service, env.Method = service, method
	env.Payload = request
	if meta != nil {
		env.HeaderMetadata = meta
	}
	if err := f.Send(ctx, env); err != nil {
		return nil, err
	}
	return sink, nil
}

// SendStreamData implements spec.md §4.9's send_stream_data.
func (f *Facade) SendStreamData(ctx context.Context, streamID string, data any, service, method string, meta *envelope.Metadata) error {
	payload := data
	if service != "" && method != "" {
		out := f.mw.OnStreamData(ctx, service, method, middleware.Result{Payload: data, Metadata: meta}, middleware.ToRemote)
		payload = out.Payload
	}
	env := envelope.New(streamID, envelope.StreamData)
	env.Service, env.Method = service, method
	env.Payload = payload
	if meta != nil {
		env.HeaderMetadata = meta
	}
	return f.Send(ctx, env)
}

// SendStreamError implements spec.md §4.9's send_stream_error.
func (f *Facade) SendStreamError(ctx context.Context, streamID, message string) error {
	env := envelope.New(streamID, envelope.Error)
	env.Payload = message
	return f.Send(ctx, env)
}

// CloseStream implements spec.md §4.9's close_stream.
func (f *Facade) CloseStream(ctx context.Context, streamID, service, method string, meta *envelope.Metadata) error {
	f.mw.OnStreamEnd(ctx, service, method, middleware.ToRemote)
	env := envelope.New(streamID, envelope.StreamEnd)
	env.Service, env.Method = service, method
	if meta != nil {
		env.HeaderMetadata = meta
	}
	return f.Send(ctx, env)
}

// SendPing implements spec.md §4.9's send_ping: allocate an id, send a
// Ping marker as a PING envelope, await the Pong, and compute RTT.
func (f *Facade) SendPing(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	id := f.opts.IDGenerator()
	slot := f.requests.Register(id)

	ts := time.Now().UnixMilli()
	env := envelope.New(id, envelope.Ping)
	env.Payload = marker.Ping{Timestamp: ts}
	if err := f.Send(ctx, env); err != nil {
		f.requests.Take(id)
		return 0, err
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-slot.Done():
		value, err, _ := slot.Result()
		if err != nil {
			return 0, err
		}
		pong, ok := value.(marker.Pong)
		if !ok {
			if p, ok2 := value.(*marker.Pong); ok2 {
				pong = *p
			} else {
				return 0, fault.New(fault.Format, "send_ping: unexpected reply payload %T", value)
			}
		}
		return pong.RTT(), nil
	case <-timeoutCh:
		f.requests.Fail(id, fault.TimeoutError("send_ping: no pong within %s", timeout))
		_, err, _ := slot.Result()
		return 0, err
	case <-ctx.Done():
		f.requests.Fail(id, ctx.Err())
		return 0, ctx.Err()
	}
}

// SendServiceMarker implements spec.md §4.9's send_service_marker: Ping
// markers elevate the envelope kind to PING, everything else travels as
// STREAM_DATA (spec.md §9's "dual mechanism" design note).
func (f *Facade) SendServiceMarker(ctx context.Context, streamID string, m marker.Marker, service, method string, meta *envelope.Metadata) error {
	kind := envelope.StreamData
	if _, ok := m.(marker.Ping); ok {
		kind = envelope.Ping
	}
	env := envelope.New(streamID, kind)
	env.Service, env.Method = service, method
	env.Payload = m
	if meta != nil {
		env.HeaderMetadata = meta
	}
	return f.Send(ctx, env)
}

// SendStatus implements spec.md §4.9's send_status: send the Status
// marker, and on non-OK also emit a legacy ERROR envelope.
func (f *Facade) SendStatus(ctx context.Context, id string, status marker.Status, meta *envelope.Metadata) error {
	env := envelope.New(id, envelope.StreamData)
	env.Payload = status
	if meta != nil {
		env.HeaderMetadata = meta
	}
	if err := f.Send(ctx, env); err != nil {
		return err
	}
	if status.Code != marker.OK {
		errEnv := envelope.New(id, envelope.Error)
		errEnv.Payload = status.Message
		return f.Send(ctx, errEnv)
	}
	return nil
}

// SetDeadline implements spec.md §4.9's set_deadline: send a Deadline
// marker and locally arm a matching timer.
func (f *Facade) SetDeadline(ctx context.Context, id, service, method string, timeout time.Duration) error {
	deadlineAt := time.Now().Add(timeout)
	env := envelope.New(id, envelope.StreamData)
	env.Payload = marker.Deadline{EpochMS: deadlineAt.UnixMilli()}
	env.Service, env.Method = service, method
	if err := f.Send(ctx, env); err != nil {
		return err
	}
	f.armLocalDeadlineAt(id, service, method, deadlineAt)
	return nil
}

func (f *Facade) armLocalDeadline(id, service, method string, timeout time.Duration) {
	f.armLocalDeadlineAt(id, service, method, time.Now().Add(timeout))
}

func (f *Facade) armLocalDeadlineAt(id, service, method string, at time.Time) {
	f.deadlines.Arm(id, at, func() {
		ctx := context.Background()
		err := fault.TimeoutError("deadline exceeded")
		_ = f.SendStatus(ctx, id, fault.ToStatus(err), nil)
		f.requests.Fail(id, err)
		if sink, ok := f.streams.Get(id); ok {
			sink.CloseWithError(err)
		}
	})
}

// CancelOperation implements spec.md §4.9's cancel_operation.
func (f *Facade) CancelOperation(ctx context.Context, id, reason string) error {
	f.deadlines.Cancel(id)
	env := envelope.New(id, envelope.StreamData)
	env.Payload = marker.Cancel{OperationID: id, Reason: reason}
	if err := f.Send(ctx, env); err != nil {
		return err
	}
	if err := f.SendStatus(ctx, id, marker.Status{Code: marker.Cancelled, Message: reason}, nil); err != nil {
		return err
	}
	err := fault.New(fault.Custom, "cancelled: %s", reason)
	f.requests.Fail(id, err)
	if sink, ok := f.streams.Get(id); ok {
		sink.CloseWithError(err)
	}
	return nil
}

// Close implements spec.md §4.9's close: cancel the inbound subscription,
// fail every pending slot and close every sink concurrently (via
// golang.org/x/sync/errgroup, mirroring the teacher's own direct
// dependency on that package), aggregate whatever errors surface with
// hashicorp/go-multierror, and finally close the transport. Idempotent.
func (f *Facade) Close() error {
	f.closeOnce.Do(func() {
		f.cancelRead()
		<-f.readDone

		var mu sync.Mutex
		var result *multierror.Error
		record := func(err error) {
			if err == nil {
				return
			}
			mu.Lock()
			result = multierror.Append(result, err)
			mu.Unlock()
		}

		var g errgroup.Group
		g.Go(func() error {
			record(f.requests.FailAll(fmt.Errorf("endpoint closed")))
			return nil
		})
		g.Go(func() error {
			record(f.streams.CloseAll(fmt.Errorf("endpoint closed")))
			return nil
		})
		g.Go(func() error {
			f.deadlines.CancelAll()
			return nil
		})
		_ = g.Wait()

		record(f.opts.Transport.Close())
		f.closeErr = result.ErrorOrNil()
	})
	return f.closeErr
}
