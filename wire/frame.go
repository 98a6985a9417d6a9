// Package wire frames and encodes envelope.Envelope values into bytes for
// a transport.Transport, generalizing
// golang.org/x/tools/internal/jsonrpc2_v2's Framer/Reader/Writer (frame.go)
// from JSON-RPC's Message type to envelope.Envelope, and its ndjsonFramer
// (internal/mcp/transport.go) for newline-delimited batching.
package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nogipx/rpcengine-go/codec"
	"github.com/nogipx/rpcengine-go/envelope"
)

// Reader reads the next Envelope from a stream. Not safe for concurrent
// use; a Framer hands out one Reader per underlying connection, exactly
// like jsonrpc2_v2.Reader.
type Reader interface {
	Read(ctx context.Context) (*envelope.Envelope, error)
}

// Writer writes a single Envelope to a stream. Not safe for concurrent
// use.
type Writer interface {
	Write(ctx context.Context, e *envelope.Envelope) error
}

// Framer wraps byte readers/writers into Envelope readers/writers, mirroring
// jsonrpc2_v2.Framer.
type Framer interface {
	Reader(io.Reader) Reader
	Writer(io.Writer) Writer
}

// NDJSONFramer delimits envelopes with newlines, and optionally coalesces
// a run of outbound envelopes into one newline-delimited JSON array before
// flushing — the engine's analogue of internal/mcp/transport.go's
// ndjsonFramer batching support (SPEC_FULL.md "Supplemented Features").
// BatchSize of 0 or 1 disables batching.
type NDJSONFramer struct {
	Codec     codec.Codec
	BatchSize int
}

func (f *NDJSONFramer) Reader(r io.Reader) Reader {
	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}
	return &ndjsonReader{codec: c, in: bufio.NewReader(r)}
}

func (f *NDJSONFramer) Writer(w io.Writer) Writer {
	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}
	ww := &ndjsonWriter{codec: c, out: w}
	if f.BatchSize > 1 {
		ww.batch = make([]*envelope.Envelope, 0, f.BatchSize)
	}
	return ww
}

type ndjsonReader struct {
	codec codec.Codec
	in    *bufio.Reader
	mu    sync.Mutex
	queue []*envelope.Envelope
}

func (r *ndjsonReader) Read(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r.mu.Lock()
	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return next, nil
	}
	r.mu.Unlock()

	line, err := r.in.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	var rawBatch []json.RawMessage
	if json.Unmarshal(line, &rawBatch) == nil && len(rawBatch) > 0 {
		envs := make([]*envelope.Envelope, 0, len(rawBatch))
		for _, raw := range rawBatch {
			e, decErr := r.codec.Decode(raw)
			if decErr != nil {
				return nil, fmt.Errorf("decoding batched envelope: %w", decErr)
			}
			envs = append(envs, e)
		}
		first := envs[0]
		r.mu.Lock()
		r.queue = append(r.queue, envs[1:]...)
		r.mu.Unlock()
		return first, nil
	}
	return r.codec.Decode(line)
}

type ndjsonWriter struct {
	codec codec.Codec
	out   io.Writer
	mu    sync.Mutex
	batch []*envelope.Envelope
}

func (w *ndjsonWriter) Write(ctx context.Context, e *envelope.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if cap(w.batch) > 1 {
		w.mu.Lock()
		w.batch = append(w.batch, e)
		full := len(w.batch) == cap(w.batch)
		var flush []*envelope.Envelope
		if full {
			flush = w.batch
			w.batch = w.batch[:0]
		}
		w.mu.Unlock()
		if !full {
			return nil
		}
		return w.writeBatch(flush)
	}
	data, err := w.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	_, err = w.out.Write(append(data, '\n'))
	return err
}

func (w *ndjsonWriter) writeBatch(envs []*envelope.Envelope) error {
	raws := make([]json.RawMessage, 0, len(envs))
	for _, e := range envs {
		data, err := w.codec.Encode(e)
		if err != nil {
			return fmt.Errorf("encoding batched envelope: %w", err)
		}
		raws = append(raws, data)
	}
	data, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("marshaling envelope batch: %w", err)
	}
	_, err = w.out.Write(append(data, '\n'))
	return err
}
