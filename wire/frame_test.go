package wire

import (
	"bytes"
	"context"
	"testing"

	"github.com/nogipx/rpcengine-go/envelope"
)

func TestNDJSONFramerRoundTripUnbatched(t *testing.T) {
	framer := &NDJSONFramer{}
	var buf bytes.Buffer
	w := framer.Writer(&buf)

	e := envelope.New("id-1", envelope.Request)
	e.Service, e.Method = "svc", "do"
	e.Payload = "hello"
	if err := w.Write(context.Background(), e); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := framer.Reader(&buf)
	got, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != e.ID || got.Service != e.Service || got.Method != e.Method || got.Payload != e.Payload {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestNDJSONFramerRoundTripMultipleFrames(t *testing.T) {
	framer := &NDJSONFramer{}
	var buf bytes.Buffer
	w := framer.Writer(&buf)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		e := envelope.New(id, envelope.Response)
		e.Payload = id
		if err := w.Write(context.Background(), e); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}

	r := framer.Reader(&buf)
	for _, id := range ids {
		got, err := r.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got.ID != id {
			t.Fatalf("got id %q, want %q", got.ID, id)
		}
	}
}

func TestNDJSONFramerBatchesAndUnbatchesTransparently(t *testing.T) {
	framer := &NDJSONFramer{BatchSize: 3}
	var buf bytes.Buffer
	w := framer.Writer(&buf)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		e := envelope.New(id, envelope.StreamData)
		e.Payload = id
		if err := w.Write(context.Background(), e); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}
	// Nothing should have been flushed before the batch filled up... except
	// the third Write completes the batch of 3 and flushes it as one line.
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 1 {
		t.Fatalf("expected exactly one flushed line for a full batch of 3, got %d", n)
	}

	r := framer.Reader(&buf)
	for _, id := range ids {
		got, err := r.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got.ID != id {
			t.Fatalf("got id %q, want %q", got.ID, id)
		}
	}
}

func TestNDJSONFramerBatchWithheldUntilFull(t *testing.T) {
	framer := &NDJSONFramer{BatchSize: 2}
	var buf bytes.Buffer
	w := framer.Writer(&buf)

	e := envelope.New("only-one", envelope.StreamData)
	if err := w.Write(context.Background(), e); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected nothing written until the batch of 2 fills up")
	}
}
