package table

import (
	"errors"
	"testing"
	"time"
)

func TestRequestTableCompleteIsIdempotent(t *testing.T) {
	rt := NewRequestTable()
	slot := rt.Register("a")

	if !rt.Complete("a", "first") {
		t.Fatal("expected first Complete to succeed")
	}
	if rt.Complete("a", "second") {
		t.Fatal("expected second Complete to be a no-op")
	}

	select {
	case <-slot.Done():
	case <-time.After(time.Second):
		t.Fatal("slot never completed")
	}
	value, err, ok := slot.Result()
	if !ok || err != nil || value != "first" {
		t.Fatalf("got (%v, %v, %v), want (first, nil, true)", value, err, ok)
	}
}

func TestRequestTableFailAfterCompleteIsNoOp(t *testing.T) {
	rt := NewRequestTable()
	rt.Register("a")
	rt.Complete("a", "value")
	if rt.Fail("a", errors.New("too late")) {
		t.Fatal("expected Fail on an already-taken id to report false")
	}
}

func TestRequestTableFailAll(t *testing.T) {
	rt := NewRequestTable()
	slots := map[string]*Slot{
		"a": rt.Register("a"),
		"b": rt.Register("b"),
		"c": rt.Register("c"),
	}
	reason := errors.New("endpoint closed")
	if err := rt.FailAll(reason); err == nil {
		t.Fatal("expected an aggregate error for 3 pending slots")
	}
	if rt.Len() != 0 {
		t.Fatalf("expected table to be empty after FailAll, got %d", rt.Len())
	}
	for id, s := range slots {
		_, err, ok := s.Result()
		if !ok {
			t.Fatalf("slot %s never resolved", id)
		}
		if !errors.Is(err, reason) {
			t.Fatalf("slot %s: got err %v, want wrapping %v", id, err, reason)
		}
	}
}

func TestRequestTableTakeRemovesEntry(t *testing.T) {
	rt := NewRequestTable()
	rt.Register("a")
	if _, ok := rt.Take("a"); !ok {
		t.Fatal("expected Take to find the registered slot")
	}
	if _, ok := rt.Take("a"); ok {
		t.Fatal("expected second Take to find nothing")
	}
}
