package table

import (
	"errors"
	"testing"
	"time"
)

func drain(t *testing.T, s *Sink, timeout time.Duration) []Item {
	t.Helper()
	var items []Item
	for {
		select {
		case item, ok := <-s.C():
			if !ok {
				return items
			}
			items = append(items, item)
			if item.Done || item.Err != nil {
				return items
			}
		case <-time.After(timeout):
			t.Fatal("timed out waiting for sink item")
		}
	}
}

func TestSinkNormalClose(t *testing.T) {
	s := newSink()
	s.Send("a")
	s.Send("b")
	s.Close()

	items := drain(t, s, time.Second)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Data != "a" || items[1].Data != "b" {
		t.Fatalf("unexpected data items: %+v", items[:2])
	}
	if !items[2].Done || items[2].Err != nil {
		t.Fatalf("expected a trailing Done item, got %+v", items[2])
	}
	if !s.Closed() {
		t.Fatal("expected sink to report Closed() == true")
	}
}

func TestSinkErrorClose(t *testing.T) {
	s := newSink()
	reason := errors.New("boom")
	s.CloseWithError(reason)

	items := drain(t, s, time.Second)
	if len(items) != 1 || !errors.Is(items[0].Err, reason) {
		t.Fatalf("got %+v, want a single item wrapping %v", items, reason)
	}
}

func TestSinkSendAfterCloseIsNoOp(t *testing.T) {
	s := newSink()
	s.Close()
	// Must not panic on a closed channel and must not block.
	s.Send("late")
	s.CloseWithError(errors.New("also late"))
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	s := newSink()
	s.Close()
	s.Close()
	s.CloseWithError(errors.New("ignored"))
}

func TestStreamTableGetOrCreateLazyAndStable(t *testing.T) {
	st := NewStreamTable()
	a := st.GetOrCreate("x")
	b := st.GetOrCreate("x")
	if a != b {
		t.Fatal("expected the same sink instance for the same id")
	}
	if !st.Has("x") {
		t.Fatal("expected Has to report true after GetOrCreate")
	}
}

func TestStreamTableRemoveUnlinksOnly(t *testing.T) {
	st := NewStreamTable()
	s := st.GetOrCreate("x")
	removed, ok := st.Remove("x")
	if !ok || removed != s {
		t.Fatal("expected Remove to return the same sink")
	}
	if st.Has("x") {
		t.Fatal("expected the id to be gone from the table")
	}
	if s.Closed() {
		t.Fatal("Remove alone must not close the sink")
	}
}

func TestStreamTableCloseAll(t *testing.T) {
	st := NewStreamTable()
	sinks := []*Sink{st.GetOrCreate("a"), st.GetOrCreate("b")}
	reason := errors.New("shutdown")
	if err := st.CloseAll(reason); err == nil {
		t.Fatal("expected an aggregate error for 2 open sinks")
	}
	if st.Len() != 0 {
		t.Fatalf("expected table to be empty after CloseAll, got %d", st.Len())
	}
	for _, s := range sinks {
		if !s.Closed() {
			t.Fatal("expected every sink to be closed")
		}
	}
}
