package envelope

import "testing"

func TestNewHasUsableMetadata(t *testing.T) {
	e := New("id-1", Request)
	if e.HeaderMetadata == nil || e.TrailerMetadata == nil {
		t.Fatal("New() must return non-nil metadata maps")
	}
	e.HeaderMetadata.Set("k", "v")
	if v, ok := e.HeaderMetadata.Get("k"); !ok || v != "v" {
		t.Fatalf("HeaderMetadata.Get(k) = (%v, %v), want (v, true)", v, ok)
	}
}

func TestIsCallOnlyForRequest(t *testing.T) {
	cases := map[Kind]bool{
		Request:    true,
		Response:   false,
		StreamData: false,
		StreamEnd:  false,
		Error:      false,
		Ping:       false,
		Pong:       false,
	}
	for kind, want := range cases {
		e := New("id", kind)
		if got := e.IsCall(); got != want {
			t.Errorf("Envelope{Kind: %v}.IsCall() = %v, want %v", kind, got, want)
		}
	}
}

func TestMetadataPreservesInsertionOrder(t *testing.T) {
	m := NewMetadata()
	m.Set("c", 3)
	m.Set("a", 1)
	m.Set("b", 2)

	var keys []string
	m.Range(func(k string, v any) bool {
		keys = append(keys, k)
		return true
	})
	want := []string{"c", "a", "b"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestMetadataSetOverwriteKeepsOriginalPosition(t *testing.T) {
	m := NewMetadata()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 99)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	v, _ := m.Get("a")
	if v != 99 {
		t.Fatalf("Get(a) = %v, want 99", v)
	}
}

func TestMetadataRangeStopsEarly(t *testing.T) {
	m := NewMetadata()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	var seen []string
	m.Range(func(k string, v any) bool {
		seen = append(seen, k)
		return k != "b"
	})
	if len(seen) != 2 {
		t.Fatalf("Range kept going past a false return: %v", seen)
	}
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	m := NewMetadata()
	m.Set("a", 1)
	clone := m.Clone()
	clone.Set("b", 2)

	if m.Len() != 1 {
		t.Fatalf("original Len() = %d, want 1 (clone must not alias)", m.Len())
	}
	if clone.Len() != 2 {
		t.Fatalf("clone Len() = %d, want 2", clone.Len())
	}
}

func TestNilMetadataIsSafeToReadFrom(t *testing.T) {
	var m *Metadata
	if m.Len() != 0 {
		t.Fatal("Len() on a nil Metadata must be 0")
	}
	if _, ok := m.Get("x"); ok {
		t.Fatal("Get() on a nil Metadata must report false")
	}
	m.Range(func(k string, v any) bool {
		t.Fatal("Range() on a nil Metadata must call f zero times")
		return true
	})
}
