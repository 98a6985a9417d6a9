package marker

import (
	"testing"
	"time"
)

func TestStatusRoundTrip(t *testing.T) {
	original := Status{Code: InvalidArgument, Message: "bad field", Details: &Details{Error: "x"}}
	mapping, err := ToMapping(original)
	if err != nil {
		t.Fatalf("ToMapping: %v", err)
	}
	if mapping[discriminatorField] != string(KindStatus) {
		t.Fatalf("discriminator = %v, want %v", mapping[discriminatorField], KindStatus)
	}
	if mapping["code"] != "INVALID_ARGUMENT" {
		t.Fatalf("mapping[code] = %v, want the wire name %q, not a bare integer", mapping["code"], "INVALID_ARGUMENT")
	}

	back, ok, err := FromMapping(mapping)
	if err != nil || !ok {
		t.Fatalf("FromMapping: ok=%v err=%v", ok, err)
	}
	got, ok := back.(Status)
	if !ok {
		t.Fatalf("FromMapping returned %T, want Status", back)
	}
	if got.Code != original.Code || got.Message != original.Message {
		t.Fatalf("round-tripped %+v, want %+v", got, original)
	}
}

func TestEmptyStructMarkersRoundTrip(t *testing.T) {
	cases := []Marker{ClientStreamEnd{}, ServerStreamEnd{}, ChannelClosed{}, HealthCheck{}}
	for _, m := range cases {
		mapping, err := ToMapping(m)
		if err != nil {
			t.Fatalf("ToMapping(%T): %v", m, err)
		}
		back, ok, err := FromMapping(mapping)
		if err != nil || !ok {
			t.Fatalf("FromMapping(%T): ok=%v err=%v", m, ok, err)
		}
		if back.MarkerKind() != m.MarkerKind() {
			t.Fatalf("got kind %v, want %v", back.MarkerKind(), m.MarkerKind())
		}
	}
}

func TestFromMappingUnrecognizedDiscriminatorIsDegraded(t *testing.T) {
	_, ok, err := FromMapping(map[string]any{discriminatorField: "not_a_real_marker"})
	if err != nil {
		t.Fatalf("expected no error for an unrecognized discriminator, got %v", err)
	}
	if ok {
		t.Fatal("expected ok == false for an unrecognized discriminator")
	}
}

func TestFromMappingNoDiscriminatorIsDegraded(t *testing.T) {
	_, ok, err := FromMapping(map[string]any{"foo": "bar"})
	if err != nil || ok {
		t.Fatalf("got (ok=%v, err=%v), want (false, nil) for a plain payload", ok, err)
	}
}

func TestPongRTT(t *testing.T) {
	p := Pong{OriginalTimestamp: 1000, ResponseTimestamp: 1250}
	if got, want := p.RTT().Milliseconds(), int64(250); got != want {
		t.Fatalf("RTT = %dms, want %dms", got, want)
	}
}

func TestDeadlineExpired(t *testing.T) {
	past := Deadline{EpochMS: 1}
	if !past.Expired(time.Now()) {
		t.Fatal("expected a deadline far in the past to report Expired")
	}

	future := Deadline{EpochMS: time.Now().Add(time.Hour).UnixMilli()}
	if future.Expired(time.Now()) {
		t.Fatal("expected a deadline an hour out to not yet be Expired")
	}
}
