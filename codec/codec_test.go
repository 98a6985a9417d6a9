package codec

import (
	"testing"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/marker"
)

func TestJSONRoundTripOrdinaryPayload(t *testing.T) {
	e := envelope.New("req-1", envelope.Request)
	e.Service = "svc"
	e.Method = "do"
	e.Payload = map[string]any{"x": float64(1)}
	e.HeaderMetadata.Set("trace_id", "abc")

	data, err := JSON{}.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := JSON{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.ID != e.ID || back.Kind != e.Kind || back.Service != e.Service || back.Method != e.Method {
		t.Fatalf("round-tripped envelope mismatch: %+v", back)
	}
	if v, ok := back.HeaderMetadata.Get("trace_id"); !ok || v != "abc" {
		t.Fatalf("HeaderMetadata.Get(trace_id) = (%v, %v)", v, ok)
	}
}

func TestJSONRoundTripMarkerPayload(t *testing.T) {
	e := envelope.New("req-2", envelope.StreamData)
	e.Payload = marker.Status{Code: marker.NotFound, Message: "no such method"}

	data, err := JSON{}.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := JSON{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	status, ok := back.Payload.(marker.Status)
	if !ok {
		t.Fatalf("Payload decoded as %T, want marker.Status", back.Payload)
	}
	if status.Code != marker.NotFound || status.Message != "no such method" {
		t.Fatalf("got %+v, want Code=NotFound Message=%q", status, "no such method")
	}
}

func TestJSONDecodeNilPayloadNormalizesToEmptyMap(t *testing.T) {
	e := envelope.New("req-3", envelope.StreamData)
	e.Payload = nil

	data, err := JSON{}.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := JSON{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := back.Payload.(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("Payload = %#v, want an empty map", back.Payload)
	}
}

func TestJSONIterAgreesWithJSON(t *testing.T) {
	e := envelope.New("req-4", envelope.Response)
	e.Payload = "a plain string reply"

	jsonBytes, err := JSON{}.Encode(e)
	if err != nil {
		t.Fatalf("JSON Encode: %v", err)
	}
	iterBytes, err := JSONIter{}.Encode(e)
	if err != nil {
		t.Fatalf("JSONIter Encode: %v", err)
	}

	viaJSON, err := JSON{}.Decode(iterBytes)
	if err != nil {
		t.Fatalf("JSON decoding JSONIter output: %v", err)
	}
	viaIter, err := JSONIter{}.Decode(jsonBytes)
	if err != nil {
		t.Fatalf("JSONIter decoding JSON output: %v", err)
	}
	if viaJSON.Payload != viaIter.Payload || viaJSON.ID != viaIter.ID {
		t.Fatalf("codecs disagree: %+v vs %+v", viaJSON, viaIter)
	}
}
