// Package codec implements spec.md §6.2's Codec contract: converting
// between an envelope.Envelope and raw bytes. The engine treats the codec
// as an external collaborator (spec.md §1); this package supplies two
// concrete, swappable implementations rather than hardcoding one, the way
// golang.org/x/tools/internal/jsonrpc2_v2's EncodeMessage/DecodeMessage
// (messages.go) hardcode encoding/json but are called only through the
// Framer seam.
package codec

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/marker"
)

// Codec converts between an Envelope and its wire bytes. Keys emitted on
// the wire are exactly spec.md §6.2's: id, type, service, method, payload,
// header_metadata, trailer_metadata, debug_label.
type Codec interface {
	Encode(e *envelope.Envelope) ([]byte, error)
	Decode(data []byte) (*envelope.Envelope, error)
}

// wireEnvelope is the JSON shape of an Envelope, shared by both codec
// implementations below (jsoniter is a drop-in faster encoder/decoder for
// the same struct tags, not a different wire format).
type wireEnvelope struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Service         string         `json:"service,omitempty"`
	Method          string         `json:"method,omitempty"`
	Payload         any            `json:"payload,omitempty"`
	HeaderMetadata  map[string]any `json:"header_metadata,omitempty"`
	TrailerMetadata map[string]any `json:"trailer_metadata,omitempty"`
	DebugLabel      string         `json:"debug_label,omitempty"`
}

func toWire(e *envelope.Envelope) (*wireEnvelope, error) {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return &wireEnvelope{
		ID:              e.ID,
		Type:            string(e.Kind),
		Service:         e.Service,
		Method:          e.Method,
		Payload:         payload,
		HeaderMetadata:  metadataToMap(e.HeaderMetadata),
		TrailerMetadata: metadataToMap(e.TrailerMetadata),
		DebugLabel:      e.DebugLabel,
	}, nil
}

func fromWire(w *wireEnvelope) (*envelope.Envelope, error) {
	e := envelope.New(w.ID, envelope.Kind(w.Type))
	if e.Kind == "" {
		e.Kind = envelope.Unknown
	}
	e.Service = w.Service
	e.Method = w.Method
	e.Payload = decodePayload(w.Payload)
	e.HeaderMetadata = mapToMetadata(w.HeaderMetadata)
	e.TrailerMetadata = mapToMetadata(w.TrailerMetadata)
	e.DebugLabel = w.DebugLabel
	return e, nil
}

// encodePayload turns a marker.Marker into its generic mapping form so it
// serializes like any other payload; anything else passes through as-is.
func encodePayload(payload any) (any, error) {
	if m, ok := payload.(marker.Marker); ok {
		return marker.ToMapping(m)
	}
	return payload, nil
}

// decodePayload recognizes a marker.Marker from a generic mapping
// (spec.md §4.8's "codec-compat shim": empty payload normalizes to an
// empty mapping here too, so the stream path never sees a bare nil).
func decodePayload(payload any) any {
	mapping, ok := payload.(map[string]any)
	if !ok {
		if payload == nil {
			return map[string]any{}
		}
		return payload
	}
	if m, ok, err := marker.FromMapping(mapping); err == nil && ok {
		return m
	}
	return mapping
}

func metadataToMap(m *envelope.Metadata) map[string]any {
	if m == nil || m.Len() == 0 {
		return nil
	}
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

func mapToMetadata(m map[string]any) *envelope.Metadata {
	out := envelope.NewMetadata()
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}

// JSON is the default Codec, backed by encoding/json — the same library
// jsonrpc2_v2.EncodeMessage/DecodeMessage use.
type JSON struct{}

func (JSON) Encode(e *envelope.Envelope) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (JSON) Decode(data []byte) (*envelope.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	return fromWire(&w)
}

// JSONIter is an alternate Codec backed by github.com/json-iterator/go
// (a direct dependency of the gravitational-teleport pack repo),
// configured to be a drop-in, struct-tag-compatible replacement for
// encoding/json. It exists to demonstrate the Codec seam is a genuine
// interface boundary: swapping JSON for JSONIter changes nothing about
// Dispatcher or engine.Facade behavior.
type JSONIter struct{}

var jsoniterAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (JSONIter) Encode(e *envelope.Envelope) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	return jsoniterAPI.Marshal(w)
}

func (JSONIter) Decode(data []byte) (*envelope.Envelope, error) {
	var w wireEnvelope
	if err := jsoniterAPI.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	return fromWire(&w)
}
