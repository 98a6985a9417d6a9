package marker

import "encoding/json"

// discriminatorField is the well-known key spec.md §6.3 calls out as
// "e.g. _marker_type".
const discriminatorField = "_marker_type"

// ToMapping renders a Marker to the generic mapping shape a codec.Codec
// serializes as an Envelope's Payload: the marker's own fields plus the
// discriminator. This is the marker analogue of
// jsonrpc2_v2.Message.marshal(*wireCombined).
func ToMapping(m Marker) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	out[discriminatorField] = string(m.MarkerKind())
	return out, nil
}

// FromMapping recognizes a Marker from a generic mapping, round-tripping
// through JSON so field names/types stay single-sourced on the struct
// tags above. ok is false if mapping carries no recognized discriminator
// (spec.md §4.8: "degraded mode" — caller should deliver the raw payload
// as ordinary data instead of erroring).
func FromMapping(mapping map[string]any) (m Marker, ok bool, err error) {
	raw, _ := mapping[discriminatorField].(string)
	if raw == "" {
		return nil, false, nil
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return nil, true, err
	}
	switch Kind(raw) {
	case KindStatus:
		var v Status
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindDeadline:
		var v Deadline
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindCancel:
		var v Cancel
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindPing:
		var v Ping
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindPong:
		var v Pong
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindClientStreamEnd:
		return ClientStreamEnd{}, true, nil
	case KindServerStreamEnd:
		return ServerStreamEnd{}, true, nil
	case KindChannelClosed:
		return ChannelClosed{}, true, nil
	case KindHeaders:
		var v Headers
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindTrailers:
		var v Trailers
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindClientStreamingInit:
		var v ClientStreamingInit
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindBidirectionalInit:
		var v BidirectionalInit
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindHealthCheck:
		return HealthCheck{}, true, nil
	case KindFlowControl:
		var v FlowControl
		err = json.Unmarshal(data, &v)
		return v, true, err
	case KindCompression:
		var v Compression
		err = json.Unmarshal(data, &v)
		return v, true, err
	default:
		return nil, false, nil
	}
}
