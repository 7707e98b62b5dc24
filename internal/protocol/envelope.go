package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound message type discriminators.
const (
	TypeConfigure   = "configure"
	TypeAdvance     = "advance"
	TypeEndOfStream = "end_of_stream"
)

// Outbound message type discriminators.
const (
	TypeTranscription     = "transcription"
	TypeAdvanceSuggestion = "advance_suggestion"
	TypeError             = "error"
)

// envelope is the wire shape shared by every tagged JSON message: a "type"
// discriminator plus the fields of whichever variant it carries.
type envelope struct {
	Type string `json:"type"`
}

// InboundMessage is the result of decoding one text frame: exactly one of
// the fields is non-nil, selected by Type.
type InboundMessage struct {
	Type        string
	Configure   *Configure
	Advance     *Advance
	EndOfStream *EndOfStream
}

// DecodeInbound parses a text frame's JSON payload into a tagged
// InboundMessage. An unrecognised or missing "type" is a protocol violation.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundMessage{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	msg := InboundMessage{Type: env.Type}
	switch env.Type {
	case TypeConfigure:
		var c Configure
		if err := json.Unmarshal(data, &c); err != nil {
			return InboundMessage{}, fmt.Errorf("protocol: decode configure: %w", err)
		}
		msg.Configure = &c
	case TypeAdvance:
		var a Advance
		if err := json.Unmarshal(data, &a); err != nil {
			return InboundMessage{}, fmt.Errorf("protocol: decode advance: %w", err)
		}
		msg.Advance = &a
	case TypeEndOfStream:
		msg.EndOfStream = &EndOfStream{}
	default:
		return InboundMessage{}, fmt.Errorf("protocol: unknown message type %q", env.Type)
	}
	return msg, nil
}

// EncodeTranscription wraps t with its discriminator and marshals it.
func EncodeTranscription(t Transcription) ([]byte, error) {
	return encodeTagged(TypeTranscription, t)
}

// EncodeAdvanceSuggestion wraps s with its discriminator and marshals it.
func EncodeAdvanceSuggestion(s AdvanceSuggestion) ([]byte, error) {
	return encodeTagged(TypeAdvanceSuggestion, s)
}

// EncodeError wraps e with its discriminator and marshals it.
func EncodeError(e Error) ([]byte, error) {
	return encodeTagged(TypeError, e)
}

// encodeTagged marshals v and splices a leading "type" field into the
// resulting JSON object.
func encodeTagged(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", typ, err)
	}
	tagged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &tagged); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", typ, err)
	}
	typeJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", typ, err)
	}
	tagged["type"] = typeJSON
	out, err := json.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", typ, err)
	}
	return out, nil
}
