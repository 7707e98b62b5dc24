package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/t184256/transcriber-go/internal/protocol"
)

func TestDecodeInboundConfigure(t *testing.T) {
	data := []byte(`{"type":"configure","language":"en","two_stroke":true}`)
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Type != protocol.TypeConfigure {
		t.Fatalf("Type = %q, want %q", msg.Type, protocol.TypeConfigure)
	}
	if msg.Configure == nil {
		t.Fatal("Configure field is nil")
	}
	if msg.Configure.Language != "en" || !msg.Configure.TwoStroke {
		t.Fatalf("Configure = %+v, unexpected fields", msg.Configure)
	}
}

func TestDecodeInboundAdvance(t *testing.T) {
	data := []byte(`{"type":"advance","timestamp_cs":100}`)
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Advance == nil || msg.Advance.TimestampCS != 100 {
		t.Fatalf("Advance = %+v, want TimestampCS=100", msg.Advance)
	}
}

func TestDecodeInboundUnknownType(t *testing.T) {
	_, err := protocol.DecodeInbound([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	_, err := protocol.DecodeInbound([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestEncodeTranscriptionRoundTrip(t *testing.T) {
	tr := protocol.Transcription{
		Complete: []protocol.Segment{{
			Text:    "hello",
			StartCS: 0,
			EndCS:   50,
			Tokens: []protocol.Token{
				{Text: "hello", ID: 1, StartCS: 0, EndCS: 50, Probability: 0.9},
			},
		}},
		AdvanceCS: 0,
	}
	data, err := protocol.EncodeTranscription(tr)
	if err != nil {
		t.Fatalf("EncodeTranscription: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if decoded["type"] != protocol.TypeTranscription {
		t.Fatalf("type = %v, want %q", decoded["type"], protocol.TypeTranscription)
	}
	complete, ok := decoded["complete"].([]any)
	if !ok || len(complete) != 1 {
		t.Fatalf("complete = %v, want one segment", decoded["complete"])
	}
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	data, err := protocol.EncodeError(protocol.Error{Message: "boom"})
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if decoded["type"] != protocol.TypeError || decoded["message"] != "boom" {
		t.Fatalf("decoded = %v", decoded)
	}
}
