// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/clawline/clawline/agent"
	"github.com/clawline/clawline/wire"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		subprotocol string
		wantBinary  bool
		wantErr     bool
	}{
		{"clawline.v1+cbor", true, false},
		{"clawline.v1+json", false, false},
		{"", false, false}, // no offer → JSON fallback
		{"clawline.v2+json", false, true},
		{"chat", false, true},
	}
	for _, test := range tests {
		codec, err := wire.Negotiate(test.subprotocol)
		if test.wantErr {
			if err == nil {
				t.Errorf("Negotiate(%q) succeeded, want error", test.subprotocol)
			}
			continue
		}
		if err != nil {
			t.Errorf("Negotiate(%q): %v", test.subprotocol, err)
			continue
		}
		if codec.Binary() != test.wantBinary {
			t.Errorf("Negotiate(%q).Binary() = %t, want %t", test.subprotocol, codec.Binary(), test.wantBinary)
		}
	}
}

func TestSubprotocolPreferenceOrder(t *testing.T) {
	offered := wire.Subprotocols()
	if len(offered) != 2 || offered[0] != wire.SubprotocolCBOR || offered[1] != wire.SubprotocolJSON {
		t.Errorf("Subprotocols() = %v, want CBOR before JSON", offered)
	}
}

func TestBothCodecsCarryFullEnvelopes(t *testing.T) {
	envelope := wire.Envelope{
		Type: wire.TypeAgentEvent,
		ID:   "frame-7",
		AgentEvent: &wire.AgentEvent{
			OriginatingTo: "flynn:main",
			Event: agent.Event{
				Type: agent.EventMessage,
				Text: "the answer",
			},
		},
	}

	for _, codec := range []wire.Codec{wire.JSONCodec{}, wire.CBORCodec{}} {
		data, err := codec.Encode(envelope)
		if err != nil {
			t.Fatalf("%s Encode: %v", codec.Subprotocol(), err)
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s Decode: %v", codec.Subprotocol(), err)
		}
		if decoded.Type != wire.TypeAgentEvent || decoded.ID != "frame-7" {
			t.Errorf("%s: envelope header = %q/%q", codec.Subprotocol(), decoded.Type, decoded.ID)
		}
		if decoded.AgentEvent == nil {
			t.Fatalf("%s: AgentEvent payload lost", codec.Subprotocol())
		}
		if decoded.AgentEvent.OriginatingTo != "flynn:main" || decoded.AgentEvent.Event.Text != "the answer" {
			t.Errorf("%s: payload = %+v", codec.Subprotocol(), decoded.AgentEvent)
		}
	}
}

func TestCBOREncodingIsDeterministic(t *testing.T) {
	envelope := wire.Envelope{
		Type:    wire.TypeMessage,
		ID:      "m-1",
		Message: &wire.Message{Stream: "ops", Text: "status?", DisplayName: "Flynn"},
	}
	codec := wire.CBORCodec{}
	first, err := codec.Encode(envelope)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := codec.Encode(envelope)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same envelope produced different CBOR frames")
	}
}

func TestDecodeRejectsTypelessFrames(t *testing.T) {
	if _, err := (wire.JSONCodec{}).Decode([]byte(`{"id":"x"}`)); err == nil || !strings.Contains(err.Error(), "missing type") {
		t.Errorf("JSON typeless decode = %v, want missing type error", err)
	}
	if _, err := (wire.JSONCodec{}).Decode([]byte(`not json`)); err == nil {
		t.Error("JSON codec accepted garbage")
	}
	if _, err := (wire.CBORCodec{}).Decode([]byte{0xff, 0x00}); err == nil {
		t.Error("CBOR codec accepted garbage")
	}
}

func TestJSONFieldNamesAreStable(t *testing.T) {
	// Devices in the field parse these names; renaming a field is a
	// protocol break, not a refactor.
	envelope := wire.Envelope{
		Type:    wire.TypeMessage,
		Message: &wire.Message{OriginatingTo: "flynn:main", MediaRef: "med-abc", MIMEType: "image/png"},
	}
	data, err := (wire.JSONCodec{}).Encode(envelope)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range []string{`"type":"message"`, `"originatingTo":"flynn:main"`, `"mediaRef":"med-abc"`, `"mimeType":"image/png"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("frame %s missing %s", data, want)
		}
	}
}
