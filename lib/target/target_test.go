// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package target_test

import (
	"testing"

	"github.com/clawline/clawline/lib/target"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantUser  string
		wantLabel string
		wantErr   bool
	}{
		{name: "personal", raw: "flynn:main", wantUser: "flynn", wantLabel: "main"},
		{name: "stream", raw: "flynn:s_deploy", wantUser: "flynn", wantLabel: "s_deploy"},
		{name: "surrounding whitespace", raw: "  flynn:main  ", wantUser: "flynn", wantLabel: "main"},
		{name: "case preserved", raw: "Flynn:Ops", wantUser: "Flynn", wantLabel: "Ops"},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: "   ", wantErr: true},
		{name: "no colon", raw: "flynn", wantErr: true},
		{name: "extra colon", raw: "a:b:c", wantErr: true},
		{name: "empty user", raw: ":main", wantErr: true},
		{name: "empty label", raw: "flynn:", wantErr: true},
		{name: "blank label", raw: "flynn:  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, err := target.Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.raw)
				}
				if !target.IsInvalidTarget(err) {
					t.Errorf("Parse(%q) error %v is not an InvalidTargetError", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if to.UserID() != tt.wantUser || to.SessionLabel() != tt.wantLabel {
				t.Errorf("Parse(%q) = (%q, %q), want (%q, %q)",
					tt.raw, to.UserID(), to.SessionLabel(), tt.wantUser, tt.wantLabel)
			}
		})
	}
}

func TestNewRejectsColons(t *testing.T) {
	if _, err := target.New("fly:nn", "main"); !target.IsInvalidTarget(err) {
		t.Errorf("New with colon in user id: err = %v, want InvalidTargetError", err)
	}
	if _, err := target.New("flynn", "ma:in"); !target.IsInvalidTarget(err) {
		t.Errorf("New with colon in label: err = %v, want InvalidTargetError", err)
	}
}

func TestRoundTripThroughSessionKey(t *testing.T) {
	to, err := target.New("Flynn", "Ops")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := to.SessionKey("main")
	if key != "agent:main:clawline:Flynn:Ops" {
		t.Errorf("SessionKey = %q, want %q", key, "agent:main:clawline:Flynn:Ops")
	}
	back, err := target.FromSessionKey(key)
	if err != nil {
		t.Fatalf("FromSessionKey(%q): %v", key, err)
	}
	if back.UserID() != "Flynn" || back.SessionLabel() != "Ops" {
		t.Errorf("round trip = (%q, %q), want (Flynn, Ops)", back.UserID(), back.SessionLabel())
	}
	if back.String() != "Flynn:Ops" {
		t.Errorf("String() = %q, want %q", back.String(), "Flynn:Ops")
	}
}

func TestSessionKeyAgentNormalization(t *testing.T) {
	to, err := target.New("flynn", "main")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		name    string
		agentID string
		want    string
	}{
		{name: "explicit", agentID: "helper", want: "agent:helper:clawline:flynn:main"},
		{name: "lowercased", agentID: "Helper", want: "agent:helper:clawline:flynn:main"},
		{name: "trimmed", agentID: "  helper  ", want: "agent:helper:clawline:flynn:main"},
		{name: "empty falls back", agentID: "", want: "agent:main:clawline:flynn:main"},
		{name: "blank falls back", agentID: "   ", want: "agent:main:clawline:flynn:main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := to.SessionKey(tt.agentID); got != tt.want {
				t.Errorf("SessionKey(%q) = %q, want %q", tt.agentID, got, tt.want)
			}
		})
	}
}

func TestFromSessionKeyRejections(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "wrong prefix", key: "foo:main:clawline:flynn:main"},
		{name: "wrong channel", key: "agent:main:other:flynn:main"},
		{name: "too few segments", key: "agent:main:clawline:flynn"},
		{name: "too many segments", key: "agent:main:clawline:flynn:main:extra"},
		{name: "empty segment", key: "agent::clawline:flynn:main"},
		{name: "empty", key: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := target.FromSessionKey(tt.key)
			if err == nil {
				t.Fatalf("FromSessionKey(%q) succeeded, want error", tt.key)
			}
			if !target.IsNotClawlineKey(err) {
				t.Errorf("FromSessionKey(%q) error %v is not a NotClawlineKeyError", tt.key, err)
			}
		})
	}
}

func TestFromSessionKeyStructuralCaseInsensitive(t *testing.T) {
	to, err := target.FromSessionKey("Agent:Main:Clawline:Flynn:Ops")
	if err != nil {
		t.Fatalf("FromSessionKey: %v", err)
	}
	if to.UserID() != "Flynn" || to.SessionLabel() != "Ops" {
		t.Errorf("identity segments = (%q, %q), want case preserved (Flynn, Ops)",
			to.UserID(), to.SessionLabel())
	}
}

func TestAgentIDFromSessionKey(t *testing.T) {
	agentID, err := target.AgentIDFromSessionKey("agent:Helper:clawline:flynn:main")
	if err != nil {
		t.Fatalf("AgentIDFromSessionKey: %v", err)
	}
	if agentID != "helper" {
		t.Errorf("agent id = %q, want %q", agentID, "helper")
	}
	if _, err := target.AgentIDFromSessionKey("agent:main:other:flynn:main"); !target.IsNotClawlineKey(err) {
		t.Errorf("non-clawline key: err = %v, want NotClawlineKeyError", err)
	}
}

func TestTextMarshaling(t *testing.T) {
	to, err := target.New("flynn", "main")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := to.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "flynn:main" {
		t.Errorf("MarshalText = %q, want %q", text, "flynn:main")
	}

	var back target.DeliveryTarget
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(%q): %v", text, err)
	}
	if back != to {
		t.Errorf("UnmarshalText round trip = %v, want %v", back, to)
	}

	var zero target.DeliveryTarget
	if err := zero.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(empty): %v", err)
	}
	if !zero.IsZero() {
		t.Error("UnmarshalText(empty) did not produce the zero value")
	}

	var bad target.DeliveryTarget
	if err := bad.UnmarshalText([]byte("a:b:c")); !target.IsInvalidTarget(err) {
		t.Errorf("UnmarshalText(a:b:c): err = %v, want InvalidTargetError", err)
	}
}
