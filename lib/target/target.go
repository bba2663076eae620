// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package target implements the delivery target codec: the bidirectional
// mapping between the short user-facing target form "{userId}:{sessionLabel}"
// and the long-form session key "agent:{agentId}:clawline:{userId}:{sessionLabel}"
// used by the gateway's routing tables.
//
// Both forms use ":" as the only structural delimiter and no escaping
// mechanism exists, so neither the user id nor the session label may
// contain a colon. Identity segments are case-sensitive and preserved
// verbatim; only the structural segments ("agent", "clawline") and the
// agent id are matched or normalized case-insensitively. Every caller
// that routes a message goes through this one codec rather than slicing
// strings ad hoc — naive prefixing borrowed from other channels is how
// routing bugs happened before the codec existed.
package target

import "strings"

const (
	// ChannelName is the fixed channel literal embedded in every
	// clawline session key and recorded as the session's channel.
	ChannelName = "clawline"

	// DefaultAgentID is the agent a session key routes to when the
	// caller does not name one.
	DefaultAgentID = "main"

	// DefaultSessionLabel names a user's personal conversation, as
	// opposed to an explicitly created stream.
	DefaultSessionLabel = "main"

	keyPrefix   = "agent"
	keySegments = 5
)

// DeliveryTarget is a validated (userID, sessionLabel) pair naming a
// conversation endpoint. The zero value is invalid; construct one with
// New, Parse, or FromSessionKey.
type DeliveryTarget struct {
	userID       string
	sessionLabel string
	short        string // pre-computed: "flynn:main"
}

// New constructs a DeliveryTarget from structured parts. Both parts are
// trimmed and must be non-empty and colon-free afterwards.
func New(userID, sessionLabel string) (DeliveryTarget, error) {
	userID = strings.TrimSpace(userID)
	sessionLabel = strings.TrimSpace(sessionLabel)
	switch {
	case userID == "":
		return DeliveryTarget{}, &InvalidTargetError{Input: userID + ":" + sessionLabel, Reason: "user id is empty"}
	case sessionLabel == "":
		return DeliveryTarget{}, &InvalidTargetError{Input: userID + ":" + sessionLabel, Reason: "session label is empty"}
	case strings.Contains(userID, ":"):
		return DeliveryTarget{}, &InvalidTargetError{Input: userID + ":" + sessionLabel, Reason: "user id contains a colon"}
	case strings.Contains(sessionLabel, ":"):
		return DeliveryTarget{}, &InvalidTargetError{Input: userID + ":" + sessionLabel, Reason: "session label contains a colon"}
	}
	return DeliveryTarget{
		userID:       userID,
		sessionLabel: sessionLabel,
		short:        userID + ":" + sessionLabel,
	}, nil
}

// Parse parses the short target form "{userId}:{sessionLabel}". The
// input is trimmed as a whole and must split into exactly two non-empty
// colon-separated parts — a label containing further colons is rejected,
// never truncated.
func Parse(raw string) (DeliveryTarget, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DeliveryTarget{}, &InvalidTargetError{Input: raw, Reason: "empty"}
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 {
		return DeliveryTarget{}, &InvalidTargetError{Input: raw, Reason: "want exactly {userId}:{sessionLabel}"}
	}
	return New(parts[0], parts[1])
}

// FromSessionKey decodes the five-segment long form
// "agent:{agentId}:clawline:{userId}:{sessionLabel}". Segment count is
// matched strictly — a key with extra segments is not a valid clawline
// key of any version this codec knows, and any future nested-label
// grammar is a versioned format change, not silent acceptance here.
func FromSessionKey(key string) (DeliveryTarget, error) {
	parts, err := splitSessionKey(key)
	if err != nil {
		return DeliveryTarget{}, err
	}
	to, err := New(parts[3], parts[4])
	if err != nil {
		return DeliveryTarget{}, &NotClawlineKeyError{Key: key, Reason: err.Error()}
	}
	return to, nil
}

// AgentIDFromSessionKey extracts the agent id segment of a valid
// clawline session key, lowercased. Path policy keys transcript
// directories by it.
func AgentIDFromSessionKey(key string) (string, error) {
	parts, err := splitSessionKey(key)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parts[1]), nil
}

func splitSessionKey(key string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != keySegments {
		return nil, &NotClawlineKeyError{Key: key, Reason: "want exactly 5 colon-separated segments"}
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, &NotClawlineKeyError{Key: key, Reason: "empty segment"}
		}
	}
	if !strings.EqualFold(parts[0], keyPrefix) {
		return nil, &NotClawlineKeyError{Key: key, Reason: `segment 0 is not "agent"`}
	}
	if !strings.EqualFold(parts[2], ChannelName) {
		return nil, &NotClawlineKeyError{Key: key, Reason: `segment 2 is not "clawline"`}
	}
	return parts, nil
}

// UserID returns the case-preserved user id.
func (t DeliveryTarget) UserID() string { return t.userID }

// SessionLabel returns the case-preserved session label.
func (t DeliveryTarget) SessionLabel() string { return t.sessionLabel }

// SessionKey returns the long-form routing key for agentID. The agent
// id is trimmed and lowercased; empty falls back to DefaultAgentID.
func (t DeliveryTarget) SessionKey(agentID string) string {
	agentID = strings.ToLower(strings.TrimSpace(agentID))
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return keyPrefix + ":" + agentID + ":" + ChannelName + ":" + t.short
}

// String returns the short form "{userId}:{sessionLabel}", satisfying
// fmt.Stringer.
func (t DeliveryTarget) String() string { return t.short }

// IsZero reports whether this is an uninitialized zero-value target.
func (t DeliveryTarget) IsZero() bool { return t.short == "" }

// MarshalText encodes the short form. The zero value encodes as the
// empty string.
func (t DeliveryTarget) MarshalText() ([]byte, error) {
	return []byte(t.short), nil
}

// UnmarshalText decodes the short form. Empty input produces the zero
// value rather than an error, so optional fields round-trip.
func (t *DeliveryTarget) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = DeliveryTarget{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
