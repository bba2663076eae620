// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent abstracts the embedded agent runtime behind a Runner
// interface. The gateway treats the agent as an opaque asynchronous
// executor: one Request in, a stream of Events out. ExecRunner is the
// production implementation (a subprocess speaking JSONL on its
// stdio); ScriptedRunner replays canned events for tests.
package agent

import (
	"context"
	"time"
)

// EventType classifies agent run events.
type EventType string

const (
	// EventChunk is a partial piece of assistant text, streamed as
	// the agent produces it. Chunks feed live visualization; they are
	// not delivered to the device.
	EventChunk EventType = "chunk"

	// EventMessage is a complete assistant message to deliver to the
	// conversation's device.
	EventMessage EventType = "message"

	// EventStatus is a lifecycle note (tool started, run phase).
	EventStatus EventType = "status"

	// EventError reports a failure inside the run. The run may still
	// produce further events.
	EventError EventType = "error"
)

// Event is one entry in an agent run's output stream.
type Event struct {
	// Timestamp is when the event occurred. Stamped by the runner if
	// the agent did not provide one.
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Text carries the event's content: assistant text for chunk and
	// message events, a human-readable note for status events.
	Text string `json:"text,omitempty"`

	// Err is the failure description for error events.
	Err string `json:"error,omitempty"`
}

// Request describes one agent exchange.
type Request struct {
	// SessionKey is the long-form routing key of the conversation.
	SessionKey string `json:"sessionKey"`

	// SessionID is the stable session identity; the agent resumes
	// prior context from it.
	SessionID string `json:"sessionId"`

	// Prompt is the user's message text.
	Prompt string `json:"prompt"`

	// TranscriptPath is the canonical transcript file for the
	// session. The agent appends its turn there.
	TranscriptPath string `json:"transcriptPath,omitempty"`
}

// Runner executes agent exchanges.
type Runner interface {
	// Run starts one exchange. The returned channel carries the run's
	// events and is closed when the run completes, whatever the
	// outcome. Canceling ctx kills the run; the channel still closes.
	// A non-nil error means the run could not start at all.
	Run(ctx context.Context, request Request) (<-chan Event, error)
}
