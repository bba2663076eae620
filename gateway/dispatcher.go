// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clawline/clawline/agent"
	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
	"github.com/clawline/clawline/lib/taskqueue"
	"github.com/clawline/clawline/session"
)

// DefaultAttachmentTimeout bounds how long an attachment delivery may
// take before it is reported as timed out.
const DefaultAttachmentTimeout = 15 * time.Second

// InboundMessage is a user message entering the gateway from a
// channel.
type InboundMessage struct {
	// UserID identifies the sending user. Case-sensitive.
	UserID string

	// StreamKey optionally names the stream this message belongs to.
	// Empty means the user's personal conversation. The stream key
	// doubles as the session label.
	StreamKey string

	// Text is the message body, passed to the agent as the prompt.
	Text string

	// DisplayName optionally updates the session's display name.
	DisplayName string

	// DeviceID identifies the sending device, for log correlation
	// only.
	DeviceID string
}

// EventPublisher receives every agent event for live visualization,
// tagged with the conversation it belongs to. Publishing must not
// block message processing.
type EventPublisher interface {
	PublishAgentEvent(to target.DeliveryTarget, event agent.Event)
}

// DispatcherConfig wires a Dispatcher. All fields except Publisher,
// AgentID, and AttachmentTimeout are required.
type DispatcherConfig struct {
	Queue     *taskqueue.Queue
	Outbound  *Outbound
	Recorder  *session.Recorder
	Runner    agent.Runner
	Publisher EventPublisher
	Clock     clock.Clock
	Logger    *slog.Logger

	// AgentID selects the agent identity in session keys. Defaults to
	// target.DefaultAgentID.
	AgentID string

	// AttachmentTimeout overrides DefaultAttachmentTimeout.
	AttachmentTimeout time.Duration
}

// Dispatcher is the inbound pipeline: it serializes each conversation
// through the task queue, runs the agent for every message, delivers
// the agent's replies through the outbound handle, mirrors all events
// to the publisher, and keeps the session store current.
type Dispatcher struct {
	queue             *taskqueue.Queue
	outbound          *Outbound
	recorder          *session.Recorder
	runner            agent.Runner
	publisher         EventPublisher
	clock             clock.Clock
	logger            *slog.Logger
	agentID           string
	attachmentTimeout time.Duration
}

// NewDispatcher validates config and constructs a Dispatcher.
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	switch {
	case config.Queue == nil:
		return nil, fmt.Errorf("dispatcher: Queue is required")
	case config.Outbound == nil:
		return nil, fmt.Errorf("dispatcher: Outbound is required")
	case config.Recorder == nil:
		return nil, fmt.Errorf("dispatcher: Recorder is required")
	case config.Runner == nil:
		return nil, fmt.Errorf("dispatcher: Runner is required")
	case config.Clock == nil:
		return nil, fmt.Errorf("dispatcher: Clock is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("dispatcher: Logger is required")
	}

	agentID := config.AgentID
	if agentID == "" {
		agentID = target.DefaultAgentID
	}
	timeout := config.AttachmentTimeout
	if timeout <= 0 {
		timeout = DefaultAttachmentTimeout
	}

	return &Dispatcher{
		queue:             config.Queue,
		outbound:          config.Outbound,
		recorder:          config.Recorder,
		runner:            config.Runner,
		publisher:         config.Publisher,
		clock:             config.Clock,
		logger:            config.Logger,
		agentID:           agentID,
		attachmentTimeout: timeout,
	}, nil
}

// HandleInbound enqueues processing of message on its conversation's
// queue and returns without waiting for the agent. The returned
// Pending settles when the full exchange (agent run, deliveries,
// bookkeeping) completes. Target validation errors are returned
// immediately; everything later is reported through the queue's error
// hook and the Pending.
func (d *Dispatcher) HandleInbound(ctx context.Context, message InboundMessage) (*taskqueue.Pending, error) {
	label := message.StreamKey
	if label == "" {
		label = target.DefaultSessionLabel
	}
	to, err := target.New(message.UserID, label)
	if err != nil {
		return nil, err
	}

	scope := taskqueue.Scope{UserID: to.UserID(), StreamKey: message.StreamKey}
	pending := d.queue.Submit(ctx, scope, func(ctx context.Context) error {
		return d.process(ctx, to, message)
	})
	return pending, nil
}

// process runs one inbound exchange. It executes inside the
// conversation's queue slot, so no other message for this scope is in
// flight.
func (d *Dispatcher) process(ctx context.Context, to target.DeliveryTarget, message InboundMessage) error {
	sessionKey := to.SessionKey(d.agentID)

	// The inbound path, and only the inbound path, captures reply
	// routing.
	d.recorder.RecordInboundRoute(ctx, sessionKey, to)

	sessionID, transcript, err := d.recorder.Ensure(ctx, sessionKey, uuid.NewString())
	if err != nil {
		return fmt.Errorf("resolving session identity: %w", err)
	}

	events, err := d.runner.Run(ctx, agent.Request{
		SessionKey:     sessionKey,
		SessionID:      sessionID,
		Prompt:         message.Text,
		TranscriptPath: transcript,
	})
	if err != nil {
		return fmt.Errorf("starting agent run: %w", err)
	}

	var failed int
	for event := range events {
		if d.publisher != nil {
			d.publisher.PublishAgentEvent(to, event)
		}
		switch event.Type {
		case agent.EventMessage:
			if _, err := d.outbound.Send(ctx, SendRequest{Target: to, Text: event.Text}); err != nil {
				failed++
				d.logger.Warn("outbound delivery failed",
					"target", to.String(),
					"device", message.DeviceID,
					"error", err)
			}
		case agent.EventError:
			d.logger.Warn("agent reported error",
				"session_key", sessionKey,
				"error", event.Err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	d.recorder.RecordActivity(ctx, session.Activity{
		SessionKey:  sessionKey,
		SessionID:   sessionID,
		DisplayName: message.DisplayName,
	})

	if failed > 0 {
		return fmt.Errorf("%d outbound deliveries failed for %s", failed, to)
	}
	return nil
}

// SendAttachment delivers a stored attachment to a target under the
// dispatcher's hard attachment deadline. A sender that hangs does not
// hang the caller: the deadline fires and the call fails with
// *DeliveryTimeoutError.
func (d *Dispatcher) SendAttachment(ctx context.Context, to target.DeliveryTarget, mediaRef, mimeType string) (SendResult, error) {
	type outcome struct {
		result SendResult
		err    error
	}
	results := make(chan outcome, 1)

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		result, err := d.outbound.Send(sendCtx, SendRequest{
			Target:   to,
			MediaRef: mediaRef,
			MIMEType: mimeType,
		})
		results <- outcome{result, err}
	}()

	select {
	case out := <-results:
		return out.result, out.err
	case <-d.clock.After(d.attachmentTimeout):
		return SendResult{}, &DeliveryTimeoutError{Target: to, Timeout: d.attachmentTimeout}
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	}
}
