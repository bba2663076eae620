// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway holds the channel-independent delivery machinery:
// the outbound sender indirection, the channel plugin contract, and
// the inbound dispatcher that turns user messages into agent runs and
// fans the results back out.
package gateway

import (
	"context"
	"sync"

	"github.com/clawline/clawline/lib/target"
)

// SendRequest describes one outbound delivery.
type SendRequest struct {
	// Target names the conversation endpoint to deliver to.
	Target target.DeliveryTarget

	// Text is the message body. Empty for pure media sends.
	Text string

	// MediaRef references a stored attachment to deliver alongside
	// (or instead of) text.
	MediaRef string

	// MIMEType is the attachment's content type, when MediaRef is set.
	MIMEType string
}

// SendResult reports a completed delivery.
type SendResult struct {
	// MessageID is the channel-assigned id of the delivered message.
	MessageID string

	// Delivered is the number of connected devices that received the
	// message.
	Delivered int
}

// Sender physically delivers messages for one channel.
type Sender interface {
	Send(ctx context.Context, request SendRequest) (SendResult, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, request SendRequest) (SendResult, error)

func (f SenderFunc) Send(ctx context.Context, request SendRequest) (SendResult, error) {
	return f(ctx, request)
}

// Outbound is the swap point between message producers and whatever
// channel service is currently running. The service binds its sender
// at start and unbinds at stop; producers hold the Outbound handle for
// the process lifetime. Sending while unbound is a startup-ordering
// bug and fails with *OutboundUnavailableError, never a retry.
type Outbound struct {
	mu     sync.RWMutex
	sender Sender
}

// NewOutbound returns an unbound handle.
func NewOutbound() *Outbound {
	return &Outbound{}
}

// Bind installs sender as the active delivery path, replacing any
// previous binding.
func (o *Outbound) Bind(sender Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = sender
}

// Unbind removes the active sender. Subsequent sends fail until a new
// Bind.
func (o *Outbound) Unbind() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = nil
}

// Send delivers through the bound sender.
func (o *Outbound) Send(ctx context.Context, request SendRequest) (SendResult, error) {
	o.mu.RLock()
	sender := o.sender
	o.mu.RUnlock()

	if sender == nil {
		return SendResult{}, &OutboundUnavailableError{}
	}
	return sender.Send(ctx, request)
}
