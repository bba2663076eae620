// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/lib/target"
	"github.com/clawline/clawline/wire"
)

// Name implements gateway.ChannelPlugin.
func (s *Server) Name() string { return target.ChannelName }

// Start marks the channel running and binds outbound delivery. The
// context is retained as the processing context: inbound dispatch and
// transfers run under it, so agent work survives the device connection
// that started it and stops when the daemon stops.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("clawline: Start requires a context")
	}

	s.mu.Lock()
	s.runCtx = ctx
	s.stopping = false
	s.mu.Unlock()

	s.outbound.Bind(s.OutboundAdapter())

	s.logger.Info("clawline channel started", "server_name", s.serverName)
	return nil
}

// Stop unbinds outbound delivery, refuses new connections, closes the
// live ones, and waits for their handlers to drain.
func (s *Server) Stop(ctx context.Context) error {
	s.outbound.Unbind()

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	for _, conn := range s.conns.all() {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection handlers: %w", ctx.Err())
	}

	s.logger.Info("clawline channel stopped")
	return nil
}

// OutboundAdapter implements gateway.ChannelPlugin.
func (s *Server) OutboundAdapter() gateway.Sender {
	return gateway.SenderFunc(s.deliver)
}

// deliver fans a message out to every connected device of the target's
// user. No connected device is not an error: phones sleep, laptops
// close, and there is no store-and-forward layer. Zero deliveries is a
// fact the caller can observe in the result.
func (s *Server) deliver(ctx context.Context, request gateway.SendRequest) (gateway.SendResult, error) {
	if request.Target.IsZero() {
		return gateway.SendResult{}, errors.New("delivery target is required")
	}

	messageID := uuid.NewString()
	envelope := wire.Envelope{
		Type: wire.TypeMessage,
		ID:   messageID,
		Message: &wire.Message{
			Text:          request.Text,
			OriginatingTo: request.Target.String(),
			MediaRef:      request.MediaRef,
			MIMEType:      request.MIMEType,
		},
	}

	delivered := 0
	for _, conn := range s.conns.user(request.Target.UserID()) {
		if err := conn.send(envelope); err != nil {
			s.logger.Warn("device delivery failed",
				"device", conn.identity.DeviceID,
				"target", request.Target.String(),
				"error", err)
			continue
		}
		delivered++
	}

	return gateway.SendResult{MessageID: messageID, Delivered: delivered}, nil
}
