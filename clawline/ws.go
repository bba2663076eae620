// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/transfer"
	"github.com/clawline/clawline/wire"
)

// handleConnect upgrades the request and runs the connection until the
// device disconnects or the channel stops.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.beginHandler() {
		http.Error(w, "channel not running", http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	codec, err := wire.Negotiate(conn.Subprotocol())
	if err != nil {
		s.logger.Warn("subprotocol negotiation failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.serveConn(&deviceConn{conn: conn, codec: codec}, r.RemoteAddr)
}

// serveConn drives one connection through its two phases: the
// unauthenticated handshake (auth or pairing) and the authenticated
// message loop. A single reader goroutine owns ReadMessage for the
// connection's whole life, so a device blocked on operator approval
// still answers keepalive pings.
func (s *Server) serveConn(dc *deviceConn, remoteAddr string) {
	ctx := s.runContext()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan wire.Envelope)
	readErrs := make(chan error, 1)
	go s.readPump(dc, frames, readErrs, done)

	cancelKeepalive := startKeepalive(dc.conn, &dc.mu)
	defer cancelKeepalive()

	hello := wire.Envelope{Type: wire.TypeHello, Hello: &wire.Hello{Server: s.serverName}}
	if err := dc.send(hello); err != nil {
		s.logger.Debug("hello write failed", "remote", remoteAddr, "error", err)
		return
	}

	identity, ok := s.awaitAuth(ctx, dc, frames, readErrs, remoteAddr)
	if !ok {
		return
	}
	dc.identity = identity

	if superseded := s.conns.register(dc); superseded != nil {
		s.logger.Info("device reconnected, closing previous connection",
			"device", identity.DeviceID,
			"user", identity.UserID)
		superseded.conn.Close()
	}
	defer func() {
		if !s.conns.deregister(dc) {
			s.logger.Debug("connection superseded, skipping cleanup", "device", identity.DeviceID)
			return
		}
		s.logger.Info("device disconnected", "device", identity.DeviceID, "user", identity.UserID)
	}()

	s.logger.Info("device connected",
		"device", identity.DeviceID,
		"user", identity.UserID,
		"device_name", identity.DeviceName,
		"subprotocol", dc.conn.Subprotocol())

	for {
		select {
		case <-ctx.Done():
			dc.closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case err := <-readErrs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("device read failed", "device", identity.DeviceID, "error", err)
			}
			return

		case envelope := <-frames:
			s.handleDeviceFrame(dc, envelope)
		}
	}
}

// readPump is the connection's only reader. Decoded frames go to
// frames; the first read error goes to readErrs and ends the pump.
// Frames that fail to decode draw an error reply but keep the
// connection alive.
func (s *Server) readPump(dc *deviceConn, frames chan<- wire.Envelope, readErrs chan<- error, done <-chan struct{}) {
	for {
		_, data, err := dc.conn.ReadMessage()
		if err != nil {
			readErrs <- err
			return
		}
		dc.conn.SetReadDeadline(time.Now().Add(pongWait))

		envelope, err := dc.codec.Decode(data)
		if err != nil {
			s.logger.Warn("malformed frame", "remote", dc.conn.RemoteAddr().String(), "error", err)
			dc.send(errorEnvelope("", "malformed", "frame does not decode"))
			continue
		}

		select {
		case frames <- envelope:
		case <-done:
			return
		}
	}
}

// awaitAuth runs the unauthenticated phase: the device either presents
// credentials or requests pairing and waits for the operator. Returns
// the authenticated identity, or ok=false when the connection should
// close.
func (s *Server) awaitAuth(ctx context.Context, dc *deviceConn, frames <-chan wire.Envelope, readErrs <-chan error, remoteAddr string) (Identity, bool) {
	// resolution is nil until a pairing request is pending; a nil
	// channel never fires.
	var (
		pending    *PendingPairing
		resolution <-chan PairingOutcome
	)

	for {
		select {
		case <-ctx.Done():
			dc.closeWith(websocket.CloseGoingAway, "server shutting down")
			return Identity{}, false

		case err := <-readErrs:
			s.logger.Debug("connection closed before authentication", "remote", remoteAddr, "error", err)
			return Identity{}, false

		case outcome := <-resolution:
			if !outcome.Approved {
				dc.send(wire.Envelope{Type: wire.TypeAuthFailed, AuthFailed: &wire.AuthFailed{Reason: outcome.Reason}})
				return Identity{}, false
			}
			resolved := wire.Envelope{
				Type:         wire.TypePairResolved,
				PairResolved: &wire.PairResolved{DeviceID: outcome.DeviceID, Token: outcome.Token},
			}
			if err := dc.send(resolved); err != nil {
				s.logger.Warn("pairing credential delivery failed", "request", pending.RequestID, "error", err)
				return Identity{}, false
			}
			pending = nil
			resolution = nil

		case envelope := <-frames:
			switch envelope.Type {
			case wire.TypeAuth:
				if envelope.Auth == nil {
					dc.send(errorEnvelope(envelope.ID, "malformed", "auth payload is required"))
					return Identity{}, false
				}
				identity, err := s.authenticate(ctx, envelope.Auth.DeviceID, envelope.Auth.Token)
				if err != nil {
					reason := "invalid device credentials"
					if IsAuthRateLimited(err) {
						reason = "too many authentication attempts"
					}
					s.logger.Warn("device authentication failed",
						"remote", remoteAddr,
						"device", envelope.Auth.DeviceID,
						"error", err)
					dc.send(wire.Envelope{Type: wire.TypeAuthFailed, AuthFailed: &wire.AuthFailed{Reason: reason}})
					return Identity{}, false
				}
				ok := wire.Envelope{
					Type:   wire.TypeAuthOK,
					AuthOK: &wire.AuthOK{UserID: identity.UserID, DeviceName: identity.DeviceName},
				}
				if err := dc.send(ok); err != nil {
					return Identity{}, false
				}
				s.touchLastSeen(ctx, identity.DeviceID)
				return identity, true

			case wire.TypePairRequest:
				if envelope.PairRequest == nil {
					dc.send(errorEnvelope(envelope.ID, "malformed", "pairRequest payload is required"))
					return Identity{}, false
				}
				if pending != nil {
					dc.send(errorEnvelope(envelope.ID, "pairing-in-progress", "a pairing request is already pending on this connection"))
					continue
				}
				if !s.pairingLimiter.Attempt(strings.TrimSpace(envelope.PairRequest.UserID)) {
					dc.send(errorEnvelope(envelope.ID, "rate-limited", "too many pairing requests"))
					return Identity{}, false
				}
				p, err := s.pairings.Begin(envelope.PairRequest.UserID, envelope.PairRequest.DeviceName)
				if err != nil {
					dc.send(errorEnvelope(envelope.ID, "invalid-pairing", err.Error()))
					return Identity{}, false
				}
				pending = p
				resolution = p.Resolved()
				s.logger.Info("pairing requested",
					"request", p.RequestID,
					"user", p.UserID,
					"device_name", p.DeviceName,
					"remote", remoteAddr)
				dc.send(wire.Envelope{
					Type:        wire.TypePairPending,
					PairPending: &wire.PairPending{RequestID: p.RequestID, Code: p.Code},
				})

			case wire.TypePing:
				dc.send(wire.Envelope{Type: wire.TypePong, ID: envelope.ID})

			default:
				dc.send(errorEnvelope(envelope.ID, "unauthenticated", "authenticate before sending frames"))
				return Identity{}, false
			}
		}
	}
}

// handleDeviceFrame processes one frame from an authenticated device.
func (s *Server) handleDeviceFrame(dc *deviceConn, envelope wire.Envelope) {
	switch envelope.Type {
	case wire.TypeMessage:
		s.handleInboundMessage(dc, envelope)

	case wire.TypePing:
		dc.send(wire.Envelope{Type: wire.TypePong, ID: envelope.ID})

	case wire.TypeTransferOffer:
		if envelope.TransferOffer == nil {
			dc.send(errorEnvelope(envelope.ID, "malformed", "transferOffer payload is required"))
			return
		}
		if s.transfers == nil {
			dc.send(errorEnvelope(envelope.ID, "transfers-disabled", "direct transfer is not configured"))
			return
		}
		go s.runTransfer(dc, envelope.ID, *envelope.TransferOffer)

	default:
		dc.send(errorEnvelope(envelope.ID, "unexpected-type", "unexpected frame type "+string(envelope.Type)))
	}
}

// handleInboundMessage validates the stream, hands the message to the
// dispatcher, and acks. The ack means accepted for processing, not
// that the agent has replied.
func (s *Server) handleInboundMessage(dc *deviceConn, envelope wire.Envelope) {
	m := envelope.Message
	if m == nil {
		dc.send(errorEnvelope(envelope.ID, "malformed", "message payload is required"))
		return
	}

	if m.Stream != "" && !s.streams.Has(dc.identity.UserID, m.Stream) {
		dc.send(errorEnvelope(envelope.ID, "unknown-stream", fmt.Sprintf("stream %q is not registered", m.Stream)))
		return
	}

	messageID := uuid.NewString()
	_, err := s.dispatcher.HandleInbound(s.runContext(), gateway.InboundMessage{
		UserID:      dc.identity.UserID,
		StreamKey:   m.Stream,
		Text:        m.Text,
		DisplayName: m.DisplayName,
		DeviceID:    dc.identity.DeviceID,
	})
	if err != nil {
		s.logger.Warn("inbound message rejected",
			"device", dc.identity.DeviceID,
			"user", dc.identity.UserID,
			"stream", m.Stream,
			"error", err)
		dc.send(errorEnvelope(envelope.ID, "invalid-target", err.Error()))
		return
	}

	dc.send(wire.Envelope{Type: wire.TypeAck, ID: envelope.ID, Ack: &wire.Ack{MessageID: messageID}})
}

// runTransfer answers a WebRTC offer and reports the stored blob on
// this same socket. It runs in its own goroutine: ICE negotiation and
// the transfer itself take seconds, and the message loop must not
// stall behind them.
func (s *Server) runTransfer(dc *deviceConn, frameID string, offer wire.TransferOffer) {
	ctx := s.runContext()

	answerSDP, incoming, err := s.transfers.Accept(ctx, transfer.Offer{
		SDP:      offer.SDP,
		MIMEType: offer.MIMEType,
		Name:     offer.Name,
	})
	if err != nil {
		s.logger.Warn("transfer setup failed", "device", dc.identity.DeviceID, "error", err)
		dc.send(errorEnvelope(frameID, "transfer-failed", err.Error()))
		return
	}

	answer := wire.Envelope{
		Type:           wire.TypeTransferAnswer,
		ID:             frameID,
		TransferAnswer: &wire.TransferAnswer{SDP: answerSDP},
	}
	if err := dc.send(answer); err != nil {
		return
	}

	select {
	case result := <-incoming:
		if result.Err != nil {
			s.logger.Warn("transfer failed", "device", dc.identity.DeviceID, "error", result.Err)
			dc.send(errorEnvelope(frameID, "transfer-failed", result.Err.Error()))
			return
		}
		s.logger.Info("transfer stored",
			"device", dc.identity.DeviceID,
			"ref", result.Ref.Short(),
			"bytes", result.Bytes)
		dc.send(wire.Envelope{
			Type:         wire.TypeTransferDone,
			ID:           frameID,
			TransferDone: &wire.TransferDone{Ref: result.Ref.String(), Bytes: result.Bytes},
		})
	case <-ctx.Done():
	}
}

// errorEnvelope builds an error reply echoing the offending frame id.
func errorEnvelope(id, code, message string) wire.Envelope {
	return wire.Envelope{
		Type:  wire.TypeError,
		ID:    id,
		Error: &wire.Error{Code: code, Message: message},
	}
}
