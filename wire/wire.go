// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frame format spoken between devices and the
// daemon over WebSocket: a typed envelope with exactly one payload set,
// encoded as JSON or deterministic CBOR depending on the negotiated
// subprotocol.
//
// Field names use json tags only; the CBOR codec honors them, so both
// encodings share one set of structs.
package wire

import "github.com/clawline/clawline/agent"

// Type discriminates envelope payloads.
type Type string

const (
	TypeHello          Type = "hello"
	TypePairRequest    Type = "pair-request"
	TypePairPending    Type = "pair-pending"
	TypePairResolved   Type = "pair-resolved"
	TypeAuth           Type = "auth"
	TypeAuthOK         Type = "auth-ok"
	TypeAuthFailed     Type = "auth-failed"
	TypeMessage        Type = "message"
	TypeAgentEvent     Type = "agent-event"
	TypeAck            Type = "ack"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeTransferOffer  Type = "transfer-offer"
	TypeTransferAnswer Type = "transfer-answer"
	TypeTransferDone   Type = "transfer-done"
)

// Envelope is one wire frame. Type selects which payload pointer is
// set; all others are nil. Ping and pong carry no payload.
type Envelope struct {
	// Type classifies the frame.
	Type Type `json:"type"`

	// ID is a sender-assigned correlation id. The receiver echoes it
	// in acks and error replies. Optional.
	ID string `json:"id,omitempty"`

	Hello          *Hello          `json:"hello,omitempty"`
	PairRequest    *PairRequest    `json:"pairRequest,omitempty"`
	PairPending    *PairPending    `json:"pairPending,omitempty"`
	PairResolved   *PairResolved   `json:"pairResolved,omitempty"`
	Auth           *Auth           `json:"auth,omitempty"`
	AuthOK         *AuthOK         `json:"authOk,omitempty"`
	AuthFailed     *AuthFailed     `json:"authFailed,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	AgentEvent     *AgentEvent     `json:"agentEvent,omitempty"`
	Ack            *Ack            `json:"ack,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	TransferOffer  *TransferOffer  `json:"transferOffer,omitempty"`
	TransferAnswer *TransferAnswer `json:"transferAnswer,omitempty"`
	TransferDone   *TransferDone   `json:"transferDone,omitempty"`
}

// Hello is the server's greeting, sent once after the WebSocket
// upgrade. It tells the device what it connected to before any
// authentication happens.
type Hello struct {
	// Server names the daemon implementation and version.
	Server string `json:"server"`

	// Authenticated reports whether the connection is already
	// authenticated (always false today; reserved for resumed
	// transports).
	Authenticated bool `json:"authenticated"`
}

// PairRequest asks to enroll this device. Sent on an unauthenticated
// connection; the device then waits for pair-pending and, eventually,
// pair-resolved or auth-failed.
type PairRequest struct {
	// UserID is the user the device belongs to.
	UserID string `json:"userId"`

	// DeviceName is a human-readable label for the operator's
	// approval decision.
	DeviceName string `json:"deviceName"`
}

// PairPending reports that the pairing request is queued for operator
// approval.
type PairPending struct {
	// RequestID identifies the pending request in operator tooling.
	RequestID string `json:"requestId"`

	// Code is the six-digit confirmation code the device displays;
	// the operator verifies it matches before approving.
	Code string `json:"code"`
}

// PairResolved delivers the device's credentials after approval. The
// token appears exactly once, here; only its hash is stored.
type PairResolved struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// Auth authenticates an enrolled device.
type Auth struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// AuthOK confirms authentication.
type AuthOK struct {
	// UserID is the user the device is enrolled under.
	UserID string `json:"userId"`

	// DeviceName echoes the enrolled device label.
	DeviceName string `json:"deviceName"`
}

// AuthFailed rejects authentication or pairing.
type AuthFailed struct {
	Reason string `json:"reason"`
}

// Message is a conversation message. Inbound (device → daemon) it
// carries the user's text and optional stream; outbound (daemon →
// device) it carries delivered text or media and names the originating
// conversation.
type Message struct {
	// Stream optionally names the stream this message belongs to.
	// Inbound only; empty means the personal conversation.
	Stream string `json:"stream,omitempty"`

	// Text is the message body.
	Text string `json:"text,omitempty"`

	// DisplayName optionally updates the sender's display name.
	// Inbound only.
	DisplayName string `json:"displayName,omitempty"`

	// OriginatingTo is the short-form delivery target this message
	// belongs to. Outbound only.
	OriginatingTo string `json:"originatingTo,omitempty"`

	// MediaRef references a stored attachment the device can fetch.
	// Outbound only.
	MediaRef string `json:"mediaRef,omitempty"`

	// MIMEType is the attachment content type when MediaRef is set.
	MIMEType string `json:"mimeType,omitempty"`
}

// AgentEvent streams one agent run event to visualization consumers.
type AgentEvent struct {
	// OriginatingTo is the conversation the event belongs to.
	OriginatingTo string `json:"originatingTo"`

	// Event is the agent run event.
	Event agent.Event `json:"event"`
}

// Ack confirms receipt of the envelope whose ID it echoes.
type Ack struct {
	// MessageID is the server-assigned id for an accepted message.
	MessageID string `json:"messageId,omitempty"`
}

// Error reports a request-level failure. The envelope ID echoes the
// offending frame's id when known.
type Error struct {
	// Code is a stable machine-readable error class.
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// TransferOffer opens a WebRTC transfer for a large attachment: the
// device offers, the daemon answers on this same socket.
type TransferOffer struct {
	// SDP is the device's session description offer.
	SDP string `json:"sdp"`

	// MIMEType declares the content type of the incoming blob.
	MIMEType string `json:"mimeType"`

	// Name is an optional filename hint.
	Name string `json:"name,omitempty"`
}

// TransferAnswer is the daemon's session description answer, sent
// after ICE gathering completes.
type TransferAnswer struct {
	SDP string `json:"sdp"`
}

// TransferDone reports the stored attachment once the transfer's data
// channel closes.
type TransferDone struct {
	// Ref is the media store reference of the received blob.
	Ref string `json:"ref"`

	// Bytes is the received size before compression/encryption.
	Bytes int64 `json:"bytes"`
}
