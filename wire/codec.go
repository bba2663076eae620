// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/clawline/clawline/lib/codec"
)

// Subprotocol names offered during the WebSocket handshake.
const (
	SubprotocolJSON = "clawline.v1+json"
	SubprotocolCBOR = "clawline.v1+cbor"
)

// Codec encodes and decodes envelopes for one negotiated subprotocol.
type Codec interface {
	// Subprotocol returns the WebSocket subprotocol this codec
	// serves.
	Subprotocol() string

	// Binary reports whether frames are binary (CBOR) or text (JSON).
	Binary() bool

	Encode(envelope Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// Subprotocols lists the supported subprotocols in preference order
// (CBOR first: smaller frames, deterministic bytes).
func Subprotocols() []string {
	return []string{SubprotocolCBOR, SubprotocolJSON}
}

// Negotiate returns the codec for a subprotocol chosen during the
// handshake. An empty subprotocol (client offered none) falls back to
// JSON, the lowest common denominator.
func Negotiate(subprotocol string) (Codec, error) {
	switch subprotocol {
	case SubprotocolCBOR:
		return CBORCodec{}, nil
	case SubprotocolJSON, "":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported subprotocol %q", subprotocol)
	}
}

// JSONCodec encodes envelopes as compact JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Subprotocol() string { return SubprotocolJSON }
func (JSONCodec) Binary() bool        { return false }

func (JSONCodec) Encode(envelope Envelope) ([]byte, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", envelope.Type, err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("decoding frame: missing type")
	}
	return envelope, nil
}

// CBORCodec encodes envelopes as deterministic CBOR binary frames.
type CBORCodec struct{}

func (CBORCodec) Subprotocol() string { return SubprotocolCBOR }
func (CBORCodec) Binary() bool        { return true }

func (CBORCodec) Encode(envelope Envelope) ([]byte, error) {
	data, err := codec.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", envelope.Type, err)
	}
	return data, nil
}

func (CBORCodec) Decode(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("decoding frame: missing type")
	}
	return envelope, nil
}
