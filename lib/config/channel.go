// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// ChannelSettings are the device-facing channel knobs, kept apart from
// daemon plumbing so operators can version and annotate them. The file
// is JSONC: comments and trailing commas are allowed.
type ChannelSettings struct {
	// ServerName is the banner sent in the hello frame.
	ServerName string

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty allows all; requests without an Origin header (native
	// device clients) always pass.
	AllowedOrigins []string

	// PairingTTL bounds how long an unapproved pairing request lives.
	PairingTTL time.Duration

	// MaxAttachmentBytes caps a single attachment upload after base64
	// decoding.
	MaxAttachmentBytes int64
}

// channelOverlay mirrors ChannelSettings with pointer fields so a
// JSONC file can override any subset. The merge is explicit over this
// static schema — no generic map walking — and slices replace the
// default wholesale rather than appending.
type channelOverlay struct {
	ServerName         *string  `json:"serverName"`
	AllowedOrigins     []string `json:"allowedOrigins"`
	PairingTTLSeconds  *int     `json:"pairingTtlSeconds"`
	MaxAttachmentBytes *int64   `json:"maxAttachmentBytes"`
}

// DefaultChannelSettings returns the built-in channel policy.
func DefaultChannelSettings() ChannelSettings {
	return ChannelSettings{
		ServerName:         "clawline",
		PairingTTL:         10 * time.Minute,
		MaxAttachmentBytes: 24 << 20,
	}
}

// LoadChannelSettings overlays the JSONC file at path onto the
// defaults. An empty path returns the defaults unchanged.
func LoadChannelSettings(path string) (ChannelSettings, error) {
	settings := DefaultChannelSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ChannelSettings{}, fmt.Errorf("reading channel config: %w", err)
	}

	var overlay channelOverlay
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&overlay); err != nil {
		return ChannelSettings{}, fmt.Errorf("parsing channel config %s: %w", path, err)
	}

	settings.apply(overlay)
	if err := settings.validate(); err != nil {
		return ChannelSettings{}, fmt.Errorf("channel config %s: %w", path, err)
	}
	return settings, nil
}

func (s *ChannelSettings) apply(overlay channelOverlay) {
	if overlay.ServerName != nil {
		s.ServerName = *overlay.ServerName
	}
	if overlay.AllowedOrigins != nil {
		s.AllowedOrigins = overlay.AllowedOrigins
	}
	if overlay.PairingTTLSeconds != nil {
		s.PairingTTL = time.Duration(*overlay.PairingTTLSeconds) * time.Second
	}
	if overlay.MaxAttachmentBytes != nil {
		s.MaxAttachmentBytes = *overlay.MaxAttachmentBytes
	}
}

func (s *ChannelSettings) validate() error {
	if s.ServerName == "" {
		return fmt.Errorf("serverName must not be empty")
	}
	if s.PairingTTL <= 0 {
		return fmt.Errorf("pairingTtlSeconds must be positive")
	}
	if s.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("maxAttachmentBytes must be positive")
	}
	return nil
}

