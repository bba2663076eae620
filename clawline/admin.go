// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/lib/codec"
	"github.com/clawline/clawline/lib/service"
)

// RegisterAdminActions wires the channel's operator surface onto the
// admin socket: pairing review and device lifecycle. These actions
// carry no device credentials — socket file permissions are the
// authorization boundary.
func (s *Server) RegisterAdminActions(admin *service.SocketServer) {
	admin.Handle("status", s.adminStatus)
	admin.Handle("pairing-list", s.adminPairingList)
	admin.Handle("pairing-approve", s.adminPairingApprove)
	admin.Handle("pairing-deny", s.adminPairingDeny)
	admin.Handle("device-list", s.adminDeviceList)
	admin.Handle("device-revoke", s.adminDeviceRevoke)
}

type adminStatusResult struct {
	Devices         int `cbor:"devices"`
	Connections     int `cbor:"connections"`
	PendingPairings int `cbor:"pending_pairings"`
}

type adminPairingSummary struct {
	RequestID  string `cbor:"request_id"`
	UserID     string `cbor:"user_id"`
	DeviceName string `cbor:"device_name"`
	Code       string `cbor:"code"`
	CreatedAt  string `cbor:"created_at"`
}

type adminPairingListResult struct {
	Pairings []adminPairingSummary `cbor:"pairings"`
}

type adminApproveResult struct {
	DeviceID   string `cbor:"device_id"`
	UserID     string `cbor:"user_id"`
	DeviceName string `cbor:"device_name"`

	// Token is the freshly minted device credential. This is its only
	// appearance; the registry keeps just the hash.
	Token string `cbor:"token"`
}

type adminDeviceSummary struct {
	ID         string `cbor:"id"`
	UserID     string `cbor:"user_id"`
	Name       string `cbor:"name"`
	CreatedAt  string `cbor:"created_at"`
	LastSeenAt string `cbor:"last_seen_at,omitempty"`
	Revoked    bool   `cbor:"revoked"`
	Connected  bool   `cbor:"connected"`
}

type adminDeviceListResult struct {
	Devices []adminDeviceSummary `cbor:"devices"`
}

func (s *Server) adminStatus(ctx context.Context, raw []byte) (any, error) {
	devices, err := s.registry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device registry: %w", err)
	}
	active := 0
	for _, device := range devices {
		if !device.Revoked {
			active++
		}
	}
	return adminStatusResult{
		Devices:         active,
		Connections:     s.conns.len(),
		PendingPairings: s.pairings.Len(),
	}, nil
}

func (s *Server) adminPairingList(ctx context.Context, raw []byte) (any, error) {
	pending := s.pairings.List()
	summaries := make([]adminPairingSummary, 0, len(pending))
	for _, p := range pending {
		summaries = append(summaries, adminPairingSummary{
			RequestID:  p.RequestID,
			UserID:     p.UserID,
			DeviceName: p.DeviceName,
			Code:       p.Code,
			CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return adminPairingListResult{Pairings: summaries}, nil
}

func (s *Server) adminPairingApprove(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		RequestID string `cbor:"request_id"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.RequestID == "" {
		return nil, errors.New("missing required field: request_id")
	}

	approved, err := s.ApprovePairing(ctx, request.RequestID)
	if err != nil {
		return nil, err
	}
	return adminApproveResult{
		DeviceID:   approved.DeviceID,
		UserID:     approved.UserID,
		DeviceName: approved.DeviceName,
		Token:      approved.Token,
	}, nil
}

func (s *Server) adminPairingDeny(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		RequestID string `cbor:"request_id"`
		Reason    string `cbor:"reason"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.RequestID == "" {
		return nil, errors.New("missing required field: request_id")
	}
	return nil, s.DenyPairing(ctx, request.RequestID, request.Reason)
}

func (s *Server) adminDeviceList(ctx context.Context, raw []byte) (any, error) {
	devices, err := s.registry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device registry: %w", err)
	}

	summaries := make([]adminDeviceSummary, 0, len(devices))
	for _, device := range devices {
		_, connected := s.conns.device(device.ID)
		summary := adminDeviceSummary{
			ID:        device.ID,
			UserID:    device.UserID,
			Name:      device.Name,
			CreatedAt: device.CreatedAt.UTC().Format(time.RFC3339),
			Revoked:   device.Revoked,
			Connected: connected,
		}
		if !device.LastSeenAt.IsZero() {
			summary.LastSeenAt = device.LastSeenAt.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt != summaries[j].CreatedAt {
			return summaries[i].CreatedAt < summaries[j].CreatedAt
		}
		return summaries[i].ID < summaries[j].ID
	})
	return adminDeviceListResult{Devices: summaries}, nil
}

func (s *Server) adminDeviceRevoke(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		DeviceID string `cbor:"device_id"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.DeviceID == "" {
		return nil, errors.New("missing required field: device_id")
	}
	return nil, s.RevokeDevice(ctx, request.DeviceID)
}

// ApprovedDevice is the result of approving a pairing: the enrolled
// device and its one-time-visible token.
type ApprovedDevice struct {
	DeviceID   string
	UserID     string
	DeviceName string
	Token      string
}

// ApprovePairing enrolls the pending device: mints a token, persists
// the hash, and hands the plaintext token to the waiting connection.
// Failures before the registry write put the request back so the
// operator can retry.
func (s *Server) ApprovePairing(ctx context.Context, requestID string) (ApprovedDevice, error) {
	pending, err := s.pairings.Take(requestID)
	if err != nil {
		return ApprovedDevice{}, err
	}

	token, record, err := MintToken()
	if err != nil {
		s.pairings.restore(pending)
		return ApprovedDevice{}, fmt.Errorf("minting device token: %w", err)
	}

	device := &Device{
		ID:        uuid.NewString(),
		UserID:    pending.UserID,
		Name:      pending.DeviceName,
		Token:     record,
		CreatedAt: s.clock.Now().UTC(),
	}
	err = s.registry.Update(ctx, func(devices map[string]*Device) error {
		devices[device.ID] = device
		return nil
	})
	if err != nil {
		s.pairings.restore(pending)
		return ApprovedDevice{}, fmt.Errorf("persisting device %s: %w", device.ID, err)
	}

	pending.resolve(PairingOutcome{Approved: true, DeviceID: device.ID, Token: token})

	s.logger.Info("pairing approved",
		"request", requestID,
		"device", device.ID,
		"user", device.UserID,
		"device_name", device.Name)

	return ApprovedDevice{
		DeviceID:   device.ID,
		UserID:     device.UserID,
		DeviceName: device.Name,
		Token:      token,
	}, nil
}

// DenyPairing rejects a pending request. The waiting connection, if
// any, receives the reason.
func (s *Server) DenyPairing(ctx context.Context, requestID, reason string) error {
	pending, err := s.pairings.Take(requestID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "pairing denied"
	}
	pending.resolve(PairingOutcome{Reason: reason})

	s.logger.Info("pairing denied", "request", requestID, "user", pending.UserID, "reason", reason)
	return nil
}

// RevokeDevice marks the device revoked, drops its cached verifier,
// and closes its live connection. In-flight requests already past
// authentication complete; nothing new gets in.
func (s *Server) RevokeDevice(ctx context.Context, deviceID string) error {
	if err := s.registry.Revoke(ctx, deviceID); err != nil {
		return err
	}
	s.auths.invalidate(deviceID)

	if conn, ok := s.conns.device(deviceID); ok && conn != nil {
		conn.closeWith(websocket.ClosePolicyViolation, "device revoked")
	}

	s.logger.Info("device revoked", "device", deviceID)
	return nil
}
