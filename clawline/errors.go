// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"errors"
	"fmt"
)

// AuthFailedError reports rejected device credentials. It carries no
// detail on purpose: unknown device, revoked device, and wrong token
// are indistinguishable to the caller, so a probe learns nothing. The
// specific cause is logged server-side.
type AuthFailedError struct{}

func (e *AuthFailedError) Error() string {
	return "invalid device credentials"
}

// IsAuthFailed reports whether err is (or wraps) an *AuthFailedError.
func IsAuthFailed(err error) bool {
	var authErr *AuthFailedError
	return errors.As(err, &authErr)
}

// AuthRateLimitedError reports an authentication attempt denied by the
// sliding-window limiter before any credential check ran.
type AuthRateLimitedError struct {
	DeviceID string
}

func (e *AuthRateLimitedError) Error() string {
	return fmt.Sprintf("too many authentication attempts for device %s", e.DeviceID)
}

// IsAuthRateLimited reports whether err is (or wraps) an
// *AuthRateLimitedError.
func IsAuthRateLimited(err error) bool {
	var limitErr *AuthRateLimitedError
	return errors.As(err, &limitErr)
}

// DeviceNotFoundError reports an operation naming a device id absent
// from the registry.
type DeviceNotFoundError struct {
	DeviceID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s not found", e.DeviceID)
}

// IsDeviceNotFound reports whether err is (or wraps) a
// *DeviceNotFoundError.
func IsDeviceNotFound(err error) bool {
	var notFoundErr *DeviceNotFoundError
	return errors.As(err, &notFoundErr)
}

// PairingNotFoundError reports an approve or deny naming a pairing
// request that is not pending — never created, already resolved, or
// expired.
type PairingNotFoundError struct {
	RequestID string
}

func (e *PairingNotFoundError) Error() string {
	return fmt.Sprintf("pairing request %s not found", e.RequestID)
}

// IsPairingNotFound reports whether err is (or wraps) a
// *PairingNotFoundError.
func IsPairingNotFound(err error) bool {
	var notFoundErr *PairingNotFoundError
	return errors.As(err, &notFoundErr)
}

// StreamExistsError reports a create for a stream name the user
// already has.
type StreamExistsError struct {
	UserID string
	Name   string
}

func (e *StreamExistsError) Error() string {
	return fmt.Sprintf("stream %q already exists for user %s", e.Name, e.UserID)
}

// IsStreamExists reports whether err is (or wraps) a
// *StreamExistsError.
func IsStreamExists(err error) bool {
	var existsErr *StreamExistsError
	return errors.As(err, &existsErr)
}

// StreamNotFoundError reports an operation naming a stream the user
// does not have.
type StreamNotFoundError struct {
	UserID string
	Name   string
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("stream %q not found for user %s", e.Name, e.UserID)
}

// IsStreamNotFound reports whether err is (or wraps) a
// *StreamNotFoundError.
func IsStreamNotFound(err error) bool {
	var notFoundErr *StreamNotFoundError
	return errors.As(err, &notFoundErr)
}
