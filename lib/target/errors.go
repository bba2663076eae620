// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"errors"
	"fmt"
)

// InvalidTargetError reports a short-form target string (or structured
// parts) that does not name a valid conversation endpoint. It is always
// synchronous and fail-fast; malformed targets are never coerced.
type InvalidTargetError struct {
	// Input is the offending raw input, as given.
	Input string
	// Reason says which rule the input broke.
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid delivery target %q: %s", e.Input, e.Reason)
}

// NotClawlineKeyError reports a session key that is not a well-formed
// clawline key: wrong segment count, an empty segment, or structural
// segments naming another channel.
type NotClawlineKeyError struct {
	// Key is the offending session key, as given.
	Key string
	// Reason says which rule the key broke.
	Reason string
}

func (e *NotClawlineKeyError) Error() string {
	return fmt.Sprintf("not a clawline session key %q: %s", e.Key, e.Reason)
}

// IsInvalidTarget reports whether err is an *InvalidTargetError.
func IsInvalidTarget(err error) bool {
	var invalid *InvalidTargetError
	return errors.As(err, &invalid)
}

// IsNotClawlineKey reports whether err is a *NotClawlineKeyError.
func IsNotClawlineKey(err error) bool {
	var notKey *NotClawlineKeyError
	return errors.As(err, &notKey)
}
