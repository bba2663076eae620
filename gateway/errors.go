// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/clawline/clawline/lib/target"
)

// OutboundUnavailableError reports a send attempted while no sender is
// bound. This is a lifecycle bug — the channel service is not running
// or was started in the wrong order — so nothing catches it
// internally; it surfaces until someone fixes the wiring.
type OutboundUnavailableError struct{}

func (e *OutboundUnavailableError) Error() string {
	return "outbound sender not bound: channel service is not running"
}

// IsOutboundUnavailable reports whether err is (or wraps) an
// *OutboundUnavailableError.
func IsOutboundUnavailable(err error) bool {
	var unavailableErr *OutboundUnavailableError
	return errors.As(err, &unavailableErr)
}

// DeliveryTimeoutError reports a send that exceeded its hard deadline.
// Distinct from a generic send failure; the message always contains
// "timed out" so calling UIs can special-case it.
type DeliveryTimeoutError struct {
	Target  target.DeliveryTarget
	Timeout time.Duration
}

func (e *DeliveryTimeoutError) Error() string {
	return fmt.Sprintf("delivery to %s timed out after %v", e.Target, e.Timeout)
}

// IsDeliveryTimeout reports whether err is (or wraps) a
// *DeliveryTimeoutError.
func IsDeliveryTimeout(err error) bool {
	var timeoutErr *DeliveryTimeoutError
	return errors.As(err, &timeoutErr)
}
