// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "context"

// ChannelPlugin is the lifecycle contract every channel satisfies.
// The daemon starts all registered plugins after constructing the
// shared delivery machinery and stops them in reverse order on
// shutdown.
type ChannelPlugin interface {
	// Name identifies the channel in logs and registries.
	Name() string

	// Start brings the channel up. For channels that deliver
	// outbound messages this includes binding OutboundAdapter into
	// the gateway's Outbound handle.
	Start(ctx context.Context) error

	// Stop tears the channel down and releases its binding. Stop
	// must be safe to call after a failed Start.
	Stop(ctx context.Context) error

	// OutboundAdapter returns the channel's sender, or nil for
	// receive-only channels.
	OutboundAdapter() Sender
}
