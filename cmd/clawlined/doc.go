// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Clawlined is the channel daemon: it hosts the Clawline device
// channel (WebSocket + REST) and the Helm visualization channel on one
// HTTP listener, runs the per-conversation dispatch pipeline, and
// exposes an operator action socket for the clawline CLI.
//
// Configuration comes from a YAML file (--config or CLAWLINE_CONFIG);
// --listen and --state-dir override the file for ad hoc runs. Shutdown
// is graceful: on SIGINT/SIGTERM the daemon stops accepting, closes
// device connections, drains in-flight conversations, and unbinds
// outbound delivery.
package main
