// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides serving infrastructure for the Clawline
// daemon: the TCP HTTP server hosting the device and visualization
// surfaces, and the Unix admin socket the operator tooling talks to.
//
//   - [HTTPServer]: listener lifecycle and graceful shutdown for the
//     daemon's HTTP surface. The caller provides the http.Handler
//     (routing, authentication, WebSocket upgrades).
//   - [SocketServer]: CBOR request-response protocol on a Unix socket
//     with action dispatch, connection timeouts, and graceful
//     shutdown. Hosts the admin actions (pairing approval, device
//     revocation, status).
//   - [Client]: the CLI side of the admin protocol. One connection
//     per call.
//
// The admin socket carries credential-minting operations, so it is
// created with mode 0600: filesystem permissions are the access
// control. There is no token scheme on the socket — anyone who can
// open it owns the daemon already.
package service
