// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clawline implements the device channel: the WebSocket and
// REST surface that phones, desktops, and headsets connect to.
//
// The package has four moving parts:
//
//   - [Server] owns the HTTP surface. GET /v1/connect upgrades to a
//     WebSocket speaking the wire envelope protocol (JSON or CBOR by
//     negotiated subprotocol); the REST routes manage pairing, named
//     streams, and the send/sendAttachment actions. Everything except
//     pairing and the health check requires bearer device credentials.
//
//   - [Registry] is the durable device registry: a JSON file mapping
//     device ids to enrollment records. Tokens are stored only as
//     argon2id hashes; the plaintext exists exactly once, in the
//     approval that minted it.
//
//   - [Pairings] holds enrollment requests awaiting operator review.
//     Pending requests are daemon memory, not persisted: a restart
//     voids them and devices simply re-request.
//
//   - [Streams] is the per-user named conversation registry. A stream
//     key feeds both the task-queue scope and the session label, so
//     names are validated under the same rules as delivery targets.
//
// Server implements gateway.ChannelPlugin. Start binds the outbound
// adapter into the gateway's Outbound handle; outbound sends fan out
// to every connected device of the target user, and a user with no
// connected device is zero deliveries, not an error.
package clawline
