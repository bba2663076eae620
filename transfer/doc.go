// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer receives large attachments from devices over WebRTC
// data channels, bypassing the WebSocket frame limit.
//
// The device is always the offerer: it sends an SDP offer over its
// authenticated WebSocket, the daemon answers on the same socket, and
// the device opens one data channel, streams the blob, and closes the
// channel. The daemon stores the received bytes in the media store and
// reports the reference back over the WebSocket.
//
// Connection establishment uses vanilla ICE: all candidates are
// gathered before the answer SDP is returned, so signaling is exactly
// one round-trip on the existing socket.
package transfer
