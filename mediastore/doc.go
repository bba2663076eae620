// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediastore is the content-addressed attachment store.
//
// Every blob is identified by its [Ref]: a media-domain BLAKE3 keyed
// hash of the plaintext bytes. Identical attachments therefore share
// one copy regardless of how many messages reference them, and Put is
// idempotent.
//
// On disk each blob is compressed (probed per MIME type and content —
// zstd for text-like payloads, LZ4 for compressible binaries, stored
// raw when compression does not pay), then encrypted with
// XChaCha20-Poly1305 under a per-blob key derived via HKDF-SHA256 from
// the media master key. The ref is bound into the AEAD as additional
// authenticated data, so a blob swapped on disk fails authentication.
// The master key lives in a secret.Buffer for its whole lifetime.
//
// Layout under the store root:
//
//	media/ab/cd/<hex>.blob    encrypted blob, sharded by hash prefix
//	media/ab/cd/<hex>.cbor    sidecar metadata (ref, MIME, sizes, ...)
//	tmp/                      staging for atomic renames
//
// Depends on zeebo/blake3, klauspost/compress, pierrec/lz4,
// golang.org/x/crypto, lib/codec, and lib/secret. Used by the channel
// service (attachment ingest and the media fetch endpoint), the
// transfer listener, the browse mount, and the CLI.
package mediastore
