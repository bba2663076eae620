// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse implements a read-only FUSE filesystem for browsing
// stored attachments as regular files.
//
// The mount exposes two top-level directories:
//
//   - recent/ — the newest attachments, listed newest first. Entries
//     are named by short ref plus a MIME-derived extension
//     (med-a3f9b2c1e7d4.png), so image viewers and pagers open them
//     directly. File modification times carry the ingest time.
//
//   - cas/ — flat lookup by full hex ref. No directory listing (the
//     keyspace is too large). Lookup by the 64-character hex form
//     returns the attachment file directly.
//
// # Read Path
//
// Blobs are whole-file: on first open the filesystem reads the
// encrypted blob, authenticates and decrypts it, decompresses, and
// keeps the plaintext for the node's lifetime. Attachments are bounded
// by channel payload limits, so holding one decoded copy per open file
// is fine. Content is immutable, so the kernel page cache is enabled.
//
// # Write Path
//
// Not implemented. All mutation operations return EROFS. Ingest goes
// through the channel service and the CLI, never through the mount.
package fuse
