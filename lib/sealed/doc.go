// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for device credential
// bundles. It wraps filippo.io/age for the operations the export and
// import commands need: generate x25519 keypairs, encrypt a registry
// snapshot to one or more recipients, and decrypt it with a private
// key.
//
// Ciphertext is base64-encoded so a bundle travels as one printable
// string. Private keys and decrypted plaintext are returned as
// [secret.Buffer] values backed by mmap memory outside the Go heap
// (locked against swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Decrypt] -- decrypt with a secret.Buffer key
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// Used by `clawline device export-credentials` (encrypt the device
// registry to the receiving daemon's public key) and
// `clawline device import-credentials` (decrypt and merge).
//
// Depends on lib/secret for secure memory allocation.
package sealed
