// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Device-token hashing parameters. The argon2id parameters are stored
// alongside each hash, so raising them later only affects tokens
// minted after the change; existing tokens keep verifying under the
// parameters they were hashed with.
const (
	tokenBytes = 32
	saltBytes  = 16

	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// TokenRecord is the stored form of a device token: the argon2id hash
// plus everything needed to recompute it. The plaintext token is shown
// exactly once, at minting, and never persisted.
type TokenRecord struct {
	Hash      []byte `json:"hash"`
	Salt      []byte `json:"salt"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memoryKiB"`
	Threads   uint8  `json:"threads"`
}

// MintToken generates a fresh device token and its storable record.
// The token is 32 random bytes in unpadded base64url.
func MintToken() (string, TokenRecord, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", TokenRecord{}, fmt.Errorf("generating device token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", TokenRecord{}, fmt.Errorf("generating token salt: %w", err)
	}

	record := TokenRecord{
		Hash:      argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen),
		Salt:      salt,
		Time:      argonTime,
		MemoryKiB: argonMemory,
		Threads:   argonThreads,
	}
	return token, record, nil
}

// Verify recomputes the argon2id hash of a presented token under this
// record's stored parameters and compares in constant time.
func (r TokenRecord) Verify(token string) bool {
	if len(r.Hash) == 0 || len(r.Salt) == 0 || token == "" {
		return false
	}
	derived := argon2.IDKey([]byte(token), r.Salt, r.Time, r.MemoryKiB, r.Threads, uint32(len(r.Hash)))
	return subtle.ConstantTimeCompare(derived, r.Hash) == 1
}

// Identity is an authenticated device, attached to WebSocket
// connections and REST requests after credential verification.
type Identity struct {
	DeviceID   string
	UserID     string
	DeviceName string
}

// verifierCache remembers tokens that already survived a full argon2id
// verification, keyed by device id. Re-deriving argon2id on every REST
// request would cost ~64 MiB and tens of milliseconds each time; after
// the first success a SHA-256 comparison suffices, since a hit can
// only confirm the exact bytes that already passed. Revocation must
// invalidate the entry.
type verifierCache struct {
	mu      sync.RWMutex
	entries map[string]verifierEntry
}

type verifierEntry struct {
	tokenSHA [sha256.Size]byte
	identity Identity
}

func newVerifierCache() *verifierCache {
	return &verifierCache{entries: make(map[string]verifierEntry)}
}

func (c *verifierCache) check(deviceID, token string) (Identity, bool) {
	c.mu.RLock()
	entry, ok := c.entries[deviceID]
	c.mu.RUnlock()
	if !ok {
		return Identity{}, false
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], entry.tokenSHA[:]) != 1 {
		return Identity{}, false
	}
	return entry.identity, true
}

func (c *verifierCache) put(deviceID, token string, identity Identity) {
	sum := sha256.Sum256([]byte(token))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[deviceID] = verifierEntry{tokenSHA: sum, identity: identity}
}

func (c *verifierCache) invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceID)
}
