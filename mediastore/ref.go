// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Ref is the 32-byte media-domain BLAKE3 digest that identifies a
// blob. The hex form appears in wire payloads, REST paths, and the
// browse mount; the short form in logs and listings.
type Ref [32]byte

// mediaDomainKey is the BLAKE3 key for media-domain hashing. Domain
// separation ensures the same bytes never collide with another keyed
// hash use. The value is the ASCII domain name zero-padded to 32
// bytes, readable in hex dumps without weakening the hash (BLAKE3
// keyed mode treats the key as an opaque 32-byte value).
var mediaDomainKey = [32]byte{
	'c', 'l', 'a', 'w', 'l', 'i', 'n', 'e', '.', 'm', 'e', 'd', 'i', 'a', '.', 'b',
	'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashMedia computes the media-domain BLAKE3 keyed hash of data. The
// result is the blob's identity: the same bytes always produce the
// same ref, which is what makes Put idempotent.
func HashMedia(data []byte) Ref {
	// NewKeyed requires exactly 32 bytes, which mediaDomainKey
	// guarantees, so the error path is unreachable.
	hasher, err := blake3.NewKeyed(mediaDomainKey[:])
	if err != nil {
		panic("mediastore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var ref Ref
	copy(ref[:], hasher.Sum(nil))
	return ref
}

// ParseRef parses the canonical 64-character hex form of a ref.
func ParseRef(hexString string) (Ref, error) {
	var ref Ref
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return ref, fmt.Errorf("parsing media ref: %w", err)
	}
	if len(decoded) != len(ref) {
		return ref, fmt.Errorf("media ref is %d bytes, want %d", len(decoded), len(ref))
	}
	copy(ref[:], decoded)
	return ref, nil
}

// String returns the canonical 64-character hex form.
func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

// Short returns the abbreviated display form: "med-" followed by the
// first 12 hex characters.
func (r Ref) Short() string {
	return "med-" + hex.EncodeToString(r[:6])
}

// IsZero reports whether the ref is the zero value.
func (r Ref) IsZero() bool {
	return r == Ref{}
}

// MarshalText implements encoding.TextMarshaler using the hex form,
// so refs serialize as strings in JSON and CBOR.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(text []byte) error {
	parsed, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
