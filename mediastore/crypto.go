// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/clawline/clawline/lib/secret"
)

// KeySize is the size in bytes of the media master key and every
// derived per-blob key.
const KeySize = 32

// EncryptedBlobVersion is the version byte prepended to every
// encrypted blob. Included as additional authenticated data in the
// AEAD Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedBlobVersion byte = 0x01

// EncryptedBlobOverhead is the total byte overhead per encrypted blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const EncryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoBlob is the "info" parameter for per-blob key derivation.
// Changing it invalidates every blob encrypted under the old path.
var hkdfInfoBlob = []byte("clawline.media.blob.enc.v1")

// DeriveBlobKey derives the encryption key for one blob from the media
// master key and the blob's ref. The same blob always derives the same
// key, so deduplicated content stays deduplicated on disk.
//
// The masterKey is borrowed (read via .Bytes()) and is NOT closed by
// this function. The returned Buffer must be closed by the caller.
func DeriveBlobKey(masterKey *secret.Buffer, ref Ref) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoBlob)+len(ref))
	copy(info, hkdfInfoBlob)
	copy(info[len(hkdfInfoBlob):], ref[:])

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// EncryptBlob encrypts plaintext using XChaCha20-Poly1305 and returns
// the encrypted blob in the standard format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and ref are included as additional authenticated
// data. The ref binds the ciphertext to the blob it belongs to,
// preventing blob swapping on disk.
//
// The encryptionKey is borrowed and NOT closed. It must be exactly
// KeySize bytes (the output of DeriveBlobKey).
func EncryptBlob(plaintext []byte, encryptionKey *secret.Buffer, ref Ref) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedBlobVersion, ref)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// DecryptBlob decrypts an encrypted blob produced by EncryptBlob. It
// verifies the version byte, extracts the nonce, and authenticates the
// ciphertext against the AAD (version byte + ref).
//
// Returns an error if:
//   - The blob is too short to contain version + nonce + tag
//   - The version byte is not EncryptedBlobVersion
//   - AEAD authentication fails (wrong key, tampered ciphertext,
//     wrong ref)
//
// The encryptionKey is borrowed and NOT closed.
func DecryptBlob(encryptedBlob []byte, encryptionKey *secret.Buffer, ref Ref) ([]byte, error) {
	if len(encryptedBlob) < EncryptedBlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(encryptedBlob), EncryptedBlobOverhead)
	}

	version := encryptedBlob[0]
	if version != EncryptedBlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)",
			version, EncryptedBlobVersion)
	}

	nonce := encryptedBlob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encryptedBlob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, ref)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched ref): %w", err)
	}

	return plaintext, nil
}

// KeySet holds the media master key in guarded memory and derives
// per-blob encryption keys on demand.
//
// Derived keys are not cached: HKDF-SHA256 takes roughly a microsecond,
// negligible next to the AEAD pass and disk I/O that follow.
//
// Close zeroes and releases the master key. After Close, all methods
// panic (via secret.Buffer's closed check).
type KeySet struct {
	masterKey *secret.Buffer
}

// NewKeySet creates a key set from a media master key. The masterKey
// buffer is owned by the KeySet and will be closed when Close is
// called. The caller must not use masterKey after passing it here.
//
// Returns an error if masterKey is not exactly KeySize (32) bytes.
func NewKeySet(masterKey *secret.Buffer) (*KeySet, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("media master key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &KeySet{masterKey: masterKey}, nil
}

// KeySetFromFile loads the media master key from a file holding either
// the raw 32 key bytes or their 64-character hex encoding, and wraps it
// in a KeySet.
func KeySetFromFile(path string) (*KeySet, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading media master key: %w", err)
	}
	if buffer.Len() != 2*KeySize {
		return NewKeySet(buffer)
	}

	raw := make([]byte, KeySize)
	if _, err := hex.Decode(raw, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("decoding media master key hex: %w", err)
	}
	buffer.Close()
	decoded, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return NewKeySet(decoded)
}

// Close zeroes and releases the master key. After Close, Encrypt and
// Decrypt will panic. Idempotent.
func (keySet *KeySet) Close() error {
	return keySet.masterKey.Close()
}

// Encrypt encrypts blob bytes for storage. Derives the per-blob key
// from the master key and ref, encrypts with the ref as AAD, and
// returns the encrypted blob.
func (keySet *KeySet) Encrypt(plaintext []byte, ref Ref) ([]byte, error) {
	encryptionKey, err := DeriveBlobKey(keySet.masterKey, ref)
	if err != nil {
		return nil, fmt.Errorf("deriving blob encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return EncryptBlob(plaintext, encryptionKey, ref)
}

// Decrypt decrypts a stored blob.
func (keySet *KeySet) Decrypt(encryptedBlob []byte, ref Ref) ([]byte, error) {
	encryptionKey, err := DeriveBlobKey(keySet.masterKey, ref)
	if err != nil {
		return nil, fmt.Errorf("deriving blob encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return DecryptBlob(encryptedBlob, encryptionKey, ref)
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the ref. The ref binds the
// ciphertext to the specific blob, preventing an attacker from
// swapping encrypted files between refs on disk.
func buildAAD(version byte, ref Ref) []byte {
	aad := make([]byte, 1+len(ref))
	aad[0] = version
	copy(aad[1:], ref[:])
	return aad
}
