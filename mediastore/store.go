// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clawline/clawline/lib/codec"
)

// Directory names within the store root.
const (
	mediaDir = "media"
	tmpDir   = "tmp"
)

// Meta is the sidecar record stored next to each encrypted blob. It is
// the only place the store records what a blob is — the blob file
// itself is opaque ciphertext.
type Meta struct {
	// Ref is the blob identity (media-domain hash of the plaintext).
	Ref Ref `json:"ref"`

	// MIMEType is the declared content type, recorded at Put time.
	MIMEType string `json:"mimeType"`

	// Size is the plaintext size in bytes.
	Size int64 `json:"size"`

	// StoredSize is the on-disk size: compressed then encrypted.
	StoredSize int64 `json:"storedSize"`

	// Compression is the algorithm applied before encryption.
	Compression CompressionTag `json:"compression"`

	// CreatedAt is when the blob was first stored (UTC).
	CreatedAt time.Time `json:"createdAt"`
}

// PutResult is returned by [Store.Put] with metadata about the stored
// blob.
type PutResult struct {
	// Ref is the blob identity.
	Ref Ref

	// Size is the plaintext size in bytes.
	Size int64

	// StoredSize is the on-disk size after compression and encryption.
	StoredSize int64

	// Compression is the algorithm that was applied. Put falls back to
	// CompressionNone when the selected algorithm does not shrink the
	// data.
	Compression CompressionTag

	// Duplicate is true when the blob was already stored. The existing
	// copy is identical by construction, so nothing was written.
	Duplicate bool
}

// Store manages the attachment directory: compressed, encrypted,
// content-addressed blobs plus their metadata sidecars.
//
// The store is safe for concurrent use. Concurrent puts of identical
// content settle on a single copy: both writers compute the same ref
// and the final rename is atomic.
type Store struct {
	root string
	keys *KeySet
}

// NewStore creates a Store rooted at the given directory, creating the
// directory structure if needed. The KeySet is owned by the store and
// released by [Store.Close].
func NewStore(root string, keys *KeySet) (*Store, error) {
	if keys == nil {
		return nil, fmt.Errorf("mediastore: key set is required")
	}
	for _, dir := range []string{
		root,
		filepath.Join(root, mediaDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, keys: keys}, nil
}

// Close zeroes and releases the master key. The store must not be used
// after Close.
func (s *Store) Close() error {
	return s.keys.Close()
}

// Put stores an attachment and returns its ref. Identical content is
// deduplicated: if the blob already exists, nothing is written and the
// result reports Duplicate.
func (s *Store) Put(data []byte, mimeType string) (*PutResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot store empty media")
	}

	ref := HashMedia(data)

	// Dedup: an existing sidecar means the blob is already stored.
	if meta, err := s.readMeta(ref); err == nil {
		return &PutResult{
			Ref:         ref,
			Size:        meta.Size,
			StoredSize:  meta.StoredSize,
			Compression: meta.Compression,
			Duplicate:   true,
		}, nil
	}

	compressed, tag, err := CompressAuto(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("compressing media %s: %w", ref.Short(), err)
	}

	encrypted, err := s.keys.Encrypt(compressed, ref)
	if err != nil {
		return nil, fmt.Errorf("encrypting media %s: %w", ref.Short(), err)
	}

	meta := &Meta{
		Ref:         ref,
		MIMEType:    mimeType,
		Size:        int64(len(data)),
		StoredSize:  int64(len(encrypted)),
		Compression: tag,
		CreatedAt:   time.Now().UTC(),
	}

	// Blob first, sidecar second: a crash in between leaves an orphan
	// blob that the next Put of the same content repairs, while the
	// reverse order would leave a sidecar pointing at nothing.
	if err := s.writeFileAtomic(s.blobPath(ref), encrypted); err != nil {
		return nil, fmt.Errorf("writing media blob %s: %w", ref.Short(), err)
	}
	sidecar, err := codec.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling media sidecar %s: %w", ref.Short(), err)
	}
	if err := s.writeFileAtomic(s.metaPath(ref), sidecar); err != nil {
		return nil, fmt.Errorf("writing media sidecar %s: %w", ref.Short(), err)
	}

	return &PutResult{
		Ref:         ref,
		Size:        meta.Size,
		StoredSize:  meta.StoredSize,
		Compression: tag,
	}, nil
}

// PutReader is a convenience wrapper that reads all of r into memory
// and stores it. Attachments are bounded by channel payload limits, so
// the in-memory path is fine here.
func (s *Store) PutReader(r io.Reader, mimeType string) (*PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading media content: %w", err)
	}
	return s.Put(data, mimeType)
}

// Get returns the decrypted, decompressed content of a blob along with
// its metadata. The plaintext is re-hashed and verified against the
// ref before returning. Returns a [NotFoundError] if the blob is not
// stored.
func (s *Store) Get(ref Ref) ([]byte, *Meta, error) {
	meta, err := s.Stat(ref)
	if err != nil {
		return nil, nil, err
	}

	encrypted, err := os.ReadFile(s.blobPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &NotFoundError{Ref: ref}
		}
		return nil, nil, fmt.Errorf("reading media blob %s: %w", ref.Short(), err)
	}

	compressed, err := s.keys.Decrypt(encrypted, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting media %s: %w", ref.Short(), err)
	}

	data, err := Decompress(compressed, meta.Compression, int(meta.Size))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing media %s: %w", ref.Short(), err)
	}

	if HashMedia(data) != ref {
		return nil, nil, fmt.Errorf("media %s failed integrity verification", ref.Short())
	}

	return data, meta, nil
}

// Stat returns a blob's metadata without reading its content. Returns
// a [NotFoundError] if the blob is not stored.
func (s *Store) Stat(ref Ref) (*Meta, error) {
	meta, err := s.readMeta(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Ref: ref}
		}
		return nil, err
	}
	return meta, nil
}

// Exists reports whether a blob is stored.
func (s *Store) Exists(ref Ref) bool {
	_, err := s.Stat(ref)
	return err == nil
}

// List returns metadata for every stored blob, newest first. Blobs
// stored in the same instant are ordered by ref for determinism.
func (s *Store) List() ([]*Meta, error) {
	var metas []*Meta

	root := filepath.Join(s.root, mediaDir)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".cbor") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading media sidecar %s: %w", path, err)
		}
		var meta Meta
		if err := codec.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("parsing media sidecar %s: %w", path, err)
		}
		metas = append(metas, &meta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].Ref.String() < metas[j].Ref.String()
	})
	return metas, nil
}

// Delete removes a blob and its sidecar. Returns a [NotFoundError] if
// the blob is not stored.
func (s *Store) Delete(ref Ref) error {
	// Sidecar first: once it is gone the blob is invisible to Get and
	// List, and an orphaned blob file is repaired by a future Put.
	if err := os.Remove(s.metaPath(ref)); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Ref: ref}
		}
		return fmt.Errorf("removing media sidecar %s: %w", ref.Short(), err)
	}
	if err := os.Remove(s.blobPath(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing media blob %s: %w", ref.Short(), err)
	}
	return nil
}

// readMeta reads and parses a sidecar. The error from os.ReadFile is
// passed through so callers can distinguish missing from corrupt.
func (s *Store) readMeta(ref Ref) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(ref))
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := codec.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing media sidecar for %s: %w", ref.Short(), err)
	}
	return &meta, nil
}

// writeFileAtomic writes data to path via a temp file and rename. If
// the destination already exists it is left untouched: blobs and
// sidecars are content-addressed, so an existing file is identical by
// construction.
func (s *Store) writeFileAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "media-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		os.Remove(tmpPath)
		success = true
		return nil
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}

// blobPath returns the sharded filesystem path for an encrypted blob:
// media/ab/cd/abcd....blob.
func (s *Store) blobPath(ref Ref) string {
	hex := ref.String()
	return filepath.Join(s.root, mediaDir, hex[:2], hex[2:4], hex+".blob")
}

// metaPath returns the sharded filesystem path for a sidecar.
func (s *Store) metaPath(ref Ref) string {
	hex := ref.String()
	return filepath.Join(s.root, mediaDir, hex[:2], hex[2:4], hex+".cbor")
}
