// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Entry is one session's record in the store, keyed by session key.
type Entry struct {
	// SessionID is the stable session identity. Once bound for a key
	// it never changes; reconnects reuse it.
	SessionID string `json:"sessionId"`

	// SessionFile is the transcript file path for this session.
	SessionFile string `json:"sessionFile,omitempty"`

	// DisplayName and Label carry the latest non-empty display name
	// seen for the session.
	DisplayName string `json:"displayName,omitempty"`
	Label       string `json:"label,omitempty"`

	// Channel and ChatType identify how the session talks to us.
	Channel  string `json:"channel,omitempty"`
	ChatType string `json:"chatType,omitempty"`

	// LastChannel is the channel of the most recent activity.
	LastChannel string `json:"lastChannel,omitempty"`

	// LastTo is the short-form delivery target of the most recent
	// inbound message, used to resolve replies that name no explicit
	// target. Set only by the inbound-message path; a device that
	// merely reconnects must not capture reply routing.
	LastTo string `json:"lastTo,omitempty"`

	// UpdatedAt is the time of the most recent store write for this
	// entry.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a JSON file mapping session keys to entries, with a sidecar
// flock file serializing writers across processes. The zero value is
// not usable; construct with NewStore.
type Store struct {
	path string
}

// NewStore returns a Store backed by the file at path. The file and
// its parent directories are created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Update acquires the store lock, loads the current entries, applies
// mutate, and atomically replaces the store file. If mutate returns an
// error the store is left unchanged. The entries map passed to mutate
// is the caller's to modify freely, including inserting and deleting
// keys.
func (s *Store) Update(ctx context.Context, mutate func(entries map[string]*Entry) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if err := mutate(entries); err != nil {
		return err
	}
	return s.save(entries)
}

// Load returns a snapshot of the store under the lock. A missing store
// file is an empty store, not an error.
func (s *Store) Load(ctx context.Context) (map[string]*Entry, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return make(map[string]*Entry), nil
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.load()
}

// lock acquires an exclusive flock on the sidecar lock file, polling
// so that ctx cancellation is honored (flock itself has no timeout).
// The main store file cannot serve as the lock: save replaces it by
// rename, which would silently detach the held lock from the path.
func (s *Store) lock(ctx context.Context) (func(), error) {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening store lock: %w", err)
	}

	for {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			lockFile.Close()
			return nil, fmt.Errorf("locking store: %w", err)
		}
		select {
		case <-ctx.Done():
			lockFile.Close()
			return nil, fmt.Errorf("waiting for store lock: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}

	return func() {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
	}, nil
}

// load reads the store file. Caller holds the lock.
func (s *Store) load() (map[string]*Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session store: %w", err)
	}

	entries := make(map[string]*Entry)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing session store %s: %w", s.path, err)
	}
	return entries, nil
}

// save atomically replaces the store file. Caller holds the lock.
func (s *Store) save(entries map[string]*Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sessions-*")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing session store: %w", err)
	}
	success = true
	return nil
}
