// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
)

// Stream is one named conversation context, distinct from the user's
// personal conversation. Its name doubles as the session label and the
// task-queue stream key.
type Stream struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Streams is the per-user named stream registry: a JSON file mapping
// user ids to their streams, mirrored in memory so the inbound message
// path can check stream existence without touching disk. The daemon is
// the only writer; the file lock guards against a concurrent CLI
// reader mid-rename.
type Streams struct {
	path  string
	clock clock.Clock

	mu     sync.RWMutex
	byUser map[string]map[string]Stream
}

// NewStreams loads (or initializes) the stream registry at path.
func NewStreams(path string, clk clock.Clock) (*Streams, error) {
	s := &Streams{
		path:   path,
		clock:  clk,
		byUser: make(map[string]map[string]Stream),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream registry: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.byUser); err != nil {
		return nil, fmt.Errorf("parsing stream registry %s: %w", path, err)
	}
	return s, nil
}

// Path returns the registry file location.
func (s *Streams) Path() string { return s.path }

// List returns the user's streams sorted by name.
func (s *Streams) List(userID string) []Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streams := make([]Stream, 0, len(s.byUser[userID]))
	for _, stream := range s.byUser[userID] {
		streams = append(streams, stream)
	}
	sort.Slice(streams, func(i, j int) bool {
		return streams[i].Name < streams[j].Name
	})
	return streams
}

// Has reports whether the user has a stream with this exact name.
// Names are case-sensitive, like session labels.
func (s *Streams) Has(userID, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUser[userID][name]
	return ok
}

// Create registers a named stream for the user. The name is validated
// under delivery-target label rules (it becomes a session label) and
// stored trimmed. An existing stream of the same name fails with
// *StreamExistsError.
func (s *Streams) Create(ctx context.Context, userID, name string) (Stream, error) {
	to, err := target.New(userID, name)
	if err != nil {
		return Stream{}, err
	}
	name = to.SessionLabel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[userID][name]; ok {
		return Stream{}, &StreamExistsError{UserID: userID, Name: name}
	}

	stream := Stream{Name: name, CreatedAt: s.clock.Now().UTC()}
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]Stream)
	}
	s.byUser[userID][name] = stream

	if err := s.save(ctx); err != nil {
		delete(s.byUser[userID], name)
		return Stream{}, err
	}
	return stream, nil
}

// Delete removes a named stream. The stream's session store entry and
// transcript are untouched: deleting a stream stops new messages, it
// does not erase history.
func (s *Streams) Delete(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.byUser[userID][name]
	if !ok {
		return &StreamNotFoundError{UserID: userID, Name: name}
	}
	delete(s.byUser[userID], name)
	if len(s.byUser[userID]) == 0 {
		delete(s.byUser, userID)
	}

	if err := s.save(ctx); err != nil {
		if s.byUser[userID] == nil {
			s.byUser[userID] = make(map[string]Stream)
		}
		s.byUser[userID][name] = stream
		return err
	}
	return nil
}

// save persists the in-memory registry under the file lock. Caller
// holds s.mu, which already serializes in-process writers; the flock
// protects cross-process readers.
func (s *Streams) save(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating stream registry directory: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(s.byUser, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stream registry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".streams-*")
	if err != nil {
		return fmt.Errorf("creating temp stream registry file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing stream registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp stream registry file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing stream registry: %w", err)
	}
	success = true
	return nil
}

// lock acquires an exclusive flock on the sidecar lock file, polling
// so that ctx cancellation is honored.
func (s *Streams) lock(ctx context.Context) (func(), error) {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening stream registry lock: %w", err)
	}

	for {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			lockFile.Close()
			return nil, fmt.Errorf("locking stream registry: %w", err)
		}
		select {
		case <-ctx.Done():
			lockFile.Close()
			return nil, fmt.Errorf("waiting for stream registry lock: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}

	return func() {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
	}, nil
}
