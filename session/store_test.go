// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clawline/clawline/session"
)

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Load of missing file returned %d entries, want 0", len(entries))
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "nested", "dir", "sessions.json"))

	err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		entries["agent:main:clawline:flynn:main"] = &session.Entry{
			SessionID:   "sess-1",
			DisplayName: "Flynn",
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry := entries["agent:main:clawline:flynn:main"]
	if entry == nil || entry.SessionID != "sess-1" || entry.DisplayName != "Flynn" {
		t.Errorf("entry = %+v, want sess-1/Flynn", entry)
	}
}

func TestUpdateDeletesKeys(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	seed := func(key string) {
		err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
			entries[key] = &session.Entry{SessionID: key}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	seed("a")
	seed("b")

	err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		delete(entries, "a")
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := entries["a"]; ok {
		t.Error("deleted key still present")
	}
	if _, ok := entries["b"]; !ok {
		t.Error("unrelated key lost")
	}
}

func TestUpdateMutateErrorLeavesStoreUnchanged(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		entries["keep"] = &session.Entry{SessionID: "sess-1"}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	boom := errors.New("boom")
	err = store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		entries["discard"] = &session.Entry{SessionID: "sess-2"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update = %v, want %v", err, boom)
	}

	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := entries["discard"]; ok {
		t.Error("failed mutation was persisted")
	}
	if _, ok := entries["keep"]; !ok {
		t.Error("existing entry lost after failed mutation")
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Update(context.Background(), func(entries map[string]*session.Entry) error {
				entries[fmt.Sprintf("key-%d", i)] = &session.Entry{SessionID: fmt.Sprintf("sess-%d", i)}
				return nil
			})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != writers {
		t.Errorf("store has %d entries, want %d — a concurrent write was lost", len(entries), writers)
	}
}

func TestCorruptStoreFileSurfacesParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	store := session.NewStore(path)

	err := store.Update(context.Background(), func(map[string]*session.Entry) error {
		t.Error("mutate ran against a corrupt store")
		return nil
	})
	if err == nil {
		t.Fatal("Update succeeded on a corrupt store file")
	}
	if !strings.Contains(err.Error(), "parsing session store") {
		t.Errorf("error = %v, want a parse error", err)
	}
}

func TestUpdateHonorsContextWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := session.NewStore(path)

	// Hold the lock from a second store handle for the duration.
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		other := session.NewStore(path)
		_ = other.Update(context.Background(), func(map[string]*session.Entry) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Update(ctx, func(map[string]*session.Entry) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Update under held lock = %v, want context.Canceled", err)
	}
	close(release)
}
