// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
	"github.com/clawline/clawline/session"
)

var epoch = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

const sessionKey = "agent:main:clawline:flynn:main"

func newTestRecorder(t *testing.T) (*session.Recorder, *session.Store, session.Paths) {
	t.Helper()
	paths := session.Paths{StateDir: t.TempDir()}
	store := session.NewStore(paths.StorePath())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return session.NewRecorder(store, paths, clock.Fake(epoch), logger), store, paths
}

func loadEntry(t *testing.T, store *session.Store, key string) *session.Entry {
	t.Helper()
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry := entries[key]
	if entry == nil {
		t.Fatalf("no store entry for %q", key)
	}
	return entry
}

func TestRecordActivityCreatesEntry(t *testing.T) {
	recorder, store, paths := newTestRecorder(t)

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey:  sessionKey,
		SessionID:   "sess-1",
		DisplayName: "  Flynn  ",
	})

	entry := loadEntry(t, store, sessionKey)
	if entry.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", entry.SessionID)
	}
	wantFile := paths.TranscriptPath("sess-1", "main")
	if entry.SessionFile != wantFile {
		t.Errorf("SessionFile = %q, want %q", entry.SessionFile, wantFile)
	}
	if entry.DisplayName != "Flynn" || entry.Label != "Flynn" {
		t.Errorf("DisplayName/Label = %q/%q, want trimmed Flynn", entry.DisplayName, entry.Label)
	}
	if entry.Channel != "clawline" || entry.LastChannel != "clawline" {
		t.Errorf("Channel/LastChannel = %q/%q, want clawline", entry.Channel, entry.LastChannel)
	}
	if entry.ChatType != session.ChatType {
		t.Errorf("ChatType = %q, want %q", entry.ChatType, session.ChatType)
	}
	if !entry.UpdatedAt.Equal(epoch) {
		t.Errorf("UpdatedAt = %v, want %v", entry.UpdatedAt, epoch)
	}
	if entry.LastTo != "" {
		t.Errorf("LastTo = %q; RecordActivity must never set it", entry.LastTo)
	}
}

func TestSessionIdentityIsStable(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey:  sessionKey,
		SessionID:   "sess-1",
		DisplayName: "Flynn",
	})
	first := loadEntry(t, store, sessionKey)

	// A reconnect with a fresh transient id must not rebind identity.
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-2",
	})
	second := loadEntry(t, store, sessionKey)
	if second.SessionID != "sess-1" {
		t.Errorf("SessionID = %q after reconnect, want sess-1", second.SessionID)
	}
	if second.SessionFile != first.SessionFile {
		t.Errorf("SessionFile changed on reconnect: %q → %q", first.SessionFile, second.SessionFile)
	}
	if second.DisplayName != "Flynn" {
		t.Errorf("DisplayName = %q; empty update must not clear it", second.DisplayName)
	}

	// Non-empty display names do update.
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey:  sessionKey,
		SessionID:   "sess-3",
		DisplayName: "Kevin Flynn",
	})
	third := loadEntry(t, store, sessionKey)
	if third.DisplayName != "Kevin Flynn" || third.Label != "Kevin Flynn" {
		t.Errorf("DisplayName/Label = %q/%q, want Kevin Flynn", third.DisplayName, third.Label)
	}
	if third.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", third.SessionID)
	}
	if third.LastTo != "" {
		t.Errorf("LastTo = %q after three RecordActivity calls, want empty", third.LastTo)
	}
}

func TestLegacyTranscriptPathRepaired(t *testing.T) {
	recorder, store, paths := newTestRecorder(t)

	// Seed an entry whose transcript lives in an old storage layout.
	err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		entries[sessionKey] = &session.Entry{
			SessionID:   "sess-old",
			SessionFile: "/var/old-layout/transcripts/sess-old.jsonl",
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-new",
	})

	entry := loadEntry(t, store, sessionKey)
	if entry.SessionID != "sess-old" {
		t.Errorf("SessionID = %q, want sess-old", entry.SessionID)
	}
	wantFile := paths.TranscriptPath("sess-old", "main")
	if entry.SessionFile != wantFile {
		t.Errorf("SessionFile = %q, want repaired canonical path %q", entry.SessionFile, wantFile)
	}
}

func TestCustomNameInsideCanonicalDirKept(t *testing.T) {
	recorder, store, paths := newTestRecorder(t)

	customFile := filepath.Join(paths.TranscriptsDirForAgent("main"), "pinned-name.jsonl")
	err := store.Update(context.Background(), func(entries map[string]*session.Entry) error {
		entries[sessionKey] = &session.Entry{
			SessionID:   "sess-1",
			SessionFile: customFile,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-1",
	})

	entry := loadEntry(t, store, sessionKey)
	if entry.SessionFile != customFile {
		t.Errorf("SessionFile = %q, want untouched custom path %q", entry.SessionFile, customFile)
	}
}

func TestNewBindingRespectsCallerFile(t *testing.T) {
	recorder, store, paths := newTestRecorder(t)

	customFile := filepath.Join(paths.TranscriptsDirForAgent("main"), "named-by-caller.jsonl")
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey:  sessionKey,
		SessionID:   "sess-1",
		SessionFile: customFile,
	})
	if got := loadEntry(t, store, sessionKey).SessionFile; got != customFile {
		t.Errorf("SessionFile = %q, want caller-supplied %q", got, customFile)
	}

	// A caller path outside the canonical directory is not honored.
	otherKey := "agent:main:clawline:yori:main"
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey:  otherKey,
		SessionID:   "sess-2",
		SessionFile: "/tmp/elsewhere/sess-2.jsonl",
	})
	want := paths.TranscriptPath("sess-2", "main")
	if got := loadEntry(t, store, otherKey).SessionFile; got != want {
		t.Errorf("SessionFile = %q, want canonicalized %q", got, want)
	}
}

func TestAgentScopesTranscriptDirectory(t *testing.T) {
	recorder, store, paths := newTestRecorder(t)

	key := "agent:ops:clawline:flynn:main"
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: key,
		SessionID:  "sess-1",
	})
	want := paths.TranscriptPath("sess-1", "ops")
	if got := loadEntry(t, store, key).SessionFile; got != want {
		t.Errorf("SessionFile = %q, want %q", got, want)
	}
}

func TestRecordInboundRouteSetsLastTo(t *testing.T) {
	recorder, store, _ := newTestRecorder(t)

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-1",
	})

	to, err := target.New("flynn", "main")
	if err != nil {
		t.Fatalf("target.New: %v", err)
	}
	recorder.RecordInboundRoute(context.Background(), sessionKey, to)

	entry := loadEntry(t, store, sessionKey)
	if entry.LastTo != "flynn:main" {
		t.Errorf("LastTo = %q, want flynn:main", entry.LastTo)
	}

	// Later presence activity must not clear the route.
	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-1",
	})
	if got := loadEntry(t, store, sessionKey).LastTo; got != "flynn:main" {
		t.Errorf("LastTo = %q after RecordActivity, want flynn:main", got)
	}
}

func TestEnsureBindsAndReturnsIdentity(t *testing.T) {
	recorder, _, paths := newTestRecorder(t)

	id, file, err := recorder.Ensure(context.Background(), sessionKey, "sess-1")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "sess-1" {
		t.Errorf("session id = %q, want sess-1", id)
	}
	if want := paths.TranscriptPath("sess-1", "main"); file != want {
		t.Errorf("session file = %q, want %q", file, want)
	}

	// A second call with a different transient id returns the bound
	// identity.
	id, file2, err := recorder.Ensure(context.Background(), sessionKey, "sess-2")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "sess-1" || file2 != file {
		t.Errorf("Ensure rebound identity to %q/%q, want sess-1/%q", id, file2, file)
	}

	// Unlike RecordActivity, Ensure surfaces failures.
	if _, _, err := recorder.Ensure(context.Background(), "agent:main:telegram:flynn:main", "sess-3"); err == nil {
		t.Error("Ensure accepted a non-clawline session key")
	}
}

func TestRecordActivityIsBestEffort(t *testing.T) {
	// Point the store at a directory so every load fails.
	dir := t.TempDir()
	store := session.NewStore(dir)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	recorder := session.NewRecorder(store, session.Paths{StateDir: dir}, clock.Fake(epoch), logger)

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: sessionKey,
		SessionID:  "sess-1",
	})

	if !strings.Contains(logs.String(), "session activity not recorded") {
		t.Errorf("expected a warning log, got: %s", logs.String())
	}
}

func TestRecordActivityRejectsForeignKeys(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	paths := session.Paths{StateDir: t.TempDir()}
	store := session.NewStore(paths.StorePath())
	recorder := session.NewRecorder(store, paths, clock.Fake(epoch), logger)

	recorder.RecordActivity(context.Background(), session.Activity{
		SessionKey: "agent:main:telegram:flynn:main",
		SessionID:  "sess-1",
	})

	if !strings.Contains(logs.String(), "session activity not recorded") {
		t.Error("expected a warning for a non-clawline session key")
	}
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("store has %d entries, want 0", len(entries))
	}
}
