// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
)

// ChatType is the fixed chat type for clawline sessions. The channel
// only does direct device conversations; there are no groups.
const ChatType = "direct"

// Activity describes one inbound/outbound exchange worth recording.
type Activity struct {
	// SessionKey is the long-form routing key for the session.
	SessionKey string

	// SessionID is the session identity proposed by the caller. It
	// binds only the first time a key is seen; the recorder keeps the
	// already-bound id on every later call.
	SessionID string

	// SessionFile optionally proposes a transcript path for a new
	// binding. Ignored for existing entries.
	SessionFile string

	// DisplayName optionally updates the session's display name.
	// Empty means "leave as is".
	DisplayName string
}

// Recorder upserts session bookkeeping after conversation activity.
// All methods are best-effort: failures are logged through the
// injected logger and never returned, because losing a bookkeeping
// update must not abort the message delivery it accompanies.
type Recorder struct {
	store  *Store
	paths  Paths
	clock  clock.Clock
	logger *slog.Logger
}

// NewRecorder constructs a Recorder writing through store using the
// transcript naming policy in paths.
func NewRecorder(store *Store, paths Paths, clk clock.Clock, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, paths: paths, clock: clk, logger: logger}
}

// RecordActivity upserts the entry for activity.SessionKey.
//
// The session identity is stable: an entry that already has a
// SessionID keeps it, and keeps its transcript file, no matter what
// the caller proposes. The one exception is a transcript path outside
// the agent's canonical transcripts directory — a leftover from an
// older storage layout — which is rewritten to the canonical path for
// the bound session id. A path inside the canonical directory is left
// alone even when its filename is not the default one.
//
// RecordActivity never sets LastTo. Reply routing follows actual
// inbound messages (RecordInboundRoute); a device that reconnects
// without sending anything must not capture it.
func (r *Recorder) RecordActivity(ctx context.Context, activity Activity) {
	if _, err := r.recordActivity(ctx, activity); err != nil {
		r.logger.Warn("session activity not recorded",
			"session_key", activity.SessionKey,
			"store", r.store.Path(),
			"error", err)
	}
}

// Ensure returns the stable session identity for sessionKey, binding
// proposedID (and the canonical transcript path) if the key has none
// yet. Unlike RecordActivity this returns errors: a caller about to
// run the agent cannot proceed without an identity.
func (r *Recorder) Ensure(ctx context.Context, sessionKey, proposedID string) (sessionID, sessionFile string, err error) {
	entry, err := r.recordActivity(ctx, Activity{SessionKey: sessionKey, SessionID: proposedID})
	if err != nil {
		return "", "", err
	}
	return entry.SessionID, entry.SessionFile, nil
}

func (r *Recorder) recordActivity(ctx context.Context, activity Activity) (Entry, error) {
	agentID, err := target.AgentIDFromSessionKey(activity.SessionKey)
	if err != nil {
		return Entry{}, err
	}

	var recorded Entry
	err = r.store.Update(ctx, func(entries map[string]*Entry) error {
		entry := entries[activity.SessionKey]
		if entry == nil {
			entry = &Entry{}
			entries[activity.SessionKey] = entry
		}

		candidateFile := entry.SessionFile
		if entry.SessionID == "" {
			if strings.TrimSpace(activity.SessionID) == "" {
				return errors.New("no session id bound and none supplied")
			}
			entry.SessionID = strings.TrimSpace(activity.SessionID)
			candidateFile = strings.TrimSpace(activity.SessionFile)
		}

		canonicalDir := r.paths.TranscriptsDirForAgent(agentID)
		if candidateFile == "" || !withinDir(canonicalDir, candidateFile) {
			candidateFile = r.paths.TranscriptPath(entry.SessionID, agentID)
		}
		entry.SessionFile = candidateFile

		if name := strings.TrimSpace(activity.DisplayName); name != "" {
			entry.DisplayName = name
			entry.Label = name
		}
		entry.Channel = target.ChannelName
		entry.LastChannel = target.ChannelName
		entry.ChatType = ChatType
		entry.UpdatedAt = r.clock.Now().UTC()
		recorded = *entry
		return nil
	})
	return recorded, err
}

// RecordInboundRoute marks to as the most recent inbound sender for
// the session, making it the default reply target. Like
// RecordActivity this is best-effort and never returns an error.
func (r *Recorder) RecordInboundRoute(ctx context.Context, sessionKey string, to target.DeliveryTarget) {
	err := r.store.Update(ctx, func(entries map[string]*Entry) error {
		entry := entries[sessionKey]
		if entry == nil {
			entry = &Entry{}
			entries[sessionKey] = entry
		}
		entry.LastTo = to.String()
		entry.LastChannel = target.ChannelName
		entry.UpdatedAt = r.clock.Now().UTC()
		return nil
	})
	if err != nil {
		r.logger.Warn("inbound route not recorded",
			"session_key", sessionKey,
			"store", r.store.Path(),
			"error", err)
	}
}

// withinDir reports whether path is dir itself or inside it, after
// cleaning both.
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
