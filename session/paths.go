// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package session maintains the durable session store: the mapping
// from session keys to stable session identity (id, transcript file)
// and routing metadata (display name, last channel, last target). The
// store is a single JSON file guarded by a sidecar lock; every
// mutation goes through the lock-load-mutate-save cycle in Store so
// concurrent writers never lose updates.
package session

import "path/filepath"

// Paths is the naming policy for session state on disk. All paths are
// derived from one state directory so a daemon's entire footprint can
// be relocated by changing a single config field.
type Paths struct {
	// StateDir is the daemon state root, e.g. ~/.clawline/state.
	StateDir string
}

// StorePath returns the location of the session store file.
func (p Paths) StorePath() string {
	return filepath.Join(p.StateDir, "sessions.json")
}

// TranscriptsDirForAgent returns the canonical transcripts directory
// for an agent. Transcript files recorded anywhere else are considered
// legacy and are repaired on next activity.
func (p Paths) TranscriptsDirForAgent(agentID string) string {
	return filepath.Join(p.StateDir, "agents", agentID, "sessions")
}

// TranscriptPath returns the canonical transcript file for a session
// id under the given agent.
func (p Paths) TranscriptPath(sessionID, agentID string) string {
	return filepath.Join(p.TranscriptsDirForAgent(agentID), sessionID+".jsonl")
}
