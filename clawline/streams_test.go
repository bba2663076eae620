// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
)

func testStreams(t *testing.T) (*Streams, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streams.json")
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	streams, err := NewStreams(path, clk)
	if err != nil {
		t.Fatalf("NewStreams: %v", err)
	}
	return streams, path
}

func TestStreamsCreateAndList(t *testing.T) {
	streams, _ := testStreams(t)

	created, err := streams.Create(t.Context(), "ada", "  updates ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Name != "updates" {
		t.Errorf("Name = %q, want canonical %q", created.Name, "updates")
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := streams.Create(t.Context(), "ada", "alerts"); err != nil {
		t.Fatalf("Create second: %v", err)
	}

	listed := streams.List("ada")
	if len(listed) != 2 {
		t.Fatalf("List returned %d streams, want 2", len(listed))
	}
	if listed[0].Name != "alerts" || listed[1].Name != "updates" {
		t.Errorf("List order = [%s, %s], want name order", listed[0].Name, listed[1].Name)
	}

	if others := streams.List("grace"); len(others) != 0 {
		t.Errorf("List for another user returned %d streams, want 0", len(others))
	}
}

func TestStreamsCreateDuplicate(t *testing.T) {
	streams, _ := testStreams(t)

	if _, err := streams.Create(t.Context(), "ada", "updates"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := streams.Create(t.Context(), "ada", "updates")
	if !IsStreamExists(err) {
		t.Errorf("duplicate Create = %v, want StreamExistsError", err)
	}

	// Same name under a different user is a different stream.
	if _, err := streams.Create(t.Context(), "grace", "updates"); err != nil {
		t.Errorf("Create for other user: %v", err)
	}
}

func TestStreamsCreateInvalidName(t *testing.T) {
	streams, _ := testStreams(t)

	_, err := streams.Create(t.Context(), "ada", "up:dates")
	if !target.IsInvalidTarget(err) {
		t.Errorf("Create with colon = %v, want InvalidTargetError", err)
	}
	if _, err := streams.Create(t.Context(), "ada", "   "); err == nil {
		t.Error("Create with blank name succeeded")
	}
}

func TestStreamsHas(t *testing.T) {
	streams, _ := testStreams(t)

	if streams.Has("ada", "updates") {
		t.Error("Has reported an unregistered stream")
	}
	if _, err := streams.Create(t.Context(), "ada", "updates"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !streams.Has("ada", "updates") {
		t.Error("Has missed a registered stream")
	}
	if streams.Has("grace", "updates") {
		t.Error("Has crossed users")
	}
}

func TestStreamsDelete(t *testing.T) {
	streams, _ := testStreams(t)

	if _, err := streams.Create(t.Context(), "ada", "updates"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := streams.Delete(t.Context(), "ada", "updates"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if streams.Has("ada", "updates") {
		t.Error("stream still registered after Delete")
	}

	if err := streams.Delete(t.Context(), "ada", "updates"); !IsStreamNotFound(err) {
		t.Errorf("second Delete = %v, want StreamNotFoundError", err)
	}
	if err := streams.Delete(t.Context(), "ada", "never-existed"); !IsStreamNotFound(err) {
		t.Errorf("Delete(unknown) = %v, want StreamNotFoundError", err)
	}
}

func TestStreamsPersistAcrossReload(t *testing.T) {
	streams, path := testStreams(t)

	if _, err := streams.Create(t.Context(), "ada", "updates"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := streams.Create(t.Context(), "grace", "ci"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := streams.Delete(t.Context(), "grace", "ci"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reloaded, err := NewStreams(path, clock.Fake(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("NewStreams reload: %v", err)
	}
	if !reloaded.Has("ada", "updates") {
		t.Error("stream lost across reload")
	}
	if reloaded.Has("grace", "ci") {
		t.Error("deleted stream resurrected on reload")
	}
}
