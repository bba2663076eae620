// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawline/clawline/lib/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clawline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultsValidateWithAgentCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Command = []string{"clawline-agent"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:9000"
state_dir: /var/lib/clawline
rate_limits:
  pairing_limit: 3
  pairing_window: 30s
delivery:
  attachment_timeout: 5s
agent:
  id: helper
  command: ["agent", "--flag"]
`)
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:9000")
	}
	if cfg.StateDir != "/var/lib/clawline" {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, "/var/lib/clawline")
	}
	if cfg.RateLimits.PairingLimit != 3 {
		t.Errorf("PairingLimit = %d, want 3", cfg.RateLimits.PairingLimit)
	}
	if cfg.RateLimits.PairingWindow.Std() != 30*time.Second {
		t.Errorf("PairingWindow = %v, want 30s", cfg.RateLimits.PairingWindow.Std())
	}
	if cfg.Delivery.AttachmentTimeout.Std() != 5*time.Second {
		t.Errorf("AttachmentTimeout = %v, want 5s", cfg.Delivery.AttachmentTimeout.Std())
	}
	if cfg.Agent.ID != "helper" || len(cfg.Agent.Command) != 2 {
		t.Errorf("Agent = %+v, want id helper with 2-element command", cfg.Agent)
	}

	// Untouched fields keep their defaults.
	if cfg.RateLimits.AuthLimit != 10 {
		t.Errorf("AuthLimit = %d, want default 10", cfg.RateLimits.AuthLimit)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "delivery:\n  attachment_timeout: soon\n")
	if _, err := config.LoadFile(path); err == nil {
		t.Error("LoadFile accepted an unparseable duration")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CLAWLINE_LISTEN", "127.0.0.1:7777")
	t.Setenv("CLAWLINE_STATE_DIR", "/tmp/claw-state")

	cfg := config.Default()
	cfg.ApplyEnvironment()

	if cfg.Listen != "127.0.0.1:7777" {
		t.Errorf("Listen = %q, want env override", cfg.Listen)
	}
	if cfg.StateDir != "/tmp/claw-state" {
		t.Errorf("StateDir = %q, want env override", cfg.StateDir)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/flynn")
	path := writeConfig(t, `
state_dir: ${HOME}/.clawline
media:
  dir: ${CLAWLINE_STATE_DIR}/media
agent:
  command: ["agent"]
`)
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.StateDir != "/home/flynn/.clawline" {
		t.Errorf("StateDir = %q, want ${HOME} expanded", cfg.StateDir)
	}
	if cfg.Media.Dir != "/home/flynn/.clawline/media" {
		t.Errorf("Media.Dir = %q, want dependent expansion from state_dir", cfg.Media.Dir)
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config validated")
	}
	for _, want := range []string{"listen", "state_dir", "media.dir", "agent.command"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = filepath.Join(root, "state")
	cfg.AdminSocket = filepath.Join(root, "run", "admin.sock")
	cfg.Media.Dir = filepath.Join(root, "media")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.StateDir, filepath.Dir(cfg.AdminSocket), cfg.Media.Dir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created (err=%v)", dir, err)
		}
	}
}
