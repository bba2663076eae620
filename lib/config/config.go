// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the clawlined daemon configuration.
type Config struct {
	// Listen is the HTTP listen address for the device and Helm
	// channels.
	Listen string `yaml:"listen"`

	// AdminSocket is the Unix socket path for operator CLI actions.
	AdminSocket string `yaml:"admin_socket"`

	// StateDir holds the session store, device registry, stream
	// registry, and per-agent transcript directories.
	StateDir string `yaml:"state_dir"`

	// Media configures the attachment store.
	Media MediaConfig `yaml:"media"`

	// RateLimits bound pairing and authentication attempts.
	RateLimits RateLimitConfig `yaml:"rate_limits"`

	// Delivery configures outbound delivery behavior.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Agent configures the embedded agent runner.
	Agent AgentConfig `yaml:"agent"`

	// ICE configures WebRTC candidate gathering for direct transfers.
	ICE ICEConfig `yaml:"ice"`

	// Helm configures the visualization channel.
	Helm HelmConfig `yaml:"helm"`

	// ChannelConfig is the optional path to the channel-settings JSONC
	// file (see LoadChannelSettings).
	ChannelConfig string `yaml:"channel_config"`
}

// MediaConfig configures the attachment store.
type MediaConfig struct {
	// Dir is the media store root.
	Dir string `yaml:"dir"`

	// MasterKeyFile holds the 32-byte hex media master key. "-" reads
	// the key from stdin at startup.
	MasterKeyFile string `yaml:"master_key_file"`
}

// RateLimitConfig bounds pairing and auth attempt rates. A limit of 0
// or below disables the corresponding limiter.
type RateLimitConfig struct {
	PairingLimit  int      `yaml:"pairing_limit"`
	PairingWindow Duration `yaml:"pairing_window"`
	AuthLimit     int      `yaml:"auth_limit"`
	AuthWindow    Duration `yaml:"auth_window"`
}

// DeliveryConfig configures outbound delivery.
type DeliveryConfig struct {
	// AttachmentTimeout is the hard deadline on a single attachment
	// delivery.
	AttachmentTimeout Duration `yaml:"attachment_timeout"`
}

// AgentConfig configures the agent runner.
type AgentConfig struct {
	// ID is the agent identity used in session keys.
	ID string `yaml:"id"`

	// Command is the agent argv. The runner writes one JSON request
	// line to its stdin and reads JSONL events from its stdout.
	Command []string `yaml:"command"`
}

// ICEConfig configures WebRTC candidate gathering.
type ICEConfig struct {
	// STUNURLs lists STUN servers for the transfer answerer. Empty
	// means host candidates only (same-LAN devices).
	STUNURLs []string `yaml:"stun_urls"`
}

// HelmConfig configures the Helm visualization channel.
type HelmConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the base configuration merged under any loaded file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".local", "state", "clawline")

	return &Config{
		Listen:      "127.0.0.1:7600",
		AdminSocket: filepath.Join(stateDir, "admin.sock"),
		StateDir:    stateDir,
		Media: MediaConfig{
			Dir: filepath.Join(stateDir, "media"),
		},
		RateLimits: RateLimitConfig{
			PairingLimit:  5,
			PairingWindow: Duration(time.Minute),
			AuthLimit:     10,
			AuthWindow:    Duration(time.Minute),
		},
		Delivery: DeliveryConfig{
			AttachmentTimeout: Duration(15 * time.Second),
		},
		Agent: AgentConfig{
			ID: "main",
		},
		Helm: HelmConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from the CLAWLINE_CONFIG environment
// variable. If the variable is unset the defaults are returned, so a
// bare `clawlined` run works out of the box.
func Load() (*Config, error) {
	path := os.Getenv("CLAWLINE_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.ApplyEnvironment()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of the defaults, then
// applies environment overrides and ${VAR} expansion.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyEnvironment()
	cfg.expandVariables()
	return cfg, nil
}

// ApplyEnvironment applies the explicit per-field environment
// overrides. This is the complete list; nothing else in the
// environment affects configuration.
func (c *Config) ApplyEnvironment() {
	if v := os.Getenv("CLAWLINE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CLAWLINE_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("CLAWLINE_ADMIN_SOCKET"); v != "" {
		c.AdminSocket = v
	}
	if v := os.Getenv("CLAWLINE_MEDIA_DIR"); v != "" {
		c.Media.Dir = v
	}
	if v := os.Getenv("CLAWLINE_MEDIA_KEY_FILE"); v != "" {
		c.Media.MasterKeyFile = v
	}
	if v := os.Getenv("CLAWLINE_AGENT_ID"); v != "" {
		c.Agent.ID = v
	}
	if v := os.Getenv("CLAWLINE_HELM_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Helm.Enabled = enabled
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":               os.Getenv("HOME"),
		"CLAWLINE_STATE_DIR": c.StateDir,
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["CLAWLINE_STATE_DIR"] = c.StateDir // dependent paths see the final value

	c.AdminSocket = expandVars(c.AdminSocket, vars)
	c.Media.Dir = expandVars(c.Media.Dir, vars)
	c.Media.MasterKeyFile = expandVars(c.Media.MasterKeyFile, vars)
	c.ChannelConfig = expandVars(c.ChannelConfig, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, fallback := parts[1], ""
		if len(parts) >= 3 {
			fallback = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.AdminSocket == "" {
		errs = append(errs, errors.New("admin_socket is required"))
	}
	if c.Media.Dir == "" {
		errs = append(errs, errors.New("media.dir is required"))
	}
	if c.RateLimits.PairingLimit > 0 && c.RateLimits.PairingWindow <= 0 {
		errs = append(errs, errors.New("rate_limits.pairing_window must be positive when pairing_limit is set"))
	}
	if c.RateLimits.AuthLimit > 0 && c.RateLimits.AuthWindow <= 0 {
		errs = append(errs, errors.New("rate_limits.auth_window must be positive when auth_limit is set"))
	}
	if c.Delivery.AttachmentTimeout < 0 {
		errs = append(errs, errors.New("delivery.attachment_timeout must not be negative"))
	}
	if len(c.Agent.Command) == 0 {
		errs = append(errs, errors.New("agent.command is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.StateDir,
		filepath.Dir(c.AdminSocket),
		c.Media.Dir,
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
