// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon and channel configuration.
//
// The daemon config is a single YAML file named by the CLAWLINE_CONFIG
// environment variable or the --config flag. There is no automatic
// discovery and environment variables never silently override file
// values; the explicit per-field overrides in ApplyEnvironment are the
// whole list. The only expansion performed is ${VAR} / ${VAR:-default}
// in path fields, for portability.
//
// Channel-facing settings live in a separate JSONC file so operators
// can annotate device-visible policy. Overrides are merged onto typed
// defaults field by field over the static schema; arrays replace,
// never merge.
package config
