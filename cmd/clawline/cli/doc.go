// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the clawline operator CLI:
// a hand-rolled command tree with pflag flag sets, tabwriter help
// output, and closest-match suggestions for unknown commands and
// flags. It stays deliberately small — commands declare Name, Summary,
// Flags, and Run, and the framework handles dispatch and help.
package cli
