// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package device implements the "clawline device" command group:
// pairing review (batch and interactive), device listing and
// revocation over the daemon's admin socket, and sealed credential
// export/import against the registry file for host migration.
package device
