// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError carries a specific process exit code through the command
// tree to main. Commands return it when a non-1 exit code matters to
// callers (scripts checking "is this device revoked" and similar).
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the process exit code for err. Errors that are not
// *ExitError map to 1.
func (e *ExitError) ExitCode() int {
	return e.Code
}
