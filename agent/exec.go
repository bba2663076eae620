// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ExecRunner runs the agent as a subprocess. The request is written to
// the process's stdin as a single JSON line; the process emits events
// as JSONL on stdout. Stderr passes through to the daemon's stderr.
type ExecRunner struct {
	command []string
	logger  *slog.Logger
}

// NewExecRunner constructs an ExecRunner for the given argv. The first
// element is the binary; the rest are fixed arguments.
func NewExecRunner(command []string, logger *slog.Logger) *ExecRunner {
	return &ExecRunner{command: command, logger: logger}
}

// Run spawns the agent process for one exchange. The returned channel
// closes once stdout is drained and the process has exited. Canceling
// ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, request Request) (<-chan Event, error) {
	if len(r.command) == 0 {
		return nil, fmt.Errorf("agent command not configured")
	}

	command := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	command.Stderr = os.Stderr

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("starting agent %s: %w", r.command[0], err)
	}

	requestLine, err := json.Marshal(request)
	if err != nil {
		stdin.Close()
		command.Process.Kill()
		command.Wait()
		return nil, fmt.Errorf("encoding agent request: %w", err)
	}
	requestLine = append(requestLine, '\n')
	if _, err := stdin.Write(requestLine); err != nil {
		stdin.Close()
		command.Process.Kill()
		command.Wait()
		return nil, fmt.Errorf("writing agent request: %w", err)
	}
	stdin.Close()

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		scanner := bufio.NewScanner(stdout)
		// Agents produce long lines (large assistant messages).
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				// Preserve malformed output rather than dropping it.
				r.logger.Warn("agent emitted unparseable line", "error", err)
				event = Event{Type: EventStatus, Text: string(line)}
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now().UTC()
			}

			select {
			case events <- event:
			case <-ctx.Done():
				command.Wait()
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			events <- Event{
				Timestamp: time.Now().UTC(),
				Type:      EventError,
				Err:       fmt.Sprintf("reading agent output: %v", err),
			}
		}
		if err := command.Wait(); err != nil && ctx.Err() == nil {
			events <- Event{
				Timestamp: time.Now().UTC(),
				Type:      EventError,
				Err:       fmt.Sprintf("agent process: %v", err),
			}
		}
	}()

	return events, nil
}
