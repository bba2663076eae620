// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
)

// ScriptedRunner replays a fixed event script for every run. Tests use
// it to drive the dispatcher without a real agent process.
type ScriptedRunner struct {
	// Script is emitted, in order, on each run's event channel.
	Script []Event

	// Gate, when non-nil, holds every run's first event until the
	// gate channel is closed. Tests use it to keep a run in flight.
	Gate <-chan struct{}

	// StartErr, when non-nil, is returned by Run before any events.
	StartErr error

	mu       sync.Mutex
	requests []Request
}

func (r *ScriptedRunner) Run(ctx context.Context, request Request) (<-chan Event, error) {
	r.mu.Lock()
	r.requests = append(r.requests, request)
	r.mu.Unlock()

	if r.StartErr != nil {
		return nil, r.StartErr
	}

	events := make(chan Event, len(r.Script))
	go func() {
		defer close(events)
		if r.Gate != nil {
			select {
			case <-r.Gate:
			case <-ctx.Done():
				return
			}
		}
		for _, event := range r.Script {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Requests returns a snapshot of every request Run has received.
func (r *ScriptedRunner) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}
