// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue serializes tasks per logical queue key while
// letting distinct keys run fully concurrently.
//
// A key is derived from a Scope: the user id alone, or the user id
// plus a case-insensitive stream key. Tasks submitted for the same key
// execute strictly one at a time in submission order; tasks for
// different keys have no ordering relationship. A failing task never
// stalls the tasks queued behind it.
//
// Concurrent agent sessions for different users (or different named
// streams of one user) must make progress independently, but commands
// within one conversation must never interleave. The queue is the one
// place that enforces both.
package taskqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

// Task is a unit of queued work. The context carries the queue key of
// the chain executing the task; see QueueKeyFromContext.
type Task func(ctx context.Context) error

// Scope names the logical queue a task belongs to.
type Scope struct {
	// UserID is the case-sensitive primary key component.
	UserID string

	// StreamKey optionally isolates a named stream within the user's
	// scope. It is case-insensitive: "Ops" and "ops" are the same
	// stream.
	StreamKey string
}

// QueueKey derives the serialization key for this scope.
func (s Scope) QueueKey() string {
	if s.StreamKey == "" {
		return s.UserID
	}
	return s.UserID + "::" + strings.ToLower(s.StreamKey)
}

// Queue runs tasks with per-key serialization. Safe for concurrent
// use. The zero value is not usable; construct with New.
type Queue struct {
	onTaskError func(queueKey string, err error)

	mu    sync.Mutex
	tails map[string]*Pending // last submitted task per live key
}

// New constructs a Queue. onTaskError, if non-nil, is invoked once for
// every task that settles with an error (including recovered panics),
// so fire-and-forget submissions are never silently swallowed. The
// hook runs on the task's goroutine and must not block.
func New(onTaskError func(queueKey string, err error)) *Queue {
	return &Queue{
		onTaskError: onTaskError,
		tails:       make(map[string]*Pending),
	}
}

// Pending tracks a submitted task until it settles.
type Pending struct {
	queueKey string
	done     chan struct{}
	err      error // written once, before done is closed
}

// Done returns a channel closed when the task has settled, whether it
// succeeded or failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the task's result. Valid only after Done is closed; a
// nil result before that point means the task has not settled yet.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// QueueKey returns the derived key the task was serialized under.
func (p *Pending) QueueKey() string { return p.queueKey }

// Submit appends task to the scope's chain and returns immediately.
// Position in the chain is assigned synchronously, so two Submit calls
// from one goroutine execute in call order.
//
// If the calling context is already executing a task for the same
// queue key, the task runs inline before Submit returns (the returned
// Pending is already settled). Without this, a task that schedules
// follow-up work on its own key would deadlock behind itself.
//
// The task receives ctx with the queue key attached. Cancellation of
// ctx does not remove the task from the chain; the task is expected to
// observe ctx itself.
func (q *Queue) Submit(ctx context.Context, scope Scope, task Task) *Pending {
	key := scope.QueueKey()

	if current, ok := QueueKeyFromContext(ctx); ok && current == key {
		pending := &Pending{queueKey: key, done: make(chan struct{})}
		pending.settle(q, q.runTask(ctx, key, task))
		return pending
	}

	pending := &Pending{queueKey: key, done: make(chan struct{})}

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = pending
	q.mu.Unlock()

	go func() {
		if prev != nil {
			// Wait for the predecessor to settle; its outcome is
			// irrelevant to whether we run.
			<-prev.done
		}
		pending.settle(q, q.runTask(ctx, key, task))

		q.mu.Lock()
		if q.tails[key] == pending {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()

	return pending
}

// Run submits task and blocks until it settles, returning the task's
// error. If ctx is canceled while waiting, Run returns ctx.Err(); the
// task still runs in its chain position.
func (q *Queue) Run(ctx context.Context, scope Scope, task Task) error {
	pending := q.Submit(ctx, scope, task)
	select {
	case <-pending.Done():
		return pending.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs task in scope's chain and returns its value. The zero value
// of T is returned on any error, including ctx cancellation while
// waiting.
func Do[T any](ctx context.Context, q *Queue, scope Scope, task func(ctx context.Context) (T, error)) (T, error) {
	var result T
	pending := q.Submit(ctx, scope, func(ctx context.Context) error {
		value, err := task(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	select {
	case <-pending.Done():
		if err := pending.Err(); err != nil {
			var zero T
			return zero, err
		}
		return result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain blocks until every chain tracked at the time of the call has
// settled. Task failures do not fail Drain. Chains created after the
// call are not waited on.
func (q *Queue) Drain() {
	_ = q.DrainContext(context.Background())
}

// DrainContext is Drain with a deadline: it returns ctx.Err() if ctx
// is done before the tracked chains settle.
func (q *Queue) DrainContext(ctx context.Context) error {
	q.mu.Lock()
	tails := make([]*Pending, 0, len(q.tails))
	for _, pending := range q.tails {
		tails = append(tails, pending)
	}
	q.mu.Unlock()

	for _, pending := range tails {
		select {
		case <-pending.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runTask executes task with the queue key attached to ctx, converting
// panics into errors so one bad task cannot take down the process.
func (q *Queue) runTask(ctx context.Context, key string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(withQueueKey(ctx, key))
}

// settle records the outcome, closes Done, and reports failures to the
// error hook.
func (p *Pending) settle(q *Queue, err error) {
	p.err = err
	close(p.done)
	if err != nil && q.onTaskError != nil {
		q.onTaskError(p.queueKey, err)
	}
}

type queueKeyContextKey struct{}

func withQueueKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, queueKeyContextKey{}, key)
}

// QueueKeyFromContext reports the queue key the context's task chain
// is executing under, if any. Tasks use this to detect that follow-up
// work they schedule targets their own chain.
func QueueKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(queueKeyContextKey{}).(string)
	return key, ok
}
