// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/target"
)

// DefaultPairingTTL is how long an enrollment request waits for
// operator review before expiring.
const DefaultPairingTTL = 15 * time.Minute

// maxDeviceNameLength bounds the user-supplied device label.
const maxDeviceNameLength = 64

// PairingOutcome is the operator's decision on one pending request.
type PairingOutcome struct {
	// Approved reports the decision. When true, DeviceID and Token
	// carry the minted credentials.
	Approved bool
	DeviceID string
	Token    string

	// Reason explains a denial.
	Reason string
}

// PendingPairing is one enrollment request awaiting operator review.
type PendingPairing struct {
	// RequestID identifies the request in operator tooling.
	RequestID string

	// UserID and DeviceName are the enrollment claim, verbatim from
	// the device (after target validation of UserID).
	UserID     string
	DeviceName string

	// Code is the six-digit confirmation code the device displays.
	// The operator checks it matches before approving: it proves the
	// request on screen is the request in hand, not a concurrent
	// attacker's.
	Code string

	// CreatedAt is when the request arrived.
	CreatedAt time.Time

	resolved chan PairingOutcome
}

// Resolved returns the channel that receives exactly one outcome when
// the operator decides. A request that expires instead receives
// nothing; waiters must also honor their own deadlines.
func (p *PendingPairing) Resolved() <-chan PairingOutcome {
	return p.resolved
}

// resolve delivers the outcome. The channel is buffered so resolution
// never blocks on an absent waiter (REST-originated requests have
// none).
func (p *PendingPairing) resolve(outcome PairingOutcome) {
	select {
	case p.resolved <- outcome:
	default:
	}
}

// Pairings holds enrollment requests awaiting review. State is daemon
// memory only: a restart voids all pending requests and devices
// re-request. Expired entries are pruned lazily on every access.
type Pairings struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	pending map[string]*PendingPairing
}

// NewPairings constructs the pending-request table. A non-positive ttl
// falls back to DefaultPairingTTL.
func NewPairings(ttl time.Duration, clk clock.Clock) *Pairings {
	if ttl <= 0 {
		ttl = DefaultPairingTTL
	}
	return &Pairings{
		ttl:     ttl,
		clock:   clk,
		pending: make(map[string]*PendingPairing),
	}
}

// Begin registers an enrollment request and returns it with a fresh
// request id and confirmation code. The user id is validated under
// delivery-target rules; the device name must be non-empty and at most
// 64 characters after trimming.
func (p *Pairings) Begin(userID, deviceName string) (*PendingPairing, error) {
	// Validating against the default label catches everything that
	// would later break session keys: empty, whitespace-only, or
	// colon-containing user ids.
	to, err := target.New(userID, target.DefaultSessionLabel)
	if err != nil {
		return nil, err
	}

	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if len(deviceName) > maxDeviceNameLength {
		return nil, fmt.Errorf("device name exceeds %d characters", maxDeviceNameLength)
	}

	code, err := confirmationCode()
	if err != nil {
		return nil, err
	}

	pending := &PendingPairing{
		RequestID:  uuid.NewString(),
		UserID:     to.UserID(),
		DeviceName: deviceName,
		Code:       code,
		CreatedAt:  p.clock.Now(),
		resolved:   make(chan PairingOutcome, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	p.pending[pending.RequestID] = pending
	return pending, nil
}

// List returns the pending requests ordered oldest first.
func (p *Pairings) List() []*PendingPairing {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()

	requests := make([]*PendingPairing, 0, len(p.pending))
	for _, pending := range p.pending {
		requests = append(requests, pending)
	}
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].RequestID < requests[j].RequestID
	})
	return requests
}

// Len reports the number of pending requests.
func (p *Pairings) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.pending)
}

// Take removes and returns the pending request, reserving it for
// resolution. Callers that fail mid-resolution hand it back with
// restore.
func (p *Pairings) Take(requestID string) (*PendingPairing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()

	pending, ok := p.pending[requestID]
	if !ok {
		return nil, &PairingNotFoundError{RequestID: requestID}
	}
	delete(p.pending, requestID)
	return pending, nil
}

// restore returns a taken request to the table after a failed
// resolution attempt.
func (p *Pairings) restore(pending *PendingPairing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[pending.RequestID] = pending
}

// pruneLocked drops expired requests. Caller holds p.mu.
func (p *Pairings) pruneLocked() {
	cutoff := p.clock.Now().Add(-p.ttl)
	for id, pending := range p.pending {
		if pending.CreatedAt.Before(cutoff) {
			delete(p.pending, id)
		}
	}
}

// confirmationCode returns six uniformly random decimal digits.
func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
