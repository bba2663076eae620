// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Device is one enrolled device in the registry.
type Device struct {
	// ID is the device's stable identity, assigned at approval.
	ID string `json:"id"`

	// UserID is the user the device is enrolled under.
	UserID string `json:"userId"`

	// Name is the human-readable label supplied at pairing.
	Name string `json:"name"`

	// Token is the argon2id record of the device's bearer token.
	Token TokenRecord `json:"token"`

	// CreatedAt is the approval time (UTC).
	CreatedAt time.Time `json:"createdAt"`

	// LastSeenAt is the most recent successful WebSocket
	// authentication. Zero for devices that have never connected.
	LastSeenAt time.Time `json:"lastSeenAt"`

	// Revoked marks credentials invalidated by the operator. Revoked
	// entries are kept, not deleted: the registry doubles as the
	// enrollment audit trail.
	Revoked bool `json:"revoked,omitempty"`
}

// Registry is the device registry file: JSON mapping device ids to
// entries, with a sidecar flock file serializing writers across
// processes. The zero value is not usable; construct with NewRegistry.
type Registry struct {
	path string
}

// NewRegistry returns a Registry backed by the file at path. The file
// and its parent directories are created on first write.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Update acquires the registry lock, loads the current devices,
// applies mutate, and atomically replaces the registry file. If mutate
// returns an error the registry is left unchanged.
func (r *Registry) Update(ctx context.Context, mutate func(devices map[string]*Device) error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	devices, err := r.load()
	if err != nil {
		return err
	}
	if err := mutate(devices); err != nil {
		return err
	}
	return r.save(devices)
}

// Load returns a snapshot of the registry under the lock. A missing
// registry file is an empty registry, not an error.
func (r *Registry) Load(ctx context.Context) (map[string]*Device, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return make(map[string]*Device), nil
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.load()
}

// Revoke marks a device's credentials invalid. The entry stays in the
// registry. Revoking an already-revoked device is a no-op.
func (r *Registry) Revoke(ctx context.Context, deviceID string) error {
	return r.Update(ctx, func(devices map[string]*Device) error {
		device, ok := devices[deviceID]
		if !ok {
			return &DeviceNotFoundError{DeviceID: deviceID}
		}
		device.Revoked = true
		return nil
	})
}

// TouchLastSeen records a successful authentication time for a device.
func (r *Registry) TouchLastSeen(ctx context.Context, deviceID string, now time.Time) error {
	return r.Update(ctx, func(devices map[string]*Device) error {
		device, ok := devices[deviceID]
		if !ok {
			return &DeviceNotFoundError{DeviceID: deviceID}
		}
		device.LastSeenAt = now.UTC()
		return nil
	})
}

// lock acquires an exclusive flock on the sidecar lock file, polling
// so that ctx cancellation is honored (flock itself has no timeout).
// The registry file cannot serve as the lock: save replaces it by
// rename, which would silently detach the held lock from the path.
func (r *Registry) lock(ctx context.Context) (func(), error) {
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening registry lock: %w", err)
	}

	for {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			lockFile.Close()
			return nil, fmt.Errorf("locking registry: %w", err)
		}
		select {
		case <-ctx.Done():
			lockFile.Close()
			return nil, fmt.Errorf("waiting for registry lock: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}

	return func() {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
	}, nil
}

// load reads the registry file. Caller holds the lock.
func (r *Registry) load() (map[string]*Device, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return make(map[string]*Device), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading device registry: %w", err)
	}

	devices := make(map[string]*Device)
	if len(data) == 0 {
		return devices, nil
	}
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing device registry %s: %w", r.path, err)
	}
	return devices, nil
}

// save atomically replaces the registry file. Caller holds the lock.
// Mode 0600: the file holds credential hashes.
func (r *Registry) save(devices map[string]*Device) error {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device registry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".devices-*")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting registry permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing device registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing device registry: %w", err)
	}
	success = true
	return nil
}
