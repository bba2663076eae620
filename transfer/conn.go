// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"io"
	"sync"
	"time"
)

// receiveStream wraps a detached pion data channel for the daemon's
// read side of a transfer. The detached channel is stream-oriented
// (SCTP reassembles messages) but has no deadline support, so the
// deadline is timer-based: when it fires, the stream is closed and any
// blocked Read returns the close error. Once a deadline has fired the
// stream is permanently broken.
type receiveStream struct {
	rwc io.ReadWriteCloser

	mu     sync.Mutex
	timer  *time.Timer
	broken bool
}

func newReceiveStream(rwc io.ReadWriteCloser) *receiveStream {
	return &receiveStream{rwc: rwc}
}

func (s *receiveStream) Read(buffer []byte) (int, error) {
	return s.rwc.Read(buffer)
}

func (s *receiveStream) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.rwc.Close()
}

// SetReadDeadline arms the transfer deadline. A zero value clears it.
func (s *receiveStream) SetReadDeadline(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if deadline.IsZero() || s.broken {
		return
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		s.breakLocked()
		return
	}
	s.timer = time.AfterFunc(remaining, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.breakLocked()
	})
}

// breakLocked closes the underlying stream to unblock a pending Read.
// Must be called with s.mu held.
func (s *receiveStream) breakLocked() {
	if s.broken {
		return
	}
	s.broken = true
	s.rwc.Close()
}
