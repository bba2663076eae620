// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"net"
	"testing"
	"time"
)

func TestReceiveStreamDeadlineUnblocksRead(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	stream := newReceiveStream(local)
	defer stream.Close()
	stream.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	// Nothing is ever written: the read should fail once the deadline
	// closes the stream, not block forever.
	errs := make(chan error, 1)
	go func() {
		buffer := make([]byte, 16)
		_, err := stream.Read(buffer)
		errs <- err
	}()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected read error after deadline")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read did not unblock after deadline")
	}
}

func TestReceiveStreamClearDeadline(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	stream := newReceiveStream(local)
	defer stream.Close()

	stream.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	stream.SetReadDeadline(time.Time{})

	go func() {
		time.Sleep(150 * time.Millisecond)
		remote.Write([]byte("late but fine"))
	}()

	buffer := make([]byte, 32)
	n, err := stream.Read(buffer)
	if err != nil {
		t.Fatalf("read after cleared deadline: %v", err)
	}
	if string(buffer[:n]) != "late but fine" {
		t.Errorf("read %q, want %q", buffer[:n], "late but fine")
	}
}

func TestReceiveStreamExpiredDeadline(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	stream := newReceiveStream(local)
	defer stream.Close()
	stream.SetReadDeadline(time.Now().Add(-time.Second))

	buffer := make([]byte, 16)
	if _, err := stream.Read(buffer); err == nil {
		t.Fatal("expected read error with already-expired deadline")
	}
}
