// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clawline/clawline/lib/secret"
	"github.com/clawline/clawline/mediastore"
)

func testAnswerer(t *testing.T) *Answerer {
	t.Helper()

	masterKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, mediastore.KeySize))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	keySet, err := mediastore.NewKeySet(masterKey)
	if err != nil {
		t.Fatalf("NewKeySet: %v", err)
	}
	store, err := mediastore.NewStore(filepath.Join(t.TempDir(), "media"), keySet)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	answerer, err := NewAnswerer(Config{
		Media:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewAnswerer: %v", err)
	}
	return answerer
}

// dialAnswerer plays the device side of a transfer: build the offer,
// hand it to Accept, apply the answer, and wait for the data channel
// to open. Returns the open channel and the transfer result channel.
func dialAnswerer(t *testing.T, answerer *Answerer, mimeType, name string) (*webrtc.DataChannel, <-chan Incoming) {
	t.Helper()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	dc, err := pc.CreateDataChannel("blob", nil)
	if err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(15 * time.Second):
		t.Fatal("ICE gathering did not complete")
	}

	answerSDP, incoming, err := answerer.Accept(t.Context(), Offer{
		SDP:      pc.LocalDescription().SDP,
		MIMEType: mimeType,
		Name:     name,
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(30 * time.Second):
		t.Fatal("data channel did not open")
	}
	return dc, incoming
}

func waitForIncoming(t *testing.T, incoming <-chan Incoming) Incoming {
	t.Helper()
	select {
	case result := <-incoming:
		return result
	case <-time.After(30 * time.Second):
		t.Fatal("transfer did not finish")
		return Incoming{}
	}
}

func TestAnswererReceivesTransfer(t *testing.T) {
	answerer := testAnswerer(t)
	dc, incoming := dialAnswerer(t, answerer, "image/png", "photo.png")

	// 100 KB in 8 KiB messages, the way a device chunks a blob.
	blob := bytes.Repeat([]byte("clawline-transfer-"), 100*1024/18+1)[:100*1024]
	for offset := 0; offset < len(blob); offset += 8 * 1024 {
		end := min(offset+8*1024, len(blob))
		if err := dc.Send(blob[offset:end]); err != nil {
			t.Fatalf("Send at offset %d: %v", offset, err)
		}
	}
	if err := dc.Close(); err != nil {
		t.Fatalf("closing data channel: %v", err)
	}

	result := waitForIncoming(t, incoming)
	if result.Err != nil {
		t.Fatalf("transfer failed: %v", result.Err)
	}
	if result.Bytes != int64(len(blob)) {
		t.Errorf("Bytes = %d, want %d", result.Bytes, len(blob))
	}

	stored, meta, err := answerer.media.Get(result.Ref)
	if err != nil {
		t.Fatalf("Get(%s): %v", result.Ref.Short(), err)
	}
	if !bytes.Equal(stored, blob) {
		t.Error("stored blob does not match sent bytes")
	}
	if meta.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want %q", meta.MIMEType, "image/png")
	}
}

func TestAnswererRejectsEmptyTransfer(t *testing.T) {
	answerer := testAnswerer(t)
	dc, incoming := dialAnswerer(t, answerer, "text/plain", "")

	if err := dc.Close(); err != nil {
		t.Fatalf("closing data channel: %v", err)
	}

	result := waitForIncoming(t, incoming)
	if result.Err == nil {
		t.Fatal("expected error for a transfer with no data")
	}
}

func TestAnswererRejectsMalformedOffer(t *testing.T) {
	answerer := testAnswerer(t)

	_, _, err := answerer.Accept(t.Context(), Offer{SDP: "not a session description"})
	if err == nil {
		t.Fatal("expected error for malformed SDP")
	}
}

func TestNewAnswererValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewAnswerer(Config{Logger: logger}); err == nil {
		t.Error("expected error for missing Media")
	}

	masterKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, mediastore.KeySize))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	keySet, err := mediastore.NewKeySet(masterKey)
	if err != nil {
		t.Fatalf("NewKeySet: %v", err)
	}
	store, err := mediastore.NewStore(filepath.Join(t.TempDir(), "media"), keySet)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if _, err := NewAnswerer(Config{Media: store}); err == nil {
		t.Error("expected error for missing Logger")
	}
}
