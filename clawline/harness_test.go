// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/agent"
	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/ratelimit"
	"github.com/clawline/clawline/lib/secret"
	"github.com/clawline/clawline/lib/taskqueue"
	"github.com/clawline/clawline/mediastore"
	"github.com/clawline/clawline/session"
	"github.com/clawline/clawline/wire"
)

// harness wires a complete channel — server, stores, dispatcher,
// scripted agent — behind an httptest listener.
type harness struct {
	server     *Server
	registry   *Registry
	streams    *Streams
	pairings   *Pairings
	outbound   *gateway.Outbound
	dispatcher *gateway.Dispatcher
	runner     *agent.ScriptedRunner
	media      *mediastore.Store
	clock      *clock.FakeClock
	logger     *slog.Logger
	web        *httptest.Server

	mu         sync.Mutex
	taskErrors []error
}

// harnessConfig tunes the parts tests care about. Zero values pick
// generous defaults that stay out of the way.
type harnessConfig struct {
	pairingLimit int
	authLimit    int
	script       []agent.Event
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, harnessConfig{})
}

func newHarnessWith(t *testing.T, config harnessConfig) *harness {
	t.Helper()

	if config.pairingLimit == 0 {
		config.pairingLimit = 100
	}
	if config.authLimit == 0 {
		config.authLimit = 100
	}
	if config.script == nil {
		config.script = []agent.Event{{Type: agent.EventMessage, Text: "agent reply"}}
	}

	stateDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	h := &harness{
		registry: NewRegistry(filepath.Join(stateDir, "devices.json")),
		pairings: NewPairings(0, clk),
		outbound: gateway.NewOutbound(),
		runner:   &agent.ScriptedRunner{Script: config.script},
		clock:    clk,
		logger:   logger,
	}

	streams, err := NewStreams(filepath.Join(stateDir, "streams.json"), clk)
	if err != nil {
		t.Fatalf("NewStreams: %v", err)
	}
	h.streams = streams

	queue := taskqueue.New(func(queueKey string, err error) {
		h.mu.Lock()
		h.taskErrors = append(h.taskErrors, err)
		h.mu.Unlock()
	})

	sessions := session.NewStore(session.Paths{StateDir: stateDir}.StorePath())
	recorder := session.NewRecorder(sessions, session.Paths{StateDir: stateDir}, clk, logger)

	dispatcher, err := gateway.NewDispatcher(gateway.DispatcherConfig{
		Queue:    queue,
		Outbound: h.outbound,
		Recorder: recorder,
		Runner:   h.runner,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	h.dispatcher = dispatcher

	masterKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, mediastore.KeySize))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	keySet, err := mediastore.NewKeySet(masterKey)
	if err != nil {
		t.Fatalf("NewKeySet: %v", err)
	}
	media, err := mediastore.NewStore(filepath.Join(stateDir, "media"), keySet)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h.media = media
	t.Cleanup(func() { media.Close() })

	server, err := NewServer(ServerConfig{
		Registry:       h.registry,
		Streams:        h.streams,
		Pairings:       h.pairings,
		Dispatcher:     dispatcher,
		Outbound:       h.outbound,
		Media:          media,
		PairingLimiter: ratelimit.NewLimiter(config.pairingLimit, time.Minute, clk),
		AuthLimiter:    ratelimit.NewLimiter(config.authLimit, time.Minute, clk),
		Clock:          clk,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h.server = server

	runCtx, cancelRun := context.WithCancel(context.Background())
	if err := server.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.web = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelStop()
		if err := server.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
		cancelRun()
		h.web.Close()
		queue.Drain()
	})

	return h
}

// enroll registers a device the way the operator would: begin a
// pairing, approve it. Returns the device id and plaintext token.
func (h *harness) enroll(t *testing.T, userID, deviceName string) (deviceID, token string) {
	t.Helper()
	pending, err := h.pairings.Begin(userID, deviceName)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	approved, err := h.server.ApprovePairing(context.Background(), pending.RequestID)
	if err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	return approved.DeviceID, approved.Token
}

// wsURL rewrites the httptest base URL for a WebSocket dial.
func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.web.URL, "http") + "/v1/connect"
}

// dialWS opens a device WebSocket. Subprotocols are offered as given;
// none means the JSON fallback.
func (h *harness) dialWS(t *testing.T, subprotocols ...string) *wsDevice {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: subprotocols}
	conn, _, err := dialer.Dial(h.wsURL(), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	codec, err := wire.Negotiate(conn.Subprotocol())
	if err != nil {
		t.Fatalf("Negotiate(%q): %v", conn.Subprotocol(), err)
	}
	return &wsDevice{t: t, conn: conn, codec: codec}
}

// wsDevice is the test's device end of a connection.
type wsDevice struct {
	t     *testing.T
	conn  *websocket.Conn
	codec wire.Codec
}

func (d *wsDevice) send(envelope wire.Envelope) {
	d.t.Helper()
	data, err := d.codec.Encode(envelope)
	if err != nil {
		d.t.Fatalf("encoding %s frame: %v", envelope.Type, err)
	}
	messageType := websocket.TextMessage
	if d.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	if err := d.conn.WriteMessage(messageType, data); err != nil {
		d.t.Fatalf("writing %s frame: %v", envelope.Type, err)
	}
}

func (d *wsDevice) recv() wire.Envelope {
	d.t.Helper()
	d.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := d.conn.ReadMessage()
	if err != nil {
		d.t.Fatalf("reading frame: %v", err)
	}
	envelope, err := d.codec.Decode(data)
	if err != nil {
		d.t.Fatalf("decoding frame: %v", err)
	}
	return envelope
}

// expect reads the next frame and fails unless it has the given type.
func (d *wsDevice) expect(frameType wire.Type) wire.Envelope {
	d.t.Helper()
	envelope := d.recv()
	if envelope.Type != frameType {
		d.t.Fatalf("received %s frame, want %s", envelope.Type, frameType)
	}
	return envelope
}

// expectClosed fails unless the server closes the connection promptly.
func (d *wsDevice) expectClosed() {
	d.t.Helper()
	d.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := d.conn.ReadMessage(); err == nil {
		d.t.Fatal("connection still open, expected close")
	}
}

// authenticate drives the hello/auth handshake to completion.
func (d *wsDevice) authenticate(deviceID, token string) {
	d.t.Helper()
	d.expect(wire.TypeHello)
	d.send(wire.Envelope{Type: wire.TypeAuth, Auth: &wire.Auth{DeviceID: deviceID, Token: token}})
	d.expect(wire.TypeAuthOK)
}
