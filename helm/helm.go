// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package helm is the visualization channel: a receive-only WebSocket
// fan-out that mirrors agent run events to watching UIs, live. A
// watcher subscribes to one user and sees every event the dispatcher
// publishes for that user's conversations, encoded as JSON wire
// envelopes.
//
// Helm never blocks the message pipeline. Each watcher has a bounded
// frame buffer drained by its own writer goroutine; when the buffer is
// full the frame is dropped for that watcher and counted. A stalled UI
// loses events, never stalls the agent.
package helm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/agent"
	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/lib/target"
	"github.com/clawline/clawline/wire"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a watcher may stay silent before it is
	// presumed dead.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings go out. Must be under pongWait.
	pingPeriod = 54 * time.Second

	// watcherBuffer is how many frames a watcher may fall behind
	// before frames are dropped for it.
	watcherBuffer = 64

	// maxWatchersPerUser caps concurrent watchers per user.
	maxWatchersPerUser = 8

	// Watchers only send control frames; anything bigger is a
	// misbehaving client.
	maxInboundFrame = 512
)

// AuthenticateFunc verifies a combined {deviceId}.{token} credential
// and returns the owning user id. Wired to the clawline registry by
// the daemon.
type AuthenticateFunc func(ctx context.Context, credential string) (userID string, err error)

// Config wires a Channel.
type Config struct {
	// Authenticate verifies watcher credentials. Required.
	Authenticate AuthenticateFunc

	// Logger is the channel's structured logger. Required.
	Logger *slog.Logger

	// AllowedOrigins lists Origin header values accepted during the
	// WebSocket upgrade. Empty (or a single "*") allows all.
	AllowedOrigins []string
}

// Channel fans agent events out to watching UIs. It implements
// gateway.ChannelPlugin and gateway.EventPublisher.
type Channel struct {
	authenticate AuthenticateFunc
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	hello        []byte

	mu       sync.Mutex
	running  bool
	watchers map[string]map[*watcher]struct{} // userID -> set
	handlers sync.WaitGroup

	dropped atomic.Int64
}

// watcher is one connected UI. Its frames channel is closed exactly
// once, under the channel mutex, either by the read loop on disconnect
// or by Stop.
type watcher struct {
	conn    *websocket.Conn
	frames  chan []byte
	userID  string
	dropped atomic.Int64
	gone    bool
}

// New validates config and constructs a Channel.
func New(config Config) (*Channel, error) {
	switch {
	case config.Authenticate == nil:
		return nil, fmt.Errorf("helm: Authenticate is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("helm: Logger is required")
	}

	hello, err := wire.JSONCodec{}.Encode(wire.Envelope{
		Type:  wire.TypeHello,
		Hello: &wire.Hello{Server: "helm", Authenticated: true},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding hello frame: %w", err)
	}

	return &Channel{
		authenticate: config.Authenticate,
		logger:       config.Logger.With("channel", "helm"),
		upgrader:     makeUpgrader(config.AllowedOrigins),
		hello:        hello,
		watchers:     make(map[string]map[*watcher]struct{}),
	}, nil
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Name implements gateway.ChannelPlugin.
func (c *Channel) Name() string { return "helm" }

// Start marks the channel accepting. Helm delivers nothing outbound,
// so there is no sender to bind.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.logger.Info("helm channel started")
	return nil
}

// Stop closes every watcher and waits for their handlers, bounded by
// ctx.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	var all []*watcher
	for _, set := range c.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	c.mu.Unlock()

	// WriteControl is the one write that may race the watcher's own
	// writer goroutine.
	for _, w := range all {
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		w.conn.Close()
	}

	drained := make(chan struct{})
	go func() {
		c.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for watcher handlers: %w", ctx.Err())
	}

	c.logger.Info("helm channel stopped")
	return nil
}

// OutboundAdapter implements gateway.ChannelPlugin. Helm is
// receive-only.
func (c *Channel) OutboundAdapter() gateway.Sender { return nil }

// Handler returns the channel's HTTP surface.
func (c *Channel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /helm/v1/watch", c.handleWatch)
	return mux
}

// Watchers reports the number of connected watchers.
func (c *Channel) Watchers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, set := range c.watchers {
		total += len(set)
	}
	return total
}

// Dropped reports the total frames dropped to slow watchers since
// start.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// PublishAgentEvent implements gateway.EventPublisher: one JSON frame
// to every watcher of the conversation's user. Never blocks; slow
// watchers lose the frame.
func (c *Channel) PublishAgentEvent(to target.DeliveryTarget, event agent.Event) {
	envelope := wire.Envelope{
		Type: wire.TypeAgentEvent,
		AgentEvent: &wire.AgentEvent{
			OriginatingTo: to.String(),
			Event:         event,
		},
	}
	data, err := wire.JSONCodec{}.Encode(envelope)
	if err != nil {
		c.logger.Warn("agent event does not encode", "target", to.String(), "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.watchers[to.UserID()] {
		select {
		case w.frames <- data:
		default:
			w.dropped.Add(1)
			c.dropped.Add(1)
		}
	}
}

// handleWatch authenticates and upgrades one watcher. Credentials
// arrive as ?token={deviceId}.{token} or an Authorization header —
// the query form exists because browsers cannot set headers on
// WebSocket dials; front proxies must keep query strings out of
// access logs.
func (c *Channel) handleWatch(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		http.Error(w, "channel not running", http.StatusServiceUnavailable)
		return
	}

	credential := r.URL.Query().Get("token")
	if credential == "" {
		credential = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := c.authenticate(r.Context(), credential)
	if err != nil {
		c.logger.Warn("watcher authentication failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	watchUser := strings.TrimSpace(r.URL.Query().Get("user"))
	if watchUser == "" {
		watchUser = userID
	}
	if watchUser != userID {
		http.Error(w, "watch target outside device scope", http.StatusForbidden)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("watch upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &watcher{
		conn:   conn,
		frames: make(chan []byte, watcherBuffer),
		userID: userID,
	}
	if reason := c.register(sub); reason != "" {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
		conn.Close()
		return
	}

	c.handlers.Add(1)
	go c.writePump(sub)
	c.handlers.Add(1)
	go c.readPump(sub, r.RemoteAddr)

	c.logger.Info("watcher connected", "user", userID, "remote", r.RemoteAddr)
}

// register adds the watcher. A non-empty return is the rejection
// reason. Checking running under the same mutex as Stop means a
// watcher is either in Stop's close sweep or refused, never leaked.
// The hello frame is queued here, under the mutex, so it precedes
// every published event: a client that has read hello is registered.
func (c *Channel) register(w *watcher) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return "server shutting down"
	}
	if len(c.watchers[w.userID]) >= maxWatchersPerUser {
		return "too many watchers"
	}
	if c.watchers[w.userID] == nil {
		c.watchers[w.userID] = make(map[*watcher]struct{})
	}
	c.watchers[w.userID][w] = struct{}{}
	w.frames <- c.hello
	return ""
}

// deregister removes the watcher and closes its frame channel, once.
func (c *Channel) deregister(w *watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.gone {
		return
	}
	w.gone = true
	delete(c.watchers[w.userID], w)
	if len(c.watchers[w.userID]) == 0 {
		delete(c.watchers, w.userID)
	}
	close(w.frames)
}

// writePump owns all writes on the connection: queued frames and
// keepalive pings.
func (c *Channel) writePump(w *watcher) {
	defer c.handlers.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-w.frames:
			if !ok {
				w.conn.SetWriteDeadline(time.Now().Add(writeWait))
				w.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.deregister(w)
				c.drainFrames(w)
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.deregister(w)
				c.drainFrames(w)
				return
			}
		}
	}
}

// drainFrames empties a deregistered watcher's channel so the close
// sentinel is observed and nothing leaks.
func (c *Channel) drainFrames(w *watcher) {
	for range w.frames {
	}
}

// readPump consumes the watcher's inbound side: pong handling and
// disconnect detection. Watchers have nothing to say; data frames are
// discarded.
func (c *Channel) readPump(w *watcher, remoteAddr string) {
	defer c.handlers.Done()
	defer w.conn.Close()

	w.conn.SetReadLimit(maxInboundFrame)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			c.deregister(w)
			if dropped := w.dropped.Load(); dropped > 0 {
				c.logger.Warn("watcher disconnected with dropped frames",
					"user", w.userID,
					"remote", remoteAddr,
					"dropped", dropped)
			} else {
				c.logger.Info("watcher disconnected", "user", w.userID, "remote", remoteAddr)
			}
			return
		}
	}
}
