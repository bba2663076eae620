// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/wire"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// presumed dead. Any inbound frame — data or pong — resets it.
	pongWait = 60 * time.Second

	// pingPeriod is how often the daemon pings. Must be under
	// pongWait so a healthy peer always answers in time.
	pingPeriod = 54 * time.Second

	// maxFrameSize bounds one inbound wire frame. Attachments never
	// ride the socket (they go through the sendAttachment action or a
	// direct transfer), so frames stay small.
	maxFrameSize = 64 * 1024
)

// deviceConn is one device WebSocket. The mutex guards writes:
// gorilla/websocket permits a single concurrent writer, and the
// message loop, the outbound fan-out, and the keepalive pinger all
// write. identity is set once, after authentication, before the
// connection is registered.
type deviceConn struct {
	conn     *websocket.Conn
	codec    wire.Codec
	identity Identity

	mu sync.Mutex
}

// send encodes and writes one envelope under the write mutex and
// deadline.
func (c *deviceConn) send(envelope wire.Envelope) error {
	data, err := c.codec.Encode(envelope)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// closeWith sends a close frame with the given code and reason, then
// closes the connection.
func (c *deviceConn) closeWith(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	c.mu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, message)
	c.mu.Unlock()
	c.conn.Close()
}

// connRegistry tracks authenticated device connections, indexed by
// device id for supersession and by user id for outbound fan-out.
type connRegistry struct {
	mu       sync.RWMutex
	byDevice map[string]*deviceConn
	byUser   map[string]map[string]*deviceConn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{
		byDevice: make(map[string]*deviceConn),
		byUser:   make(map[string]map[string]*deviceConn),
	}
}

// register installs conn as the device's current connection and
// returns the connection it superseded, if any. The caller closes the
// superseded connection outside the lock.
func (r *connRegistry) register(conn *deviceConn) *deviceConn {
	deviceID := conn.identity.DeviceID
	userID := conn.identity.UserID

	r.mu.Lock()
	defer r.mu.Unlock()

	superseded := r.byDevice[deviceID]
	r.byDevice[deviceID] = conn
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*deviceConn)
	}
	r.byUser[userID][deviceID] = conn
	return superseded
}

// deregister removes conn if it is still the device's current
// connection and reports whether it was. A superseded connection's
// deferred cleanup must not remove its replacement.
func (r *connRegistry) deregister(conn *deviceConn) bool {
	deviceID := conn.identity.DeviceID
	userID := conn.identity.UserID

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byDevice[deviceID]
	if !ok || current != conn {
		return false
	}
	delete(r.byDevice, deviceID)
	delete(r.byUser[userID], deviceID)
	if len(r.byUser[userID]) == 0 {
		delete(r.byUser, userID)
	}
	return true
}

// device returns the current connection for a device id.
func (r *connRegistry) device(deviceID string) (*deviceConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byDevice[deviceID]
	return conn, ok
}

// user returns a snapshot of the user's connections. Sends happen on
// the snapshot, outside the registry lock.
func (r *connRegistry) user(userID string) []*deviceConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*deviceConn, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// all returns a snapshot of every connection.
func (r *connRegistry) all() []*deviceConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*deviceConn, 0, len(r.byDevice))
	for _, conn := range r.byDevice {
		conns = append(conns, conn)
	}
	return conns
}

// len reports the number of registered connections.
func (r *connRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

// startKeepalive pings the peer every pingPeriod, sharing the write
// mutex, until cancelled or the first write failure. Liveness is
// enforced by the read side: the pong handler and every inbound frame
// push the read deadline forward.
func startKeepalive(conn *websocket.Conn, mu *sync.Mutex) (cancel func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
