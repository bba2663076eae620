// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/ratelimit"
	"github.com/clawline/clawline/lib/target"
	"github.com/clawline/clawline/mediastore"
	"github.com/clawline/clawline/transfer"
	"github.com/clawline/clawline/wire"
)

// Request body limits. The attachment limit covers the base64 payload,
// which inflates the raw size by a third.
const (
	maxJSONBody       = 1 << 20  // 1 MiB
	maxAttachmentBody = 32 << 20 // 32 MiB
)

// ServerConfig wires a Server. Transfers is optional (nil disables the
// direct-transfer path); everything else is required.
type ServerConfig struct {
	Registry   *Registry
	Streams    *Streams
	Pairings   *Pairings
	Dispatcher *gateway.Dispatcher
	Outbound   *gateway.Outbound
	Media      *mediastore.Store
	Transfers  *transfer.Answerer

	// PairingLimiter gates enrollment requests per claimed user id;
	// AuthLimiter gates credential verification per device id.
	PairingLimiter *ratelimit.Limiter
	AuthLimiter    *ratelimit.Limiter

	Clock  clock.Clock
	Logger *slog.Logger

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty (or a single "*") allows all; requests without an Origin
	// header — native device clients — always pass.
	AllowedOrigins []string

	// ServerName is the banner sent in the hello frame. Defaults to
	// "clawline".
	ServerName string
}

// Server is the device channel: WebSocket endpoint, REST surface, and
// the gateway plugin glue. Construct with NewServer, mount Handler on
// an HTTP server, and drive the lifecycle through Start/Stop.
type Server struct {
	registry       *Registry
	streams        *Streams
	pairings       *Pairings
	dispatcher     *gateway.Dispatcher
	outbound       *gateway.Outbound
	media          *mediastore.Store
	transfers      *transfer.Answerer
	pairingLimiter *ratelimit.Limiter
	authLimiter    *ratelimit.Limiter
	clock          clock.Clock
	logger         *slog.Logger
	serverName     string

	upgrader websocket.Upgrader
	conns    *connRegistry
	auths    *verifierCache

	mu       sync.Mutex
	runCtx   context.Context
	stopping bool
	handlers sync.WaitGroup
}

// NewServer validates config and constructs a Server.
func NewServer(config ServerConfig) (*Server, error) {
	switch {
	case config.Registry == nil:
		return nil, fmt.Errorf("clawline: Registry is required")
	case config.Streams == nil:
		return nil, fmt.Errorf("clawline: Streams is required")
	case config.Pairings == nil:
		return nil, fmt.Errorf("clawline: Pairings is required")
	case config.Dispatcher == nil:
		return nil, fmt.Errorf("clawline: Dispatcher is required")
	case config.Outbound == nil:
		return nil, fmt.Errorf("clawline: Outbound is required")
	case config.Media == nil:
		return nil, fmt.Errorf("clawline: Media is required")
	case config.PairingLimiter == nil:
		return nil, fmt.Errorf("clawline: PairingLimiter is required")
	case config.AuthLimiter == nil:
		return nil, fmt.Errorf("clawline: AuthLimiter is required")
	case config.Clock == nil:
		return nil, fmt.Errorf("clawline: Clock is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("clawline: Logger is required")
	}

	serverName := config.ServerName
	if serverName == "" {
		serverName = target.ChannelName
	}

	upgrader := makeUpgrader(config.AllowedOrigins)
	upgrader.Subprotocols = wire.Subprotocols()

	return &Server{
		registry:       config.Registry,
		streams:        config.Streams,
		pairings:       config.Pairings,
		dispatcher:     config.Dispatcher,
		outbound:       config.Outbound,
		media:          config.Media,
		transfers:      config.Transfers,
		pairingLimiter: config.PairingLimiter,
		authLimiter:    config.AuthLimiter,
		clock:          config.Clock,
		logger:         config.Logger,
		serverName:     serverName,
		upgrader:       upgrader,
		conns:          newConnRegistry(),
		auths:          newVerifierCache(),
	}, nil
}

// makeUpgrader builds the WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
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

// Handler returns the channel's HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/pair", s.handlePair)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.Handle("GET /v1/streams", s.withDevice(s.handleStreamList))
	mux.Handle("POST /v1/streams", s.withDevice(s.handleStreamCreate))
	mux.Handle("DELETE /v1/streams/{name}", s.withDevice(s.handleStreamDelete))
	mux.Handle("POST /v1/actions/send", s.withDevice(s.handleSend))
	mux.Handle("POST /v1/actions/sendAttachment", s.withDevice(s.handleSendAttachment))
	return mux
}

// authenticate verifies device credentials: verifier cache first, then
// the rate-limited argon2id path against the registry. Unknown device,
// revoked device, and wrong token all fail identically.
func (s *Server) authenticate(ctx context.Context, deviceID, token string) (Identity, error) {
	if deviceID == "" || token == "" {
		return Identity{}, &AuthFailedError{}
	}
	if identity, ok := s.auths.check(deviceID, token); ok {
		return identity, nil
	}

	if !s.authLimiter.Attempt(deviceID) {
		return Identity{}, &AuthRateLimitedError{DeviceID: deviceID}
	}

	devices, err := s.registry.Load(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("loading device registry: %w", err)
	}
	device, ok := devices[deviceID]
	if !ok || device.Revoked || !device.Token.Verify(token) {
		return Identity{}, &AuthFailedError{}
	}

	identity := Identity{DeviceID: device.ID, UserID: device.UserID, DeviceName: device.Name}
	s.auths.put(deviceID, token, identity)
	return identity, nil
}

// AuthenticateBearer verifies a combined {deviceId}.{token} credential.
// Sibling channels (Helm) reuse clawline enrollment for their own
// endpoints through this entry point.
func (s *Server) AuthenticateBearer(ctx context.Context, credential string) (Identity, error) {
	deviceID, token, found := strings.Cut(credential, ".")
	if !found || deviceID == "" || token == "" {
		return Identity{}, &AuthFailedError{}
	}
	return s.authenticate(ctx, deviceID, token)
}

// deviceHandler is a REST handler running behind device authentication.
type deviceHandler func(w http.ResponseWriter, r *http.Request, identity Identity)

// withDevice enforces bearer device credentials. The header form is
//
//	Authorization: Bearer {deviceId}.{token}
//
// The device id rides along because tokens are stored only as argon2id
// hashes and cannot be looked up by value.
func (s *Server) withDevice(next deviceHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID, token, ok := parseBearer(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clawline"`)
			http.Error(w, "missing or malformed bearer credentials", http.StatusUnauthorized)
			return
		}

		identity, err := s.authenticate(r.Context(), deviceID, token)
		if err != nil {
			if IsAuthRateLimited(err) {
				http.Error(w, "too many authentication attempts", http.StatusTooManyRequests)
				return
			}
			s.logger.Warn("request authentication failed",
				"device", deviceID,
				"path", r.URL.Path,
				"error", err)
			http.Error(w, "invalid device credentials", http.StatusUnauthorized)
			return
		}

		next(w, r, identity)
	})
}

// parseBearer splits "Bearer {deviceId}.{token}". Both halves are
// non-empty on success; the device id is a UUID and the token is
// base64url, so "." cannot appear inside either.
func parseBearer(header string) (deviceID, token string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	credentials := strings.TrimSpace(header[len(prefix):])
	deviceID, token, found := strings.Cut(credentials, ".")
	if !found || deviceID == "" || token == "" {
		return "", "", false
	}
	return deviceID, token, true
}

// --- REST handlers ---

type pairRequestBody struct {
	UserID     string `json:"userId"`
	DeviceName string `json:"deviceName"`
}

type pairPendingBody struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
}

// handlePair accepts an enrollment request and queues it for operator
// review. The response carries the request id and the confirmation
// code the device must display; credentials arrive out of band after
// approval.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var body pairRequestBody
	if err := decodeJSON(w, r, maxJSONBody, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.pairingLimiter.Attempt(strings.TrimSpace(body.UserID)) {
		http.Error(w, "too many pairing requests", http.StatusTooManyRequests)
		return
	}

	pending, err := s.pairings.Begin(body.UserID, body.DeviceName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("pairing requested",
		"request", pending.RequestID,
		"user", pending.UserID,
		"device_name", pending.DeviceName,
		"remote", r.RemoteAddr)

	writeJSON(w, http.StatusAccepted, pairPendingBody{
		RequestID: pending.RequestID,
		Code:      pending.Code,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type streamListBody struct {
	Streams []Stream `json:"streams"`
}

func (s *Server) handleStreamList(w http.ResponseWriter, r *http.Request, identity Identity) {
	writeJSON(w, http.StatusOK, streamListBody{Streams: s.streams.List(identity.UserID)})
}

type streamCreateBody struct {
	Name string `json:"name"`
}

func (s *Server) handleStreamCreate(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body streamCreateBody
	if err := decodeJSON(w, r, maxJSONBody, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := s.streams.Create(r.Context(), identity.UserID, body.Name)
	switch {
	case IsStreamExists(err):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case target.IsInvalidTarget(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("stream create failed", "user", identity.UserID, "error", err)
		http.Error(w, "stream registry write failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("stream created", "user", identity.UserID, "stream", stream.Name, "device", identity.DeviceID)
	writeJSON(w, http.StatusCreated, stream)
}

func (s *Server) handleStreamDelete(w http.ResponseWriter, r *http.Request, identity Identity) {
	name := r.PathValue("name")

	err := s.streams.Delete(r.Context(), identity.UserID, name)
	switch {
	case IsStreamNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("stream delete failed", "user", identity.UserID, "stream", name, "error", err)
		http.Error(w, "stream registry write failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("stream deleted", "user", identity.UserID, "stream", name, "device", identity.DeviceID)
	w.WriteHeader(http.StatusNoContent)
}

type sendRequestBody struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

type sendResultBody struct {
	MessageID string `json:"messageId"`
	Delivered int    `json:"delivered"`
}

// handleSend delivers text to every connected device of the target.
// Devices may only act within their own user: cross-user targets are
// rejected.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body sendRequestBody
	if err := decodeJSON(w, r, maxJSONBody, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	to, err := target.Parse(body.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.UserID() != identity.UserID {
		http.Error(w, "target outside device scope", http.StatusForbidden)
		return
	}

	result, err := s.outbound.Send(r.Context(), gateway.SendRequest{Target: to, Text: body.Text})
	if err != nil {
		if gateway.IsOutboundUnavailable(err) {
			http.Error(w, "channel not running", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("send action failed", "target", to.String(), "error", err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sendResultBody{MessageID: result.MessageID, Delivered: result.Delivered})
}

type sendAttachmentBody struct {
	Target   string `json:"target"`
	Data     string `json:"data"` // base64
	MIMEType string `json:"mimeType"`
}

type attachmentResultBody struct {
	MessageID string `json:"messageId"`
	MediaRef  string `json:"mediaRef"`
	Bytes     int64  `json:"bytes"`
	Delivered int    `json:"delivered"`
}

// handleSendAttachment stores the payload in the media store and
// delivers the reference under the hard attachment deadline. The
// response summarizes the delivery; it never echoes the payload.
func (s *Server) handleSendAttachment(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body sendAttachmentBody
	if err := decodeJSON(w, r, maxAttachmentBody, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	to, err := target.Parse(body.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.UserID() != identity.UserID {
		http.Error(w, "target outside device scope", http.StatusForbidden)
		return
	}

	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		http.Error(w, "data is not valid base64", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "data is empty", http.StatusBadRequest)
		return
	}

	put, err := s.media.Put(data, body.MIMEType)
	if err != nil {
		s.logger.Error("attachment store failed", "target", to.String(), "error", err)
		http.Error(w, "storing attachment failed", http.StatusInternalServerError)
		return
	}

	result, err := s.dispatcher.SendAttachment(r.Context(), to, put.Ref.String(), body.MIMEType)
	if err != nil {
		if gateway.IsDeliveryTimeout(err) {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		if gateway.IsOutboundUnavailable(err) {
			http.Error(w, "channel not running", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("attachment delivery failed", "target", to.String(), "ref", put.Ref.Short(), "error", err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, attachmentResultBody{
		MessageID: result.MessageID,
		MediaRef:  put.Ref.String(),
		Bytes:     put.Size,
		Delivered: result.Delivered,
	})
}

// decodeJSON decodes a size-limited JSON request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, body any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// touchLastSeen records a device authentication time; failures are
// logged, never surfaced — last-seen is advisory.
func (s *Server) touchLastSeen(ctx context.Context, deviceID string) {
	if err := s.registry.TouchLastSeen(ctx, deviceID, s.clock.Now()); err != nil {
		s.logger.Warn("recording device last-seen failed", "device", deviceID, "error", err)
	}
}

// runContext returns the processing context captured at Start, used
// for work that must outlive a single connection. Nil before Start.
func (s *Server) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// beginHandler registers a connection handler with the lifecycle,
// refusing when the channel is not running.
func (s *Server) beginHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil || s.stopping {
		return false
	}
	s.handlers.Add(1)
	return true
}
