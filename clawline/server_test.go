// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clawline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clawline/clawline/lib/ratelimit"
	"github.com/clawline/clawline/mediastore"
)

// request performs one REST call against the harness. bearer is the
// raw credential part of the Authorization header ("" sends none).
func (h *harness) request(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.web.URL+path, payload)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.web.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp := h.request(t, "GET", "/v1/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestPairEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.request(t, "POST", "/v1/pair", "", map[string]string{
		"userId":     "ada",
		"deviceName": "pixel",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var body struct {
		RequestID string `json:"requestId"`
		Code      string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.RequestID == "" {
		t.Error("requestId is empty")
	}
	if len(body.Code) != 6 {
		t.Errorf("code %q is not six digits", body.Code)
	}
	if h.pairings.Len() != 1 {
		t.Errorf("pending pairings = %d, want 1", h.pairings.Len())
	}
}

func TestPairEndpointValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing user", map[string]string{"deviceName": "pixel"}},
		{"missing device name", map[string]string{"userId": "ada"}},
		{"colon in user", map[string]string{"userId": "ada:l", "deviceName": "pixel"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.request(t, "POST", "/v1/pair", "", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPairEndpointRateLimited(t *testing.T) {
	h := newHarnessWith(t, harnessConfig{pairingLimit: 1})

	body := map[string]string{"userId": "ada", "deviceName": "pixel"}
	if resp := h.request(t, "POST", "/v1/pair", "", body); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first pair status = %d, want 202", resp.StatusCode)
	}
	if resp := h.request(t, "POST", "/v1/pair", "", body); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second pair status = %d, want 429", resp.StatusCode)
	}

	// Other users are unaffected: the limit is per claimed user id.
	other := map[string]string{"userId": "grace", "deviceName": "tablet"}
	if resp := h.request(t, "POST", "/v1/pair", "", other); resp.StatusCode != http.StatusAccepted {
		t.Errorf("other user pair status = %d, want 202", resp.StatusCode)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h := newHarness(t)

	resp := h.request(t, "GET", "/v1/streams", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without credentials = %d, want 401", resp.StatusCode)
	}
	if challenge := resp.Header.Get("WWW-Authenticate"); challenge != `Bearer realm="clawline"` {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}

	// Malformed: no dot separating device id from token.
	resp = h.request(t, "GET", "/v1/streams", "no-dot-here", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with malformed credentials = %d, want 401", resp.StatusCode)
	}
}

func TestBearerAuthAcceptsEnrolledDevice(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")

	resp := h.request(t, "GET", "/v1/streams", deviceID+"."+token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBearerAuthRejectsBadCredentials(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")

	resp := h.request(t, "GET", "/v1/streams", deviceID+".wrong-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", resp.StatusCode)
	}

	resp = h.request(t, "GET", "/v1/streams", "ghost-device."+token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown device status = %d, want 401", resp.StatusCode)
	}
}

func TestBearerAuthRejectsRevokedDevice(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	// Authenticate once so the verifier cache is warm; revocation must
	// evict it.
	if resp := h.request(t, "GET", "/v1/streams", bearer, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-revoke status = %d, want 200", resp.StatusCode)
	}

	if err := h.server.RevokeDevice(t.Context(), deviceID); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}

	if resp := h.request(t, "GET", "/v1/streams", bearer, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("post-revoke status = %d, want 401", resp.StatusCode)
	}
}

func TestBearerAuthRateLimited(t *testing.T) {
	h := newHarnessWith(t, harnessConfig{authLimit: 2})

	for i := 0; i < 2; i++ {
		resp := h.request(t, "GET", "/v1/streams", "dev-x.bad-token", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	resp := h.request(t, "GET", "/v1/streams", "dev-x.bad-token", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("limited attempt status = %d, want 429", resp.StatusCode)
	}
}

func TestBearerAuthCacheSkipsLimiter(t *testing.T) {
	h := newHarnessWith(t, harnessConfig{authLimit: 2})
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	// The first call verifies the hash (one limiter attempt); the rest
	// hit the verifier cache and must never exhaust the limiter.
	for i := 0; i < 10; i++ {
		resp := h.request(t, "GET", "/v1/streams", bearer, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("call %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}
}

func TestStreamEndpoints(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	resp := h.request(t, "POST", "/v1/streams", bearer, map[string]string{"name": " updates "})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created Stream
	decodeBody(t, resp, &created)
	if created.Name != "updates" {
		t.Errorf("created name = %q, want canonical %q", created.Name, "updates")
	}

	resp = h.request(t, "POST", "/v1/streams", bearer, map[string]string{"name": "updates"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	resp = h.request(t, "POST", "/v1/streams", bearer, map[string]string{"name": "up:dates"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", resp.StatusCode)
	}

	resp = h.request(t, "GET", "/v1/streams", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var listed struct {
		Streams []Stream `json:"streams"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Streams) != 1 || listed.Streams[0].Name != "updates" {
		t.Errorf("listed streams = %+v", listed.Streams)
	}

	resp = h.request(t, "DELETE", "/v1/streams/updates", bearer, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp = h.request(t, "DELETE", "/v1/streams/updates", bearer, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSendAction(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	resp := h.request(t, "POST", "/v1/actions/send", bearer, map[string]string{
		"target": "ada:main",
		"text":   "hello from REST",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		MessageID string `json:"messageId"`
		Delivered int    `json:"delivered"`
	}
	decodeBody(t, resp, &result)
	if result.MessageID == "" {
		t.Error("messageId is empty")
	}
	// No WebSocket device is connected; delivery count reflects that
	// without the call failing.
	if result.Delivered != 0 {
		t.Errorf("delivered = %d, want 0", result.Delivered)
	}
}

func TestSendActionScope(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	resp := h.request(t, "POST", "/v1/actions/send", bearer, map[string]string{
		"target": "grace:main",
		"text":   "should not cross users",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-user send status = %d, want 403", resp.StatusCode)
	}

	resp = h.request(t, "POST", "/v1/actions/send", bearer, map[string]string{
		"target": "not:a:target",
		"text":   "x",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed target status = %d, want 400", resp.StatusCode)
	}
}

func TestSendActionChannelUnbound(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	h.outbound.Unbind()

	resp := h.request(t, "POST", "/v1/actions/send", deviceID+"."+token, map[string]string{
		"target": "ada:main",
		"text":   "x",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unbound send status = %d, want 503", resp.StatusCode)
	}
}

func TestSendAttachmentAction(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	blob := []byte("a small png, allegedly")
	resp := h.request(t, "POST", "/v1/actions/sendAttachment", bearer, map[string]string{
		"target":   "ada:main",
		"data":     base64.StdEncoding.EncodeToString(blob),
		"mimeType": "image/png",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sendAttachment status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		MessageID string `json:"messageId"`
		MediaRef  string `json:"mediaRef"`
		Bytes     int64  `json:"bytes"`
		Delivered int    `json:"delivered"`
	}
	decodeBody(t, resp, &result)
	if result.Bytes != int64(len(blob)) {
		t.Errorf("bytes = %d, want %d", result.Bytes, len(blob))
	}

	ref, err := mediastore.ParseRef(result.MediaRef)
	if err != nil {
		t.Fatalf("ParseRef(%q): %v", result.MediaRef, err)
	}
	stored, meta, err := h.media.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(stored, blob) {
		t.Error("stored attachment does not match upload")
	}
	if meta.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", meta.MIMEType)
	}
}

func TestSendAttachmentValidation(t *testing.T) {
	h := newHarness(t)
	deviceID, token := h.enroll(t, "ada", "pixel")
	bearer := deviceID + "." + token

	resp := h.request(t, "POST", "/v1/actions/sendAttachment", bearer, map[string]string{
		"target":   "ada:main",
		"data":     "!!! not base64 !!!",
		"mimeType": "image/png",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad base64 status = %d, want 400", resp.StatusCode)
	}

	resp = h.request(t, "POST", "/v1/actions/sendAttachment", bearer, map[string]string{
		"target":   "ada:main",
		"data":     "",
		"mimeType": "image/png",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty data status = %d, want 400", resp.StatusCode)
	}
}

func TestNewServerValidation(t *testing.T) {
	h := newHarness(t)

	valid := ServerConfig{
		Registry:       h.registry,
		Streams:        h.streams,
		Pairings:       h.pairings,
		Dispatcher:     h.dispatcher,
		Outbound:       h.outbound,
		Media:          h.media,
		PairingLimiter: ratelimit.NewLimiter(1, time.Minute, h.clock),
		AuthLimiter:    ratelimit.NewLimiter(1, time.Minute, h.clock),
		Clock:          h.clock,
		Logger:         h.logger,
	}
	if _, err := NewServer(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing Registry", func(c *ServerConfig) { c.Registry = nil }},
		{"missing Streams", func(c *ServerConfig) { c.Streams = nil }},
		{"missing Pairings", func(c *ServerConfig) { c.Pairings = nil }},
		{"missing Dispatcher", func(c *ServerConfig) { c.Dispatcher = nil }},
		{"missing Outbound", func(c *ServerConfig) { c.Outbound = nil }},
		{"missing Media", func(c *ServerConfig) { c.Media = nil }},
		{"missing PairingLimiter", func(c *ServerConfig) { c.PairingLimiter = nil }},
		{"missing AuthLimiter", func(c *ServerConfig) { c.AuthLimiter = nil }},
		{"missing Clock", func(c *ServerConfig) { c.Clock = nil }},
		{"missing Logger", func(c *ServerConfig) { c.Logger = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.mutate(&config)
			if _, err := NewServer(config); err == nil {
				t.Error("expected config validation error")
			}
		})
	}
}

func TestConnectRefusedBeforeStart(t *testing.T) {
	h := newHarness(t)

	// Build a second server sharing the harness stores but never
	// started: its connect endpoint must refuse upgrades.
	idle, err := NewServer(ServerConfig{
		Registry:       h.registry,
		Streams:        h.streams,
		Pairings:       h.pairings,
		Dispatcher:     h.dispatcher,
		Outbound:       h.outbound,
		Media:          h.media,
		PairingLimiter: ratelimit.NewLimiter(100, time.Minute, h.clock),
		AuthLimiter:    ratelimit.NewLimiter(100, time.Minute, h.clock),
		Clock:          h.clock,
		Logger:         h.logger,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	web := httptest.NewServer(idle.Handler())
	defer web.Close()

	resp, err := http.Get(web.URL + "/v1/connect")
	if err != nil {
		t.Fatalf("GET /v1/connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
