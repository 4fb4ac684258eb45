package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/metrics"
)

func echoHandler(ctx context.Context, env bus.Envelope, sink bus.Sink) (string, error) {
	if sink != nil {
		sink(bus.StreamEvent{Type: "typing"})
		sink(bus.StreamEvent{Type: "token", Content: "echo: "})
		sink(bus.StreamEvent{Type: "token", Content: env.Text})
	}
	return "echo: " + env.Text, nil
}

func newTestServer(t *testing.T, handler bus.Handler) (*Server, *metrics.Store) {
	t.Helper()
	store := metrics.NewStore()
	cfg := config.GatewayConfig{
		MaxMessageChars: 1000,
		MaxConcurrent:   4,
		FloodRatePerSec: 100,
		FloodBurst:      100,
	}
	return NewServer(cfg, "default", "test-model", handler, store, metrics.NewAuditLog(), nil), store
}

func TestChatEndpoint(t *testing.T) {
	s, _ := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Response != "echo: hello" {
		t.Errorf("response = %q", body.Response)
	}
	if body.SessionID != "agent:default:http:u1" {
		t.Errorf("session = %q", body.SessionID)
	}
}

func TestChatHonorsClientSession(t *testing.T) {
	var seen string
	handler := func(ctx context.Context, env bus.Envelope, sink bus.Sink) (string, error) {
		seen = env.SessionID
		return "ok", nil
	}
	s, _ := newTestServer(t, handler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi","sessionId":"agent:default:http:pinned"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID != "agent:default:http:pinned" {
		t.Errorf("sessionId = %q, want the client's", body.SessionID)
	}
	if seen != "agent:default:http:pinned" {
		t.Errorf("envelope session = %q", seen)
	}
}

func TestHealthReportsAgentAndModel(t *testing.T) {
	s, _ := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["agent"] != "default" || body["model"] != "test-model" {
		t.Errorf("health = %+v", body)
	}
}

func TestChatRejectsOversizedMessage(t *testing.T) {
	s, _ := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	big := strings.Repeat("x", 2000)
	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"`+big+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestChatFloodLimit(t *testing.T) {
	store := metrics.NewStore()
	cfg := config.GatewayConfig{
		MaxMessageChars: 1000,
		MaxConcurrent:   4,
		FloodRatePerSec: 1,
		FloodBurst:      1,
	}
	s := NewServer(cfg, "default", "test-model", echoHandler, store, metrics.NewAuditLog(), nil)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	post := func() *http.Response {
		resp, err := http.Post(ts.URL+"/api/chat", "application/json",
			strings.NewReader(`{"user_id":"flood","message":"hi"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post(); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}
	resp := post()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestAuthTokenRequired(t *testing.T) {
	store := metrics.NewStore()
	cfg := config.GatewayConfig{
		AuthToken:       "s3cret",
		MaxMessageChars: 1000,
		MaxConcurrent:   4,
		FloodRatePerSec: 100,
		FloodBurst:      100,
	}
	s := NewServer(cfg, "default", "test-model", echoHandler, store, metrics.NewAuditLog(), nil)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"user_id":"u1","message":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("without token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/chat",
		strings.NewReader(`{"user_id":"u1","message":"hello"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token status = %d, want 200", resp.StatusCode)
	}

	// Health stays reachable without a token.
	resp, err = http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsHealthDegraded(t *testing.T) {
	s, store := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	store.Inc("llm_calls", 100)
	store.Inc("llm_errors", 10)

	resp, err := http.Get(ts.URL + "/api/metrics/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestMetricsHealthHealthyWithNoCalls(t *testing.T) {
	s, store := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	store.ObserveDuration("llm_duration_ms", 120*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/metrics/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["errorRate"] != float64(0) {
		t.Errorf("errorRate = %v, want 0", body["errorRate"])
	}
	latency, ok := body["latency"].(map[string]interface{})
	if !ok || latency["p95_ms"] != float64(120) {
		t.Errorf("latency = %v", body["latency"])
	}
	memory, ok := body["memory"].(map[string]interface{})
	if !ok || memory["alloc_bytes"] == float64(0) {
		t.Errorf("memory = %v", body["memory"])
	}
}

func TestWebSocketChat(t *testing.T) {
	s, _ := newTestServer(t, echoHandler)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(wsInbound{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	var pong wsOutbound
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" {
		t.Fatalf("frame = %+v, want pong", pong)
	}

	if err := conn.WriteJSON(wsInbound{Type: "message", Text: "hi", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	var tokens []string
	for {
		var frame wsOutbound
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}
		switch frame.Type {
		case "typing":
		case "token":
			tokens = append(tokens, frame.Content)
		case "message":
			if frame.Content != "echo: hi" {
				t.Errorf("final = %q", frame.Content)
			}
			if strings.Join(tokens, "") != "echo: hi" {
				t.Errorf("tokens = %q", strings.Join(tokens, ""))
			}
			return
		case "error":
			t.Fatalf("error frame: %s", frame.Content)
		}
	}
}

func TestWebSocketFloodCarriesRetryHint(t *testing.T) {
	store := metrics.NewStore()
	cfg := config.GatewayConfig{
		MaxMessageChars: 1000,
		MaxConcurrent:   4,
		FloodRatePerSec: 1,
		FloodBurst:      1,
	}
	s := NewServer(cfg, "default", "test-model", echoHandler, store, metrics.NewAuditLog(), nil)
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(wsInbound{Type: "message", Text: "hi", UserID: "flood"}); err != nil {
		t.Fatal(err)
	}
	for {
		var frame wsOutbound
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}
		if frame.Type == "message" {
			break
		}
	}

	if err := conn.WriteJSON(wsInbound{Type: "message", Text: "again", UserID: "flood"}); err != nil {
		t.Fatal(err)
	}
	var frame wsOutbound
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "error" {
		t.Fatalf("frame = %+v, want error", frame)
	}
	if frame.RetryAfter < 1 {
		t.Errorf("retry_after = %d, want a positive wait", frame.RetryAfter)
	}
	if !strings.Contains(frame.Content, "retry in") {
		t.Errorf("content = %q", frame.Content)
	}
}
