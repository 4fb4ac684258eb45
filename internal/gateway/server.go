// Package gateway serves the HTTP and WebSocket chat surfaces plus
// the operational endpoints (health, metrics).
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/metrics"
	"github.com/dinh2350/lunar-sub002/internal/transcript"
)

var errFlooded = errors.New("rate limited")

// degradedErrorRate is the llm error ratio at which the health
// endpoint reports degraded.
const degradedErrorRate = 0.05

// Server is the gateway front door.
type Server struct {
	cfg      config.GatewayConfig
	agentID  string
	model    string
	handler  bus.Handler
	metrics  *metrics.Store
	audit    *metrics.AuditLog
	pressure *backpressure
	logger   *slog.Logger

	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, agentID, model string, handler bus.Handler, store *metrics.Store, audit *metrics.AuditLog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		agentID:  agentID,
		model:    model,
		handler:  handler,
		metrics:  store,
		audit:    audit,
		pressure: newBackpressure(cfg.MaxConcurrent, cfg.FloodRatePerSec, cfg.FloodBurst),
		logger:   logger,
	}
}

// Mux builds the route table. Health stays open; everything else goes
// through the token check.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("GET /ws/chat", s.withAuth(s.handleWebSocket))
	mux.HandleFunc("GET /api/metrics", s.withAuth(s.handleMetrics))
	mux.HandleFunc("GET /api/metrics/health", s.withAuth(s.handleMetricsHealth))
	mux.HandleFunc("GET /api/audit", s.withAuth(s.handleAudit))
	return mux
}

// withAuth enforces the bearer token when one is configured. WebSocket
// clients that can't set headers may pass ?token= instead.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"agent":  s.agentID,
		"model":  s.model,
		"uptime": s.metrics.Uptime().Round(time.Second).String(),
	})
}

type chatRequest struct {
	Message     string           `json:"message"`
	SessionID   string           `json:"sessionId,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Attachments []bus.Attachment `json:"attachments,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if s.cfg.MaxMessageChars > 0 && len(req.Message) > s.cfg.MaxMessageChars {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("message exceeds %d characters", s.cfg.MaxMessageChars))
		return
	}

	release, retryAfter, err := s.pressure.acquire(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, errFlooded) {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			s.metrics.Inc("gateway_flood_rejected", 1)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "server busy")
		return
	}
	defer release()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = transcript.Resolve("http", req.UserID, s.agentID)
	}
	env := bus.Envelope{
		Provider:    "http",
		PeerID:      req.UserID,
		Text:        req.Message,
		ChatType:    bus.ChatDirect,
		Ts:          time.Now(),
		Attachments: req.Attachments,
		SessionID:   sessionID,
	}
	s.metrics.Inc("gateway_requests", 1)

	reply, err := s.handler(r.Context(), env, nil)
	if err != nil {
		s.logger.Error("gateway.chat_failed", "user", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "agent failed to respond")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  reply,
		SessionID: sessionID,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// handleMetricsHealth reports degraded when the model error ratio
// crosses the threshold.
func (s *Server) handleMetricsHealth(w http.ResponseWriter, r *http.Request) {
	calls := s.metrics.Counter("llm_calls")
	errs := s.metrics.Counter("llm_errors")
	denom := calls
	if denom < 1 {
		denom = 1
	}
	ratio := float64(errs) / float64(denom)

	status := "healthy"
	if ratio >= degradedErrorRate {
		status = "degraded"
	}

	latency := s.metrics.Histogram("llm_duration_ms")
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"latency": map[string]interface{}{
			"p50_ms": latency.P50,
			"p95_ms": latency.P95,
			"avg_ms": latency.Avg,
		},
		"errorRate": ratio,
		"uptime":    s.metrics.Uptime().Round(time.Second).String(),
		"memory": map[string]interface{}{
			"alloc_bytes": ms.Alloc,
			"sys_bytes":   ms.Sys,
			"num_gc":      ms.NumGC,
		},
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.audit.Recent(n))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
