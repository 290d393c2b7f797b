// Package httpapi serves the simulator's operational HTTP surface: liveness
// and readiness probes, Prometheus-style metrics and an authenticated
// administrative shutdown trigger.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"verdantia/simulator/internal/lludp"
	"verdantia/simulator/internal/logging"
)

// HealthFunc supplies the transport health report backing the probes.
type HealthFunc func() lludp.HealthReport

// ShutdownFunc triggers a graceful simulator shutdown with a reason shown
// to connected viewers.
type ShutdownFunc func(reason string)

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Health      HealthFunc
	Shutdown    ShutdownFunc
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the simulator operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	health      HealthFunc
	shutdown    ShutdownFunc
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		health:      opts.Health,
		shutdown:    opts.Shutdown,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/shutdown", h.ShutdownHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the transport is accepting traffic,
// including circuit counts and uptime.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Circuits      int     `json:"circuits"`
		Authenticated int     `json:"authenticated_circuits"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.health != nil {
			report := h.health()
			resp.UptimeSeconds = report.Metrics["uptime_seconds"]
			resp.Circuits = int(report.Metrics["circuits"])
			resp.Authenticated = int(report.Metrics["authenticated_circuits"])
			if !report.Running {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = report.Message
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics derived from the
// transport health report. Counter-like values keep a _total suffix.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	counters := map[string]bool{
		"packets_received":   true,
		"packets_sent":       true,
		"bytes_received":     true,
		"bytes_sent":         true,
		"connections":        true,
		"errors":             true,
		"heartbeats_sent":    true,
		"reliable_resends":   true,
		"reliable_abandoned": true,
		"login_attempts":     true,
		"successful_logins":  true,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.health == nil {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
			return
		}
		report := h.health()

		//1.- Stable output order keeps scrapes diffable.
		keys := make([]string, 0, len(report.Metrics))
		for key := range report.Metrics {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		running := 0.0
		if report.Running {
			running = 1
		}
		fmt.Fprintf(w, "# TYPE sim_running gauge\n")
		fmt.Fprintf(w, "sim_running %g\n", running)
		for _, key := range keys {
			name := "sim_" + key
			kind := "gauge"
			if counters[key] {
				name += "_total"
				kind = "counter"
			}
			fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
			fmt.Fprintf(w, "%s %g\n", name, report.Metrics[key])
		}
	}
}

// ShutdownHandler authorises and triggers a graceful shutdown. Viewers are
// notified with the supplied reason before the transport stops.
func (h *HandlerSet) ShutdownHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "shutdown"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("shutdown denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("shutdown denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("shutdown denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.shutdown == nil {
			reqLogger.Warn("shutdown denied: no trigger configured")
			http.Error(w, "shutdown is unavailable", http.StatusServiceUnavailable)
			return
		}
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		if reason == "" {
			reason = "simulator shutting down"
		}
		reqLogger.Info("shutdown triggered", logging.String("reason", reason))
		//1.- Run the drain off the request goroutine so the response lands
		//    before the listener goes away.
		go h.shutdown(reason)
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Reason: reason})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
