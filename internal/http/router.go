package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulseboard/pulseboard/internal/domain"
	metricsvc "github.com/pulseboard/pulseboard/internal/service/metrics"
	"github.com/pulseboard/pulseboard/internal/service/webhook"
	"github.com/pulseboard/pulseboard/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	env          string
	processor    *webhook.Processor
	metrics      *metricsvc.Service
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	adminToken   string
	sseHeartbeat time.Duration
	dbHealth     func(context.Context) error
	cacheHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	healthCheckTimeout  = 2 * time.Second
	defaultSSEHeartbeat = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, processor *webhook.Processor, metrics *metricsvc.Service, hub *ws.Hub, limiter RateLimiter, adminToken, env string, sseHeartbeat time.Duration, dbHealth, cacheHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		env:       strings.TrimSpace(env),
		processor: processor,
		metrics:   metrics,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		adminToken:   strings.TrimSpace(adminToken),
		sseHeartbeat: sseHeartbeat,
		dbHealth:     dbHealth,
		cacheHealth:  cacheHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.sseHeartbeat <= 0 {
		r.sseHeartbeat = defaultSSEHeartbeat
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.initMetrics()
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/favicon.ico", r.handleFavicon)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/webhooks/azure/workitems", r.audit(r.withRateLimit(TierWebhooks, rateLimitKeyIP, r.handleWebhookReceive)))
	r.mux.HandleFunc("/webhooks/azure/status", r.audit(r.withRateLimit(TierGeneral, rateLimitKeyIP, r.handleWebhookStatus)))
	r.mux.HandleFunc("/webhooks/azure/metrics", r.audit(r.withRateLimit(TierGeneral, rateLimitKeyIP, r.handleWebhookMetrics)))
	r.mux.HandleFunc("/webhooks/azure/alerts", r.audit(r.withRateLimit(TierGeneral, rateLimitKeyIP, r.handleWebhookAlerts)))
	r.mux.HandleFunc("/webhooks/azure/alerts/configure", r.audit(r.withRateLimit(TierAuth, rateLimitKeyAuth, r.requireAdmin(r.handleConfigureAlerts))))
	r.mux.HandleFunc("/webhooks/azure/queue", r.audit(r.withRateLimit(TierAuth, rateLimitKeyAuth, r.requireAdmin(r.handleClearQueue))))
	r.mux.HandleFunc("/webhooks/azure/stats", r.audit(r.withRateLimit(TierAuth, rateLimitKeyAuth, r.requireAdmin(r.handleResetStatistics))))
	r.mux.HandleFunc("/api/metrics/overview", r.audit(r.withRateLimit(TierAPI, rateLimitKeyIP, r.handleOverview)))
	r.mux.HandleFunc("/api/metrics/kpis", r.audit(r.withRateLimit(TierAPI, rateLimitKeyIP, r.handleKPIs)))
	r.mux.HandleFunc("/api/metrics/burndown", r.audit(r.withRateLimit(TierAPI, rateLimitKeyIP, r.handleBurndown)))
	r.mux.HandleFunc("/ws/updates", r.audit(r.withRateLimit(TierGeneral, rateLimitKeyIP, r.handleUpdatesWS)))
	r.mux.HandleFunc("/stream/updates", r.audit(r.withRateLimit(TierGeneral, rateLimitKeyIP, r.handleUpdatesSSE)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	check := func(name string, probe func(context.Context) error) {
		if probe == nil {
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := probe(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	check("database", r.dbHealth)
	check("cache", r.cacheHealth)
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleFavicon(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// requireAdmin guards mutating operator endpoints behind the shared admin
// token.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		expected := r.adminToken
		if expected == "" {
			r.logger.Error("admin token not configured", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, nil, "admin authentication misconfigured")
			return
		}
		token := strings.TrimSpace(req.Header.Get("X-Admin-Token"))
		if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			r.logger.Warn("admin token mismatch", "path", req.URL.Path, "ip", clientIP(req))
			writeError(w, http.StatusUnauthorized, domain.ErrAuthentication, "invalid admin token")
			return
		}
		next(w, req)
	}
}

// serviceError maps service-layer failures onto the error envelope. Internal
// detail is suppressed outside development environments.
func (r *Router) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, domain.ErrUpstream, "upstream request timed out")
	case errors.Is(err, domain.ErrUpstream):
		writeError(w, http.StatusBadGateway, domain.ErrUpstream, "upstream source failed")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, domain.ErrValidation, err.Error())
	default:
		msg := "internal server error"
		if r.env != "production" && err != nil {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, nil, msg)
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, domain.ErrValidation, "method not allowed")
}
