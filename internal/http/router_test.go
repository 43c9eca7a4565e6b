package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/domain"
	metricsvc "github.com/pulseboard/pulseboard/internal/service/metrics"
	"github.com/pulseboard/pulseboard/internal/service/webhook"
	"github.com/pulseboard/pulseboard/internal/ws"
)

const (
	testWebhookSecret = "hook-secret"
	testAdminToken    = "admin-secret"
)

type captureInvalidator struct {
	mu       sync.Mutex
	patterns []string
	removed  int
	err      error
}

func (c *captureInvalidator) Invalidate(_ context.Context, keyOrPattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.patterns = append(c.patterns, keyOrPattern)
	return c.removed, nil
}

func (c *captureInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.patterns)
}

type workItemSourceStub struct {
	mu         sync.Mutex
	items      []domain.WorkItem
	iterations []domain.Iteration
	err        error
}

func (s *workItemSourceStub) WorkItems(_ context.Context, _ string, _, _ time.Time) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.WorkItem(nil), s.items...), nil
}

func (s *workItemSourceStub) Iterations(_ context.Context, _ string) ([]domain.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Iteration(nil), s.iterations...), nil
}

type stubLimiter struct {
	mu      sync.Mutex
	checks  []string
	checkFn func(tier Tier, identifier string) Decision
}

func (s *stubLimiter) Check(tier Tier, identifier string) Decision {
	s.mu.Lock()
	s.checks = append(s.checks, string(tier)+"|"+identifier)
	fn := s.checkFn
	s.mu.Unlock()
	if fn != nil {
		return fn(tier, identifier)
	}
	return Decision{Allowed: true, Remaining: 99, RetryAfter: time.Minute}
}

func (s *stubLimiter) Close() {}

func (s *stubLimiter) checkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checks)
}

type serviceFixture struct {
	processor   *webhook.Processor
	metrics     *metricsvc.Service
	hub         *ws.Hub
	invalidator *captureInvalidator
	source      *workItemSourceStub
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := testLogger()
	invalidator := &captureInvalidator{removed: 1}
	dedup := webhook.NewMemoryDedupStore()
	t.Cleanup(dedup.Close)
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	processor := webhook.NewProcessor(webhook.NewSignatureVerifier(testWebhookSecret), dedup, invalidator, hub, logger, time.Hour, time.Hour, "Phoenix")

	source := &workItemSourceStub{}
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	metrics := metricsvc.NewService(source, store, nil, logger, cache.DefaultTTLs(), "Phoenix", 6)

	return &serviceFixture{
		processor:   processor,
		metrics:     metrics,
		hub:         hub,
		invalidator: invalidator,
		source:      source,
	}
}

func newTestRouter(t *testing.T, limiter RateLimiter) (*Router, *serviceFixture) {
	t.Helper()
	fx := newServiceFixture(t)
	router := NewRouter(testLogger(), fx.processor, fx.metrics, fx.hub, limiter, testAdminToken, "test", 50*time.Millisecond, nil, nil)
	t.Cleanup(router.Close)
	return router, fx
}

func deliveryBody(t *testing.T, eventType string, notificationID int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"subscriptionId": "29edd236-e212-4a4d-9d54-8465e2f5d80b",
		"notificationId": notificationID,
		"eventType":      eventType,
		"publisherId":    "tfs",
		"resource": map[string]any{
			"id":         42,
			"workItemId": 42,
			"fields": map[string]any{
				"System.Title":       "Fix login crash",
				"System.State":       "Active",
				"System.TeamProject": "Phoenix",
				"System.ChangedDate": "2026-03-01T10:00:00Z",
			},
		},
		"createdDate": "2026-03-01T10:00:01Z",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func postWebhook(t *testing.T, router *Router, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/azure/workitems", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func signFor(t *testing.T, body []byte) string {
	t.Helper()
	return webhook.NewSignatureVerifier(testWebhookSecret).Sign(body)
}

func TestWebhookDeliveryEndToEnd(t *testing.T) {
	router, fx := newTestRouter(t, nil)
	body := deliveryBody(t, "workitem.updated", 11)

	rr := postWebhook(t, router, body, signFor(t, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	receipt := decodeBody(t, rr)
	if receipt["success"] != true {
		t.Fatalf("expected success receipt, got %v", receipt)
	}
	if receipt["eventType"] != "workitem.updated" {
		t.Fatalf("unexpected eventType: %v", receipt["eventType"])
	}
	if id, ok := receipt["eventId"].(string); !ok || id == "" {
		t.Fatalf("expected an event id, got %v", receipt["eventId"])
	}
	if _, dup := receipt["duplicate"]; dup {
		t.Fatalf("fresh delivery must not be flagged duplicate: %v", receipt)
	}

	// Same notification again: accepted but side effects must not repeat.
	rr = postWebhook(t, router, body, signFor(t, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate, got %d", rr.Code)
	}
	receipt = decodeBody(t, rr)
	if receipt["duplicate"] != true {
		t.Fatalf("expected duplicate flag, got %v", receipt)
	}
	if got := fx.invalidator.count(); got != 1 {
		t.Fatalf("expected exactly one invalidation, got %d", got)
	}

	stats := fx.processor.Statistics()
	if stats.TotalReceived != 2 || stats.TotalProcessed != 1 || stats.TotalDuplicates != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router, fx := newTestRouter(t, nil)
	body := deliveryBody(t, "workitem.updated", 12)

	rr := postWebhook(t, router, body, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rr.Code)
	}
	envelope := decodeBody(t, rr)
	if envelope["code"] != "AUTHENTICATION_ERROR" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}
	if envelope["success"] != false {
		t.Fatalf("expected failure envelope, got %v", envelope)
	}

	tampered := deliveryBody(t, "workitem.deleted", 12)
	rr = postWebhook(t, router, tampered, signFor(t, body))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rr.Code)
	}
	if got := fx.invalidator.count(); got != 0 {
		t.Fatalf("rejected deliveries must not invalidate, got %d", got)
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	truncated := []byte(`{"eventType": "workitem.updated"`)
	rr := postWebhook(t, router, truncated, signFor(t, truncated))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for truncated JSON, got %d", rr.Code)
	}
	if envelope := decodeBody(t, rr); envelope["code"] != "PARSE_ERROR" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}

	unknown := deliveryBody(t, "workitem.escalated", 13)
	rr = postWebhook(t, router, unknown, signFor(t, unknown))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event type, got %d", rr.Code)
	}
	if envelope := decodeBody(t, rr); envelope["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}
}

func TestWebhookStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body := deliveryBody(t, "workitem.created", 14)
	postWebhook(t, router, body, signFor(t, body))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	envelope := decodeBody(t, rr)
	if envelope["success"] != true {
		t.Fatalf("expected success envelope, got %v", envelope)
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", envelope["data"])
	}
	if data["signatureValidation"] != "enabled" {
		t.Fatalf("expected signature validation enabled, got %v", data["signatureValidation"])
	}
	stats, ok := data["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("expected statistics object, got %v", data["statistics"])
	}
	if received, ok := stats["totalReceived"].(float64); !ok || received != 1 {
		t.Fatalf("unexpected totalReceived: %v", stats["totalReceived"])
	}
}

func TestWebhookMetricsTimeframeValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/metrics?timeframe=90m", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	envelope := decodeBody(t, rr)
	if envelope["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}
	details, ok := envelope["details"].([]any)
	if !ok || len(details) != 1 {
		t.Fatalf("expected one validation detail, got %v", envelope["details"])
	}
	if !strings.Contains(details[0].(string), "timeframe") {
		t.Fatalf("detail should name the bad parameter: %v", details[0])
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/azure/metrics?timeframe=24h", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid timeframe, got %d", rr.Code)
	}
}

func TestAlertConfigurationLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/alerts", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decodeBody(t, rr)["data"].(map[string]any)
	if data["overall"] != "healthy" {
		t.Fatalf("idle service should be healthy, got %v", data["overall"])
	}

	// No token.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/azure/alerts/configure", strings.NewReader(`{"successRate": 90}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rr.Code)
	}
	if envelope := decodeBody(t, rr); envelope["code"] != "AUTHENTICATION_ERROR" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/azure/alerts/configure", strings.NewReader(`{"successRate": 90}`))
	req.Header.Set("X-Admin-Token", "not-the-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}

	// Valid update.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/azure/alerts/configure", strings.NewReader(`{"successRate": 90, "queueSize": 250}`))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	thresholds := decodeBody(t, rr)["data"].(map[string]any)
	if thresholds["successRate"].(float64) != 90 {
		t.Fatalf("unexpected successRate: %v", thresholds["successRate"])
	}
	if thresholds["queueSize"].(float64) != 250 {
		t.Fatalf("unexpected queueSize: %v", thresholds["queueSize"])
	}
	if thresholds["errorRate"].(float64) != 5 {
		t.Fatalf("untouched threshold changed: %v", thresholds["errorRate"])
	}

	// Out-of-range value.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/azure/alerts/configure", strings.NewReader(`{"errorRate": 150}`))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid threshold, got %d", rr.Code)
	}
}

func TestAdminQueueAndStatisticsReset(t *testing.T) {
	router, fx := newTestRouter(t, nil)
	body := deliveryBody(t, "workitem.updated", 21)
	postWebhook(t, router, body, signFor(t, body))

	req := httptest.NewRequest(http.MethodDelete, "/webhooks/azure/queue", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decodeBody(t, rr)["data"].(map[string]any)
	if data["cleared"].(float64) != 0 {
		t.Fatalf("no events should be queued, got %v", data["cleared"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/webhooks/azure/stats", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	stats := fx.processor.Statistics()
	if stats.TotalReceived != 0 || stats.TotalProcessed != 0 {
		t.Fatalf("statistics should be zeroed, got %+v", stats)
	}
}

func TestAuthTierRateLimitBoundary(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/webhooks/azure/queue", nil)
		req.Header.Set("X-Admin-Token", testAdminToken)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	var fifth *httptest.ResponseRecorder
	for i := 1; i <= 5; i++ {
		rr := send()
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d should be allowed, got %d", i, rr.Code)
		}
		fifth = rr
	}
	if got := fifth.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("fifth request should exhaust the window, remaining %q", got)
	}

	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth request should be denied, got %d", rr.Code)
	}
	retryHeader, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retryHeader < 1 {
		t.Fatalf("expected positive Retry-After header, got %q", rr.Header().Get("Retry-After"))
	}
	envelope := decodeBody(t, rr)
	if envelope["code"] != "RATE_LIMITED" {
		t.Fatalf("unexpected error code: %v", envelope["code"])
	}
	if retry, ok := envelope["retryAfter"].(float64); !ok || retry < 1 {
		t.Fatalf("expected retryAfter in body, got %v", envelope["retryAfter"])
	}
}

func TestRateLimitBypassesHealthAndFavicon(t *testing.T) {
	limiter := &stubLimiter{}
	router, _ := newTestRouter(t, limiter)

	for _, path := range []string{"/healthz", "/favicon.ico"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code >= http.StatusBadRequest {
			t.Fatalf("%s should succeed, got %d", path, rr.Code)
		}
	}
	if got := limiter.checkCount(); got != 0 {
		t.Fatalf("bypass paths must not consult the limiter, got %d checks", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := limiter.checkCount(); got != 1 {
		t.Fatalf("routed paths must consult the limiter, got %d checks", got)
	}
}

func TestDeniedRequestCarriesRetryHints(t *testing.T) {
	limiter := &stubLimiter{
		checkFn: func(Tier, string) Decision {
			return Decision{Allowed: false, RetryAfter: 90 * time.Second}
		},
	}
	router, _ := newTestRouter(t, limiter)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "90" {
		t.Fatalf("unexpected Retry-After header: %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatalf("expected reset header on denied request")
	}
	envelope := decodeBody(t, rr)
	if envelope["retryAfter"].(float64) != 90 {
		t.Fatalf("unexpected retryAfter: %v", envelope["retryAfter"])
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	fx := newServiceFixture(t)
	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("connection refused") }
	router := NewRouter(testLogger(), fx.processor, fx.metrics, fx.hub, nil, testAdminToken, "test", time.Second, healthy, failing)
	t.Cleanup(router.Close)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a component is down, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected status: %v", payload["status"])
	}
	components := payload["components"].(map[string]any)
	if components["database"].(map[string]any)["status"] != "up" {
		t.Fatalf("database should be up: %v", components["database"])
	}
	if components["cache"].(map[string]any)["status"] != "down" {
		t.Fatalf("cache should be down: %v", components["cache"])
	}
}

func TestHealthzWithoutProbes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeBody(t, rr); payload["status"] != "ok" {
		t.Fatalf("unexpected status: %v", payload["status"])
	}
}

func TestFaviconReturnsNoContent(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/azure/workitems", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
