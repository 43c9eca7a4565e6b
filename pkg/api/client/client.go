// Package client provides typed access to the pulseboard API for interactive
// tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one pulseboard deployment.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8080"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Details    []string
	RetryAfter int
}

func (e APIError) Error() string {
	switch {
	case e.Message == "" && e.Code == "":
		return fmt.Sprintf("api request failed with status %d", e.Status)
	case e.Code == "":
		return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
}

// envelope mirrors the API response wrapper. Success payloads arrive under
// data; failures carry error, code and optional details.
type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Details    []string        `json:"details"`
	RetryAfter int             `json:"retryAfter"`
}

// do performs one request. A non-empty token is sent as the X-Admin-Token
// header; v, when non-nil, receives the envelope's data payload.
func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("X-Admin-Token", strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := APIError{Status: resp.StatusCode}
		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Error
			apiErr.Details = env.Details
			apiErr.RetryAfter = env.RetryAfter
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if v == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response carried no data payload")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode data payload: %w", err)
	}
	return nil
}

// Statistics reflects the lifetime webhook counters.
type Statistics struct {
	TotalReceived           int64            `json:"totalReceived"`
	TotalProcessed          int64            `json:"totalProcessed"`
	TotalFailed             int64            `json:"totalFailed"`
	TotalDuplicates         int64            `json:"totalDuplicates"`
	ByEventType             map[string]int64 `json:"byEventType"`
	SuccessRate             float64          `json:"successRate"`
	AverageProcessingTimeMs float64          `json:"averageProcessingTimeMs"`
	QueueSize               int              `json:"queueSize"`
}

// ServiceStatus is the webhook receiver status report.
type ServiceStatus struct {
	Service             string     `json:"service"`
	SignatureValidation string     `json:"signatureValidation"`
	UptimeSeconds       int64      `json:"uptimeSeconds"`
	Statistics          Statistics `json:"statistics"`
}

// Status returns the webhook receiver status and lifetime statistics.
func (c *Client) Status(ctx context.Context) (ServiceStatus, error) {
	var status ServiceStatus
	if err := c.do(ctx, http.MethodGet, "/webhooks/azure/status", nil, "", &status); err != nil {
		return ServiceStatus{}, err
	}
	return status, nil
}

// DetailedMetrics reflects windowed webhook throughput figures.
type DetailedMetrics struct {
	Timeframe               string           `json:"timeframe"`
	WindowStart             time.Time        `json:"windowStart"`
	WindowEnd               time.Time        `json:"windowEnd"`
	Received                int64            `json:"received"`
	Processed               int64            `json:"processed"`
	Failed                  int64            `json:"failed"`
	Duplicates              int64            `json:"duplicates"`
	ByEventType             map[string]int64 `json:"byEventType"`
	SuccessRate             float64          `json:"successRate"`
	AverageProcessingTimeMs float64          `json:"averageProcessingTimeMs"`
	MaxProcessingTimeMs     float64          `json:"maxProcessingTimeMs"`
}

// Metrics returns throughput metrics for a timeframe (1h, 6h, 24h or 7d).
func (c *Client) Metrics(ctx context.Context, timeframe string) (DetailedMetrics, error) {
	path := "/webhooks/azure/metrics"
	if tf := strings.TrimSpace(timeframe); tf != "" {
		path += "?timeframe=" + url.QueryEscape(tf)
	}
	var metrics DetailedMetrics
	if err := c.do(ctx, http.MethodGet, path, nil, "", &metrics); err != nil {
		return DetailedMetrics{}, err
	}
	return metrics, nil
}

// Thresholds reflects the configured alert boundaries.
type Thresholds struct {
	SuccessRate      float64 `json:"successRate"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	ErrorRate        float64 `json:"errorRate"`
	QueueSize        int     `json:"queueSize"`
}

// ThresholdUpdate carries a partial threshold change; nil fields stay as they
// are.
type ThresholdUpdate struct {
	SuccessRate      *float64 `json:"successRate,omitempty"`
	ProcessingTimeMs *float64 `json:"processingTimeMs,omitempty"`
	ErrorRate        *float64 `json:"errorRate,omitempty"`
	QueueSize        *int     `json:"queueSize,omitempty"`
}

// AlertReport grades the pipeline health per metric.
type AlertReport struct {
	Overall     string            `json:"overall"`
	Metrics     map[string]string `json:"metrics"`
	Thresholds  Thresholds        `json:"thresholds"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
}

// Alerts returns the current alert evaluation.
func (c *Client) Alerts(ctx context.Context) (AlertReport, error) {
	var report AlertReport
	if err := c.do(ctx, http.MethodGet, "/webhooks/azure/alerts", nil, "", &report); err != nil {
		return AlertReport{}, err
	}
	return report, nil
}

// ConfigureAlerts applies a partial threshold update and returns the full set
// now in effect. Requires the admin token.
func (c *Client) ConfigureAlerts(ctx context.Context, token string, update ThresholdUpdate) (Thresholds, error) {
	var thresholds Thresholds
	if err := c.do(ctx, http.MethodPost, "/webhooks/azure/alerts/configure", update, token, &thresholds); err != nil {
		return Thresholds{}, err
	}
	return thresholds, nil
}

// ClearQueue drops pending webhook work and reports how many entries were
// removed. Requires the admin token.
func (c *Client) ClearQueue(ctx context.Context, token string) (int, error) {
	var result struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodDelete, "/webhooks/azure/queue", nil, token, &result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

// ResetStatistics zeroes the lifetime webhook counters. Requires the admin
// token.
func (c *Client) ResetStatistics(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/azure/stats", nil, token, nil)
}

// KPIs reflects the dashboard headline numbers.
type KPIs struct {
	Velocity        float64 `json:"velocity"`
	CompletedPoints float64 `json:"completedPoints"`
	TotalPoints     float64 `json:"totalPoints"`
	CompletionRate  float64 `json:"completionRate"`
	BugCount        int     `json:"bugCount"`
	ProfitLoss      float64 `json:"profitLoss"`
	Revenue         float64 `json:"revenue"`
	Cost            float64 `json:"cost"`
	Satisfaction    float64 `json:"satisfaction"`
	Responses       int     `json:"responses"`
}

// VelocityPoint is one sprint's completed story points and item count.
type VelocityPoint struct {
	Sprint    string  `json:"sprint"`
	Points    float64 `json:"points"`
	Completed int     `json:"completed"`
}

// BurndownPoint is one day of the active sprint's burndown.
type BurndownPoint struct {
	Date      string  `json:"date"`
	Planned   float64 `json:"planned"`
	Remaining float64 `json:"remaining"`
}

// DistributionSlice counts work items of one type.
type DistributionSlice struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Charts bundles the overview chart series.
type Charts struct {
	Velocity     []VelocityPoint     `json:"velocity"`
	Burndown     []BurndownPoint     `json:"burndown"`
	Distribution []DistributionSlice `json:"distribution"`
}

// OverviewMetadata describes how an overview was computed.
type OverviewMetadata struct {
	Period      string    `json:"period"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	ProductID   string    `json:"productId"`
	SprintID    string    `json:"sprintId"`
	Source      string    `json:"source"`
	ItemCount   int       `json:"itemCount"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Overview is the full dashboard payload.
type Overview struct {
	KPIs     KPIs             `json:"kpis"`
	Charts   Charts           `json:"charts"`
	Metadata OverviewMetadata `json:"metadata"`
}

// OverviewFilters select the range an overview covers. Dates use YYYY-MM-DD.
type OverviewFilters struct {
	Period    string
	ProductID string
	SprintID  string
	StartDate string
	EndDate   string
}

func (f OverviewFilters) query() string {
	values := url.Values{}
	if v := strings.TrimSpace(f.Period); v != "" {
		values.Set("period", v)
	}
	if v := strings.TrimSpace(f.ProductID); v != "" {
		values.Set("productId", v)
	}
	if v := strings.TrimSpace(f.SprintID); v != "" {
		values.Set("sprintId", v)
	}
	if v := strings.TrimSpace(f.StartDate); v != "" {
		values.Set("startDate", v)
	}
	if v := strings.TrimSpace(f.EndDate); v != "" {
		values.Set("endDate", v)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// Overview computes the dashboard overview for the filter set.
func (c *Client) Overview(ctx context.Context, filters OverviewFilters) (Overview, error) {
	var overview Overview
	if err := c.do(ctx, http.MethodGet, "/api/metrics/overview"+filters.query(), nil, "", &overview); err != nil {
		return Overview{}, err
	}
	return overview, nil
}

// KPIs returns just the headline numbers for the filter set.
func (c *Client) KPIs(ctx context.Context, filters OverviewFilters) (KPIs, error) {
	var kpis KPIs
	if err := c.do(ctx, http.MethodGet, "/api/metrics/kpis"+filters.query(), nil, "", &kpis); err != nil {
		return KPIs{}, err
	}
	return kpis, nil
}

// Burndown returns the burndown series for the filter set.
func (c *Client) Burndown(ctx context.Context, filters OverviewFilters) ([]BurndownPoint, error) {
	var result struct {
		Burndown []BurndownPoint `json:"burndown"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/metrics/burndown"+filters.query(), nil, "", &result); err != nil {
		return nil, err
	}
	return result.Burndown, nil
}

// HealthComponent is one dependency's probe result.
type HealthComponent struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// HealthReport is the aggregate health check answer.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]HealthComponent `json:"components"`
}

// Health probes the service. The health endpoint answers flat and keeps its
// body on a 503, so it bypasses the envelope path.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	if c == nil {
		return HealthReport{}, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthReport{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthReport{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return HealthReport{}, fmt.Errorf("decode response: %w", err)
	}
	return report, nil
}
