// Package devops is the REST client for the Azure DevOps work-item APIs. It
// is the live source behind the cache: WIQL queries resolve ids, batched
// reads hydrate fields, and team settings provide sprint windows.
package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulseboard/pulseboard/internal/domain"
)

const (
	apiVersion = "7.0"

	// workitems batch reads accept at most 200 ids per request
	batchSize = 200

	defaultTimeout    = 30 * time.Second
	defaultRatePerSec = 50
	defaultRateBurst  = 10

	wiqlDateLayout = "2006-01-02"
)

// errUnknownScope marks a 404 from Azure DevOps: the project, team or query
// scope does not exist. Callers translate it to an empty result set so a
// dashboard pointed at a nonexistent product renders "no data" instead of an
// error page.
var errUnknownScope = errors.New("unknown project or team")

// Client talks to one Azure DevOps organization.
type Client struct {
	orgURL     string
	team       string
	pat        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
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

// WithRateLimit overrides the client-side request throttle.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// New constructs a client for an organization URL such as
// https://dev.azure.com/acme. team scopes iteration lookups and may be empty
// for the project default team.
func New(orgURL, team, pat string, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(orgURL)
	if trimmed == "" {
		return nil, errors.New("organization url is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid organization url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger != nil {
		logger = logger.With("component", "devops_client")
	}
	cli := &Client{
		orgURL:     strings.TrimRight(trimmed, "/"),
		team:       strings.TrimSpace(team),
		pat:        strings.TrimSpace(pat),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultRateBurst),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// WorkItems returns the field snapshots of every work item changed inside
// [from, to] for a project. An unknown project yields an empty set.
func (c *Client) WorkItems(ctx context.Context, project string, from, to time.Time) ([]domain.WorkItem, error) {
	ids, err := c.queryIDs(ctx, project, from, to)
	if err != nil {
		if errors.Is(err, errUnknownScope) {
			if c.logger != nil {
				c.logger.Warn("work item query hit unknown project, returning empty set", "project", project)
			}
			return []domain.WorkItem{}, nil
		}
		return nil, err
	}

	items := make([]domain.WorkItem, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := c.readBatch(ctx, project, ids[start:end])
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

// Iterations returns the team's sprint windows. An unknown project or team
// yields an empty set.
func (c *Client) Iterations(ctx context.Context, project string) ([]domain.Iteration, error) {
	segments := []string{url.PathEscape(project)}
	if c.team != "" {
		segments = append(segments, url.PathEscape(c.team))
	}
	endpoint := fmt.Sprintf("%s/%s/_apis/work/teamsettings/iterations?%s",
		c.orgURL, strings.Join(segments, "/"), url.Values{"api-version": {apiVersion}}.Encode())

	var payload struct {
		Value []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Path       string `json:"path"`
			Attributes struct {
				StartDate  string `json:"startDate"`
				FinishDate string `json:"finishDate"`
				TimeFrame  string `json:"timeFrame"`
			} `json:"attributes"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		if errors.Is(err, errUnknownScope) {
			if c.logger != nil {
				c.logger.Warn("iteration lookup hit unknown project or team, returning empty set", "project", project, "team", c.team)
			}
			return []domain.Iteration{}, nil
		}
		return nil, err
	}

	iterations := make([]domain.Iteration, 0, len(payload.Value))
	for _, raw := range payload.Value {
		iterations = append(iterations, domain.Iteration{
			ID:        raw.ID,
			Name:      raw.Name,
			Path:      raw.Path,
			StartDate: parseAzureTime(raw.Attributes.StartDate),
			EndDate:   parseAzureTime(raw.Attributes.FinishDate),
			TimeFrame: raw.Attributes.TimeFrame,
		})
	}
	return iterations, nil
}

// queryIDs runs the WIQL date-range query and returns matching work item ids.
func (c *Client) queryIDs(ctx context.Context, project string, from, to time.Time) ([]int, error) {
	endpoint := fmt.Sprintf("%s/%s/_apis/wit/wiql?%s",
		c.orgURL, url.PathEscape(project), url.Values{"api-version": {apiVersion}}.Encode())
	query := fmt.Sprintf(
		"Select [System.Id] From WorkItems Where [System.TeamProject] = @project And [System.ChangedDate] >= '%s' And [System.ChangedDate] <= '%s' Order By [System.ChangedDate] Desc",
		from.UTC().Format(wiqlDateLayout), to.UTC().Format(wiqlDateLayout))

	var payload struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"query": query}, &payload); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(payload.WorkItems))
	for _, ref := range payload.WorkItems {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

var workItemFields = []string{
	domain.FieldTitle,
	domain.FieldState,
	domain.FieldWorkItemType,
	domain.FieldIterationPath,
	domain.FieldAreaPath,
	domain.FieldCreatedDate,
	domain.FieldChangedDate,
	domain.FieldAssignedTo,
	domain.FieldTags,
	domain.FieldStoryPoints,
	domain.FieldRemainingWork,
	domain.FieldClosedDate,
}

// readBatch hydrates up to batchSize work items in one request.
func (c *Client) readBatch(ctx context.Context, project string, ids []int) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idParam := make([]string, len(ids))
	for i, id := range ids {
		idParam[i] = strconv.Itoa(id)
	}
	params := url.Values{
		"api-version": {apiVersion},
		"ids":         {strings.Join(idParam, ",")},
		"fields":      {strings.Join(workItemFields, ",")},
		"errorPolicy": {"omit"},
	}
	endpoint := fmt.Sprintf("%s/%s/_apis/wit/workitems?%s", c.orgURL, url.PathEscape(project), params.Encode())

	var payload struct {
		Value []struct {
			ID     int            `json:"id"`
			Rev    int            `json:"rev"`
			Fields map[string]any `json:"fields"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}

	items := make([]domain.WorkItem, 0, len(payload.Value))
	for _, raw := range payload.Value {
		items = append(items, mapWorkItem(raw.ID, raw.Fields))
	}
	return items, nil
}

func mapWorkItem(id int, fields map[string]any) domain.WorkItem {
	item := domain.WorkItem{
		ID:            id,
		Type:          fieldString(fields, domain.FieldWorkItemType),
		State:         fieldString(fields, domain.FieldState),
		Title:         fieldString(fields, domain.FieldTitle),
		StoryPoints:   fieldFloat(fields, domain.FieldStoryPoints),
		RemainingWork: fieldFloat(fields, domain.FieldRemainingWork),
		IterationPath: fieldString(fields, domain.FieldIterationPath),
		AreaPath:      fieldString(fields, domain.FieldAreaPath),
		AssignedTo:    identityName(fields[domain.FieldAssignedTo]),
		Tags:          splitTags(fieldString(fields, domain.FieldTags)),
		CreatedDate:   parseAzureTime(fieldString(fields, domain.FieldCreatedDate)),
		ChangedDate:   parseAzureTime(fieldString(fields, domain.FieldChangedDate)),
	}
	if closed := parseAzureTime(fieldString(fields, domain.FieldClosedDate)); !closed.IsZero() {
		item.ClosedDate = &closed
	}
	return item
}

// do performs one throttled request against the Azure DevOps REST API.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

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
	if c.pat != "" {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.pat)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c.logger != nil {
			c.logger.Error("azure devops rejected credentials", "status", resp.StatusCode, "endpoint", endpoint)
		}
		return fmt.Errorf("%w: status %d, check PAT scopes", domain.ErrUpstream, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return errUnknownScope
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, extractMessage(resp.Body))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
	}
	return nil
}

func extractMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}

func fieldString(fields map[string]any, name string) string {
	value, _ := fields[name].(string)
	return value
}

func fieldFloat(fields map[string]any, name string) float64 {
	value, _ := fields[name].(float64)
	return value
}

// identityName extracts a display name from an Azure identity field, which
// arrives either as a plain string or an identity object.
func identityName(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["displayName"].(string); ok && name != "" {
			return name
		}
		if name, ok := v["uniqueName"].(string); ok {
			return name
		}
	}
	return ""
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// parseAzureTime parses the timestamp shapes Azure DevOps emits. Iteration
// attributes omit the timezone suffix; work-item fields carry RFC3339.
func parseAzureTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
