package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

const dateLayout = "2006-01-02"

type kpisPayload struct {
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

type velocityPointPayload struct {
	Sprint    string  `json:"sprint"`
	Points    float64 `json:"points"`
	Completed int     `json:"completed"`
}

type burndownPointPayload struct {
	Date      string  `json:"date"`
	Planned   float64 `json:"planned"`
	Remaining float64 `json:"remaining"`
}

type distributionPayload struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type chartsPayload struct {
	Velocity     []velocityPointPayload `json:"velocity"`
	Burndown     []burndownPointPayload `json:"burndown"`
	Distribution []distributionPayload  `json:"distribution"`
}

type overviewMetadataPayload struct {
	Period      string `json:"period"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	ProductID   string `json:"productId,omitempty"`
	SprintID    string `json:"sprintId,omitempty"`
	Source      string `json:"source"`
	ItemCount   int    `json:"itemCount"`
	GeneratedAt string `json:"generatedAt"`
}

type overviewPayload struct {
	KPIs     kpisPayload             `json:"kpis"`
	Charts   chartsPayload           `json:"charts"`
	Metadata overviewMetadataPayload `json:"metadata"`
}

// parseOverviewFilters validates the dashboard query parameters, collecting
// every problem so the client gets one complete answer.
func parseOverviewFilters(req *http.Request) (domain.OverviewFilters, []string) {
	query := req.URL.Query()
	var details []string

	filters := domain.OverviewFilters{
		Period:    domain.PeriodSprint,
		ProductID: strings.TrimSpace(query.Get("productId")),
		SprintID:  strings.TrimSpace(query.Get("sprintId")),
	}
	if raw := strings.TrimSpace(query.Get("period")); raw != "" {
		period, ok := domain.ParsePeriod(raw)
		if !ok {
			details = append(details, "period must be one of sprint, month, quarter, year")
		} else {
			filters.Period = period
		}
	}
	if raw := strings.TrimSpace(query.Get("startDate")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			details = append(details, "startDate must be an ISO 8601 date (YYYY-MM-DD)")
		} else {
			start := parsed.UTC()
			filters.StartDate = &start
		}
	}
	if raw := strings.TrimSpace(query.Get("endDate")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			details = append(details, "endDate must be an ISO 8601 date (YYYY-MM-DD)")
		} else {
			end := parsed.UTC()
			filters.EndDate = &end
		}
	}
	if filters.StartDate != nil && filters.EndDate != nil && filters.EndDate.Before(*filters.StartDate) {
		details = append(details, "endDate must not be before startDate")
	}
	return filters, details
}

func (r *Router) handleOverview(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	filters, details := parseOverviewFilters(req)
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}
	overview, err := r.metrics.Overview(req.Context(), filters)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeData(w, http.StatusOK, marshalOverview(overview))
}

func (r *Router) handleKPIs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	filters, details := parseOverviewFilters(req)
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}
	kpis, err := r.metrics.KPIs(req.Context(), filters)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeData(w, http.StatusOK, marshalKPIs(kpis))
}

func (r *Router) handleBurndown(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	filters, details := parseOverviewFilters(req)
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}
	burndown, err := r.metrics.Burndown(req.Context(), filters)
	if err != nil {
		r.serviceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"burndown": marshalBurndown(burndown)})
}

func marshalOverview(overview domain.Overview) overviewPayload {
	meta := overview.Metadata
	return overviewPayload{
		KPIs: marshalKPIs(overview.KPIs),
		Charts: chartsPayload{
			Velocity:     marshalVelocity(overview.Charts.Velocity),
			Burndown:     marshalBurndown(overview.Charts.Burndown),
			Distribution: marshalDistribution(overview.Charts.Distribution),
		},
		Metadata: overviewMetadataPayload{
			Period:      string(meta.Period),
			StartDate:   meta.StartDate.Format(time.RFC3339),
			EndDate:     meta.EndDate.Format(time.RFC3339),
			ProductID:   meta.ProductID,
			SprintID:    meta.SprintID,
			Source:      meta.Source,
			ItemCount:   meta.ItemCount,
			GeneratedAt: meta.GeneratedAt.Format(time.RFC3339Nano),
		},
	}
}

func marshalKPIs(kpis domain.KPISet) kpisPayload {
	return kpisPayload{
		Velocity:        kpis.Velocity,
		CompletedPoints: kpis.CompletedPoints,
		TotalPoints:     kpis.TotalPoints,
		CompletionRate:  kpis.CompletionRate,
		BugCount:        kpis.BugCount,
		ProfitLoss:      kpis.ProfitLoss,
		Revenue:         kpis.Revenue,
		Cost:            kpis.Cost,
		Satisfaction:    kpis.Satisfaction,
		Responses:       kpis.Responses,
	}
}

func marshalVelocity(points []domain.VelocityPoint) []velocityPointPayload {
	payload := make([]velocityPointPayload, 0, len(points))
	for _, point := range points {
		payload = append(payload, velocityPointPayload{
			Sprint:    point.Sprint,
			Points:    point.Points,
			Completed: point.Completed,
		})
	}
	return payload
}

func marshalBurndown(points []domain.BurndownPoint) []burndownPointPayload {
	payload := make([]burndownPointPayload, 0, len(points))
	for _, point := range points {
		payload = append(payload, burndownPointPayload{
			Date:      point.Date.Format(dateLayout),
			Planned:   point.Planned,
			Remaining: point.Remaining,
		})
	}
	return payload
}

func marshalDistribution(slices []domain.DistributionSlice) []distributionPayload {
	payload := make([]distributionPayload, 0, len(slices))
	for _, slice := range slices {
		payload = append(payload, distributionPayload{Type: slice.Type, Count: slice.Count})
	}
	return payload
}
