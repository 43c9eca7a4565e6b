package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
	"github.com/pulseboard/pulseboard/internal/service/webhook"
)

type webhookReceipt struct {
	Success          bool    `json:"success"`
	EventType        string  `json:"eventType"`
	EventID          string  `json:"eventId"`
	Duplicate        bool    `json:"duplicate,omitempty"`
	ProcessingTimeMs float64 `json:"processingTime"`
	Timestamp        string  `json:"timestamp"`
}

type statisticsPayload struct {
	TotalReceived           int64                      `json:"totalReceived"`
	TotalProcessed          int64                      `json:"totalProcessed"`
	TotalFailed             int64                      `json:"totalFailed"`
	TotalDuplicates         int64                      `json:"totalDuplicates"`
	ByEventType             map[domain.EventType]int64 `json:"byEventType"`
	SuccessRate             float64                    `json:"successRate"`
	AverageProcessingTimeMs float64                    `json:"averageProcessingTimeMs"`
	QueueSize               int                        `json:"queueSize"`
}

type detailedMetricsPayload struct {
	Timeframe               string                     `json:"timeframe"`
	WindowStart             string                     `json:"windowStart"`
	WindowEnd               string                     `json:"windowEnd"`
	Received                int64                      `json:"received"`
	Processed               int64                      `json:"processed"`
	Failed                  int64                      `json:"failed"`
	Duplicates              int64                      `json:"duplicates"`
	ByEventType             map[domain.EventType]int64 `json:"byEventType"`
	SuccessRate             float64                    `json:"successRate"`
	AverageProcessingTimeMs float64                    `json:"averageProcessingTimeMs"`
	MaxProcessingTimeMs     float64                    `json:"maxProcessingTimeMs"`
}

type thresholdsPayload struct {
	SuccessRate      float64 `json:"successRate"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	ErrorRate        float64 `json:"errorRate"`
	QueueSize        int     `json:"queueSize"`
}

type alertsPayload struct {
	Overall     string            `json:"overall"`
	Metrics     map[string]string `json:"metrics"`
	Thresholds  thresholdsPayload `json:"thresholds"`
	EvaluatedAt string            `json:"evaluatedAt"`
}

func (r *Router) handleWebhookReceive(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrParse, "could not read body")
		return
	}
	signature := req.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = req.Header.Get("X-Hub-Signature")
	}

	result, err := r.processor.Process(req.Context(), body, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAuthentication):
			writeError(w, http.StatusUnauthorized, domain.ErrAuthentication, err.Error())
		case errors.Is(err, domain.ErrParse):
			writeError(w, http.StatusBadRequest, domain.ErrParse, err.Error())
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, domain.ErrValidation, err.Error())
		default:
			r.serviceError(w, err)
		}
		return
	}
	if !result.Success {
		msg := "event processing failed"
		if r.env != "production" && result.Error != "" {
			msg = result.Error
		}
		writeError(w, http.StatusInternalServerError, nil, msg)
		return
	}
	writeJSON(w, http.StatusOK, webhookReceipt{
		Success:          true,
		EventType:        string(result.EventType),
		EventID:          result.EventID,
		Duplicate:        result.Duplicate,
		ProcessingTimeMs: float64(result.ProcessingTime.Microseconds()) / 1000,
		Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleWebhookStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	validation := "disabled"
	if r.processor.SignatureEnabled() {
		validation = "enabled"
	}
	writeData(w, http.StatusOK, map[string]any{
		"service":             "pulseboard",
		"signatureValidation": validation,
		"uptimeSeconds":       int64(r.processor.Uptime().Seconds()),
		"statistics":          marshalStatistics(r.processor.Statistics()),
	})
}

func (r *Router) handleWebhookMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	timeframe := strings.TrimSpace(req.URL.Query().Get("timeframe"))
	metrics, err := r.processor.DetailedMetrics(timeframe)
	if err != nil {
		writeValidation(w, []string{"timeframe must be one of 1h, 6h, 24h, 7d"})
		return
	}
	writeData(w, http.StatusOK, detailedMetricsPayload{
		Timeframe:               metrics.Timeframe,
		WindowStart:             metrics.WindowStart.Format(time.RFC3339Nano),
		WindowEnd:               metrics.WindowEnd.Format(time.RFC3339Nano),
		Received:                metrics.Received,
		Processed:               metrics.Processed,
		Failed:                  metrics.Failed,
		Duplicates:              metrics.Duplicates,
		ByEventType:             metrics.ByEventType,
		SuccessRate:             metrics.SuccessRate,
		AverageProcessingTimeMs: metrics.AverageProcessingTimeMs,
		MaxProcessingTimeMs:     metrics.MaxProcessingTimeMs,
	})
}

func (r *Router) handleWebhookAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := r.processor.AlertStatus()
	writeData(w, http.StatusOK, alertsPayload{
		Overall: string(status.Overall),
		Metrics: map[string]string{
			"successRate":    string(status.SuccessRate),
			"processingTime": string(status.ProcessingTime),
			"errorRate":      string(status.ErrorRate),
			"queueSize":      string(status.QueueSize),
		},
		Thresholds:  marshalThresholds(r.processor.Thresholds()),
		EvaluatedAt: status.EvaluatedAt.Format(time.RFC3339Nano),
	})
}

func (r *Router) handleConfigureAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var update webhook.ThresholdUpdate
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrParse, "invalid JSON body")
		return
	}
	thresholds, err := r.processor.ConfigureThresholds(update)
	if err != nil {
		writeValidation(w, []string{err.Error()})
		return
	}
	writeData(w, http.StatusOK, marshalThresholds(thresholds))
}

func (r *Router) handleClearQueue(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	cleared := r.processor.ClearQueue()
	r.logger.Info("webhook queue cleared", "entries", cleared)
	writeData(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (r *Router) handleResetStatistics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	r.processor.ResetStatistics()
	r.logger.Info("webhook statistics reset")
	writeData(w, http.StatusOK, map[string]string{"status": "reset"})
}

func marshalStatistics(stats domain.Statistics) statisticsPayload {
	return statisticsPayload{
		TotalReceived:           stats.TotalReceived,
		TotalProcessed:          stats.TotalProcessed,
		TotalFailed:             stats.TotalFailed,
		TotalDuplicates:         stats.TotalDuplicates,
		ByEventType:             stats.ByEventType,
		SuccessRate:             stats.SuccessRate,
		AverageProcessingTimeMs: stats.AverageProcessingTimeMs,
		QueueSize:               stats.QueueSize,
	}
}

func marshalThresholds(thresholds domain.AlertThresholds) thresholdsPayload {
	return thresholdsPayload{
		SuccessRate:      thresholds.SuccessRate,
		ProcessingTimeMs: thresholds.ProcessingTimeMs,
		ErrorRate:        thresholds.ErrorRate,
		QueueSize:        thresholds.QueueSize,
	}
}
