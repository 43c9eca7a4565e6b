package webhook

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

// ThresholdUpdate carries a partial threshold change. Nil fields keep the
// current value.
type ThresholdUpdate struct {
	SuccessRate      *float64 `json:"successRate,omitempty"`
	ProcessingTimeMs *float64 `json:"processingTimeMs,omitempty"`
	ErrorRate        *float64 `json:"errorRate,omitempty"`
	QueueSize        *int     `json:"queueSize,omitempty"`
}

// ThresholdManager holds the live alert thresholds and grades statistics
// against them.
type ThresholdManager struct {
	mu         sync.Mutex
	thresholds domain.AlertThresholds
}

func NewThresholdManager() *ThresholdManager {
	return &ThresholdManager{thresholds: domain.DefaultAlertThresholds()}
}

// Thresholds returns the current configuration.
func (m *ThresholdManager) Thresholds() domain.AlertThresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Apply validates and merges a partial update. Negative values are rejected
// before any field is written, so a bad update leaves the previous
// configuration intact.
func (m *ThresholdManager) Apply(update ThresholdUpdate) (domain.AlertThresholds, error) {
	if update.SuccessRate != nil && (*update.SuccessRate < 0 || *update.SuccessRate > 100) {
		return domain.AlertThresholds{}, fmt.Errorf("%w: successRate must be between 0 and 100", domain.ErrValidation)
	}
	if update.ProcessingTimeMs != nil && *update.ProcessingTimeMs < 0 {
		return domain.AlertThresholds{}, fmt.Errorf("%w: processingTimeMs must not be negative", domain.ErrValidation)
	}
	if update.ErrorRate != nil && (*update.ErrorRate < 0 || *update.ErrorRate > 100) {
		return domain.AlertThresholds{}, fmt.Errorf("%w: errorRate must be between 0 and 100", domain.ErrValidation)
	}
	if update.QueueSize != nil && *update.QueueSize < 0 {
		return domain.AlertThresholds{}, fmt.Errorf("%w: queueSize must not be negative", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if update.SuccessRate != nil {
		m.thresholds.SuccessRate = *update.SuccessRate
	}
	if update.ProcessingTimeMs != nil {
		m.thresholds.ProcessingTimeMs = *update.ProcessingTimeMs
	}
	if update.ErrorRate != nil {
		m.thresholds.ErrorRate = *update.ErrorRate
	}
	if update.QueueSize != nil {
		m.thresholds.QueueSize = *update.QueueSize
	}
	return m.thresholds, nil
}

// Evaluate grades current statistics against the thresholds. Low-is-bad
// dimensions (success rate) go critical ten points under the threshold;
// high-is-bad dimensions go critical at double it. A recorder that has seen
// no events reports healthy rather than alarming on an empty success rate.
func (m *ThresholdManager) Evaluate(stats domain.Statistics, at time.Time) domain.AlertStatus {
	m.mu.Lock()
	t := m.thresholds
	m.mu.Unlock()

	status := domain.AlertStatus{
		Overall:        domain.AlertHealthy,
		SuccessRate:    domain.AlertHealthy,
		ProcessingTime: domain.AlertHealthy,
		ErrorRate:      domain.AlertHealthy,
		QueueSize:      domain.AlertHealthy,
		EvaluatedAt:    at,
	}
	if stats.TotalReceived == 0 {
		return status
	}

	status.SuccessRate = gradeLow(stats.SuccessRate, t.SuccessRate, t.SuccessRate-10)
	status.ProcessingTime = gradeHigh(stats.AverageProcessingTimeMs, t.ProcessingTimeMs, 2*t.ProcessingTimeMs)

	completed := stats.TotalProcessed + stats.TotalFailed
	errorRate := 0.0
	if completed > 0 {
		errorRate = float64(stats.TotalFailed) / float64(completed) * 100
	}
	status.ErrorRate = gradeHigh(errorRate, t.ErrorRate, 2*t.ErrorRate)
	status.QueueSize = gradeHigh(float64(stats.QueueSize), float64(t.QueueSize), float64(2*t.QueueSize))

	status.Overall = worst(status.SuccessRate, status.ProcessingTime, status.ErrorRate, status.QueueSize)
	return status
}

func gradeLow(value, warnBelow, criticalBelow float64) domain.AlertLevel {
	switch {
	case value < criticalBelow:
		return domain.AlertCritical
	case value < warnBelow:
		return domain.AlertWarning
	}
	return domain.AlertHealthy
}

func gradeHigh(value, warnAbove, criticalAbove float64) domain.AlertLevel {
	switch {
	case value > criticalAbove:
		return domain.AlertCritical
	case value > warnAbove:
		return domain.AlertWarning
	}
	return domain.AlertHealthy
}

func worst(levels ...domain.AlertLevel) domain.AlertLevel {
	overall := domain.AlertHealthy
	for _, level := range levels {
		if level.Severity() > overall.Severity() {
			overall = level
		}
	}
	return overall
}
