package domain

import "time"

// Statistics accumulates process-lifetime webhook counters. Reset only by
// explicit admin action.
type Statistics struct {
	TotalReceived           int64
	TotalProcessed          int64
	TotalFailed             int64
	TotalDuplicates         int64
	ByEventType             map[EventType]int64
	SuccessRate             float64
	AverageProcessingTimeMs float64
	QueueSize               int
}

// DetailedMetrics reports rolling figures over a requested window rather than
// lifetime totals.
type DetailedMetrics struct {
	Timeframe               string
	WindowStart             time.Time
	WindowEnd               time.Time
	Received                int64
	Processed               int64
	Failed                  int64
	Duplicates              int64
	ByEventType             map[EventType]int64
	SuccessRate             float64
	AverageProcessingTimeMs float64
	MaxProcessingTimeMs     float64
}

// AlertThresholds is mutable operator configuration compared against live
// statistics.
type AlertThresholds struct {
	SuccessRate      float64
	ProcessingTimeMs float64
	ErrorRate        float64
	QueueSize        int
}

// DefaultAlertThresholds returns the shipped threshold values.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		SuccessRate:      95,
		ProcessingTimeMs: 5000,
		ErrorRate:        5,
		QueueSize:        100,
	}
}

// AlertLevel grades a single alert metric.
type AlertLevel string

const (
	AlertHealthy  AlertLevel = "healthy"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Severity orders alert levels for worst-of comparisons.
func (l AlertLevel) Severity() int {
	switch l {
	case AlertCritical:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}

// AlertStatus is derived from Statistics and AlertThresholds on demand; it is
// never stored.
type AlertStatus struct {
	Overall        AlertLevel
	SuccessRate    AlertLevel
	ProcessingTime AlertLevel
	ErrorRate      AlertLevel
	QueueSize      AlertLevel
	EvaluatedAt    time.Time
}
