package webhook

import (
	"errors"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestThresholdManagerApplyMergesPartialUpdate(t *testing.T) {
	mgr := NewThresholdManager()
	defaults := domain.DefaultAlertThresholds()
	if got := mgr.Thresholds(); got != defaults {
		t.Fatalf("expected defaults %+v, got %+v", defaults, got)
	}

	updated, err := mgr.Apply(ThresholdUpdate{SuccessRate: floatPtr(90), QueueSize: intPtr(50)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.SuccessRate != 90 || updated.QueueSize != 50 {
		t.Fatalf("expected updated fields, got %+v", updated)
	}
	if updated.ProcessingTimeMs != defaults.ProcessingTimeMs || updated.ErrorRate != defaults.ErrorRate {
		t.Fatalf("expected untouched fields to keep defaults, got %+v", updated)
	}
}

func TestThresholdManagerApplyRejectsInvalidValues(t *testing.T) {
	mgr := NewThresholdManager()
	if _, err := mgr.Apply(ThresholdUpdate{SuccessRate: floatPtr(90)}); err != nil {
		t.Fatalf("seed apply: %v", err)
	}

	cases := []ThresholdUpdate{
		{SuccessRate: floatPtr(-1)},
		{SuccessRate: floatPtr(101)},
		{ProcessingTimeMs: floatPtr(-5)},
		{ErrorRate: floatPtr(150)},
		{QueueSize: intPtr(-1)},
		// one bad field rejects the whole update
		{SuccessRate: floatPtr(80), QueueSize: intPtr(-1)},
	}
	for i, update := range cases {
		if _, err := mgr.Apply(update); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if got := mgr.Thresholds().SuccessRate; got != 90 {
		t.Fatalf("expected rejected updates to leave config intact, got %v", got)
	}
}

func TestThresholdManagerEvaluateIdleIsHealthy(t *testing.T) {
	mgr := NewThresholdManager()
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	status := mgr.Evaluate(domain.Statistics{SuccessRate: 0}, at)
	if status.Overall != domain.AlertHealthy {
		t.Fatalf("expected idle recorder to be healthy, got %+v", status)
	}
	if status.EvaluatedAt != at {
		t.Fatalf("expected evaluation timestamp %v, got %v", at, status.EvaluatedAt)
	}
}

func TestThresholdManagerEvaluateGrades(t *testing.T) {
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		stats   domain.Statistics
		overall domain.AlertLevel
		check   func(t *testing.T, status domain.AlertStatus)
	}{
		{
			name: "healthy",
			stats: domain.Statistics{
				TotalReceived: 100, TotalProcessed: 100,
				SuccessRate: 100, AverageProcessingTimeMs: 120,
			},
			overall: domain.AlertHealthy,
		},
		{
			name: "warning across the board",
			stats: domain.Statistics{
				TotalReceived: 100, TotalProcessed: 90, TotalFailed: 10,
				SuccessRate: 90, AverageProcessingTimeMs: 6000, QueueSize: 150,
			},
			overall: domain.AlertWarning,
			check: func(t *testing.T, status domain.AlertStatus) {
				if status.SuccessRate != domain.AlertWarning {
					t.Fatalf("expected success rate warning, got %v", status.SuccessRate)
				}
				if status.ErrorRate != domain.AlertWarning {
					t.Fatalf("expected error rate warning, got %v", status.ErrorRate)
				}
			},
		},
		{
			name: "critical dominates",
			stats: domain.Statistics{
				TotalReceived: 100, TotalProcessed: 80, TotalFailed: 20,
				SuccessRate: 80, AverageProcessingTimeMs: 12000, QueueSize: 250,
			},
			overall: domain.AlertCritical,
			check: func(t *testing.T, status domain.AlertStatus) {
				if status.SuccessRate != domain.AlertCritical {
					t.Fatalf("expected success rate critical, got %v", status.SuccessRate)
				}
				if status.QueueSize != domain.AlertCritical {
					t.Fatalf("expected queue critical, got %v", status.QueueSize)
				}
			},
		},
		{
			name: "single warning lifts overall",
			stats: domain.Statistics{
				TotalReceived: 100, TotalProcessed: 100,
				SuccessRate: 100, AverageProcessingTimeMs: 5500,
			},
			overall: domain.AlertWarning,
			check: func(t *testing.T, status domain.AlertStatus) {
				if status.ProcessingTime != domain.AlertWarning {
					t.Fatalf("expected processing time warning, got %v", status.ProcessingTime)
				}
				if status.SuccessRate != domain.AlertHealthy {
					t.Fatalf("expected success rate healthy, got %v", status.SuccessRate)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mgr := NewThresholdManager()
			status := mgr.Evaluate(tc.stats, at)
			if status.Overall != tc.overall {
				t.Fatalf("expected overall %v, got %+v", tc.overall, status)
			}
			if tc.check != nil {
				tc.check(t, status)
			}
		})
	}
}
