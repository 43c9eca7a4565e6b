package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// BusinessMetricsRepository reads the aggregated P/L and satisfaction figures
// the reporting pipeline writes. This service never computes them from work
// items.
type BusinessMetricsRepository interface {
	FinancialSummary(ctx context.Context, productID string, from, to time.Time) (*domain.FinancialSummary, error)
	SatisfactionSummary(ctx context.Context, productID string, from, to time.Time) (*domain.SatisfactionSummary, error)
}
