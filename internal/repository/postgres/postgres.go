package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/pulseboard/internal/domain"
	"github.com/pulseboard/pulseboard/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.BusinessMetricsRepository = (*Repository)(nil)

// FinancialSummary sums revenue and cost rows the reporting ETL maintains for
// a product over a window.
func (r *Repository) FinancialSummary(ctx context.Context, productID string, from, to time.Time) (*domain.FinancialSummary, error) {
	const query = `SELECT COALESCE(SUM(revenue), 0), COALESCE(SUM(cost), 0), COUNT(*)
		FROM financial_metrics
		WHERE product_id = $1 AND period_start >= $2 AND period_end <= $3`
	row := r.pool.QueryRow(ctx, query, productID, from, to)
	var revenue, cost float64
	var rows int
	if err := row.Scan(&revenue, &cost, &rows); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if rows == 0 {
		return nil, repository.ErrNotFound
	}
	return &domain.FinancialSummary{
		ProductID: productID,
		Revenue:   revenue,
		Cost:      cost,
		Profit:    revenue - cost,
		From:      from,
		To:        to,
	}, nil
}

// SatisfactionSummary averages survey scores for a product over a window.
func (r *Repository) SatisfactionSummary(ctx context.Context, productID string, from, to time.Time) (*domain.SatisfactionSummary, error) {
	const query = `SELECT COALESCE(AVG(score), 0), COALESCE(SUM(responses), 0)
		FROM satisfaction_metrics
		WHERE product_id = $1 AND surveyed_at >= $2 AND surveyed_at <= $3`
	row := r.pool.QueryRow(ctx, query, productID, from, to)
	var score float64
	var responses int
	if err := row.Scan(&score, &responses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if responses == 0 {
		return nil, repository.ErrNotFound
	}
	return &domain.SatisfactionSummary{
		ProductID: productID,
		Score:     score,
		Responses: responses,
		From:      from,
		To:        to,
	}, nil
}
