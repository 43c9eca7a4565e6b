// Package metrics computes dashboard overviews from Azure DevOps work items.
// Every number is derived on demand from cached or freshly fetched snapshots;
// nothing here is a store of record.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/domain"
	"github.com/pulseboard/pulseboard/internal/repository"
)

// WorkItemSource provides work items and sprint windows, normally the Azure
// DevOps REST client.
type WorkItemSource interface {
	WorkItems(ctx context.Context, project string, from, to time.Time) ([]domain.WorkItem, error)
	Iterations(ctx context.Context, project string) ([]domain.Iteration, error)
}

const (
	sourceCache = "cache"
	sourceLive  = "live"

	defaultVelocitySprints = 6
)

// Service computes overview metrics. It is stateless between requests; the
// cache layer is the only shared state.
type Service struct {
	source   WorkItemSource
	store    cache.Store
	business repository.BusinessMetricsRepository
	ttls     cache.TTLs
	logger   *slog.Logger
	project  string
	sprints  int
	group    singleflight.Group
	now      func() time.Time
}

// NewService wires the aggregator. store and business may be nil; the
// service then always fetches live and reports zero financial KPIs.
func NewService(source WorkItemSource, store cache.Store, business repository.BusinessMetricsRepository, logger *slog.Logger, ttls cache.TTLs, defaultProject string, velocitySprints int) *Service {
	if velocitySprints <= 0 {
		velocitySprints = defaultVelocitySprints
	}
	if logger != nil {
		logger = logger.With("component", "metrics_aggregator")
	}
	return &Service{
		source:   source,
		store:    store,
		business: business,
		ttls:     ttls,
		logger:   logger,
		project:  defaultProject,
		sprints:  velocitySprints,
		now:      time.Now,
	}
}

// Overview computes KPIs, chart series and metadata for a filter set. An
// empty work-item range yields zero KPIs and empty non-nil chart slices.
func (s *Service) Overview(ctx context.Context, filters domain.OverviewFilters) (domain.Overview, error) {
	now := s.now()
	project := filters.ProductID
	if project == "" {
		project = s.project
	}

	iterations := s.iterations(ctx, project)
	from, to := resolveRange(filters, iterations, now)

	items, source, err := s.workItems(ctx, project, from, to)
	if err != nil {
		return domain.Overview{}, err
	}

	trend := velocityTrend(items, iterations, s.sprints, from, to)
	scoped, sprint := scopeToSprint(items, iterations, filters.SprintID, now)

	kpis := computeKPIs(scoped, trend)
	s.attachBusinessKPIs(ctx, &kpis, filters.ProductID, from, to)

	return domain.Overview{
		KPIs: kpis,
		Charts: domain.ChartSet{
			Velocity:     trend,
			Burndown:     burndownSeries(scoped, sprint),
			Distribution: typeDistribution(scoped),
		},
		Metadata: domain.OverviewMetadata{
			Period:      filters.Period,
			StartDate:   from,
			EndDate:     to,
			ProductID:   filters.ProductID,
			SprintID:    filters.SprintID,
			Source:      source,
			ItemCount:   len(scoped),
			GeneratedAt: now,
		},
	}, nil
}

// KPIs computes just the headline numbers for a filter set.
func (s *Service) KPIs(ctx context.Context, filters domain.OverviewFilters) (domain.KPISet, error) {
	overview, err := s.Overview(ctx, filters)
	if err != nil {
		return domain.KPISet{}, err
	}
	return overview.KPIs, nil
}

// Burndown computes just the burndown series for a filter set.
func (s *Service) Burndown(ctx context.Context, filters domain.OverviewFilters) ([]domain.BurndownPoint, error) {
	overview, err := s.Overview(ctx, filters)
	if err != nil {
		return nil, err
	}
	return overview.Charts.Burndown, nil
}

// workItems loads the work-item snapshot for a window, cache first. Misses
// collapse into one upstream fetch per key; the flight runs detached from the
// caller's context so one disconnecting client cannot cancel a fetch other
// callers are waiting on.
func (s *Service) workItems(ctx context.Context, project string, from, to time.Time) ([]domain.WorkItem, string, error) {
	key := cache.Key(cache.TierWorkItems, project, "range", from.Format(dateLayout), to.Format(dateLayout))
	if s.store != nil {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		if ok {
			var items []domain.WorkItem
			if err := json.Unmarshal(raw, &items); err == nil {
				return items, sourceCache, nil
			}
			// unreadable entry: drop it and fetch live
			if _, err := s.store.Invalidate(ctx, key); err != nil && s.logger != nil {
				s.logger.Warn("failed to drop unreadable cache entry", "key", key, "error", err)
			}
		}
	}

	value, err, _ := s.group.Do(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		items, err := s.source.WorkItems(fetchCtx, project, from, to)
		if err != nil {
			return nil, err
		}
		if s.store != nil {
			if raw, err := json.Marshal(items); err == nil {
				if err := s.store.Set(fetchCtx, key, raw, s.ttls.For(cache.TierWorkItems)); err != nil && s.logger != nil {
					s.logger.Warn("failed to cache work items", "key", key, "error", err)
				}
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, "", err
	}
	return value.([]domain.WorkItem), sourceLive, nil
}

// iterations loads the sprint list for a project, cache first. Iteration data
// is best effort: a failure degrades to sprint-less metrics with a warning
// rather than failing the whole overview.
func (s *Service) iterations(ctx context.Context, project string) []domain.Iteration {
	key := cache.Key(cache.TierIterations, project, "list")
	if s.store != nil {
		raw, ok, err := s.store.Get(ctx, key)
		if err == nil && ok {
			var iterations []domain.Iteration
			if err := json.Unmarshal(raw, &iterations); err == nil {
				return iterations
			}
		}
	}

	value, err, _ := s.group.Do(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		iterations, err := s.source.Iterations(fetchCtx, project)
		if err != nil {
			return nil, err
		}
		if s.store != nil {
			if raw, err := json.Marshal(iterations); err == nil {
				if err := s.store.Set(fetchCtx, key, raw, s.ttls.For(cache.TierIterations)); err != nil && s.logger != nil {
					s.logger.Warn("failed to cache iterations", "key", key, "error", err)
				}
			}
		}
		return iterations, nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("iterations unavailable, computing sprint-less metrics", "project", project, "error", err)
		}
		return nil
	}
	return value.([]domain.Iteration)
}

// attachBusinessKPIs fills P/L and satisfaction from the reporting tables.
// Absent rows and repository outages both degrade to zero-valued KPIs.
func (s *Service) attachBusinessKPIs(ctx context.Context, kpis *domain.KPISet, productID string, from, to time.Time) {
	if s.business == nil || productID == "" {
		return
	}
	financial, err := s.business.FinancialSummary(ctx, productID, from, to)
	switch {
	case err == nil:
		kpis.Revenue = financial.Revenue
		kpis.Cost = financial.Cost
		kpis.ProfitLoss = financial.Profit
	case errors.Is(err, repository.ErrNotFound):
	default:
		if s.logger != nil {
			s.logger.Warn("financial summary unavailable", "product_id", productID, "error", err)
		}
	}

	satisfaction, err := s.business.SatisfactionSummary(ctx, productID, from, to)
	switch {
	case err == nil:
		kpis.Satisfaction = satisfaction.Score
		kpis.Responses = satisfaction.Responses
	case errors.Is(err, repository.ErrNotFound):
	default:
		if s.logger != nil {
			s.logger.Warn("satisfaction summary unavailable", "product_id", productID, "error", err)
		}
	}
}
