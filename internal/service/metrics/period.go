package metrics

import (
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

const dateLayout = "2006-01-02"

// fallbackSprintDays sizes the window when no active iteration exists.
const fallbackSprintDays = 14

// resolveRange returns the effective reporting window. Explicit dates win;
// otherwise the period anchors to the current sprint or calendar unit.
func resolveRange(filters domain.OverviewFilters, iterations []domain.Iteration, now time.Time) (time.Time, time.Time) {
	from, to := periodRange(filters.Period, iterations, now)
	if filters.StartDate != nil {
		from = filters.StartDate.UTC()
	}
	if filters.EndDate != nil {
		to = filters.EndDate.UTC()
	}
	return from, to
}

func periodRange(period domain.Period, iterations []domain.Iteration, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch period {
	case domain.PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), now
	case domain.PeriodQuarter:
		quarterStart := time.Month((int(now.Month())-1)/3*3 + 1)
		return time.Date(now.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC), now
	case domain.PeriodYear:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), now
	}
	if active := activeIteration(iterations, now); active != nil {
		return active.StartDate.UTC(), active.EndDate.UTC()
	}
	return now.AddDate(0, 0, -fallbackSprintDays), now
}

// activeIteration picks the sprint covering now, preferring the one Azure
// DevOps marks current.
func activeIteration(iterations []domain.Iteration, now time.Time) *domain.Iteration {
	for i := range iterations {
		if strings.EqualFold(iterations[i].TimeFrame, "current") {
			return &iterations[i]
		}
	}
	for i := range iterations {
		if iterations[i].Active(now) {
			return &iterations[i]
		}
	}
	return nil
}

// findIteration matches a sprint selector against id, name or path.
func findIteration(iterations []domain.Iteration, sprintID string) *domain.Iteration {
	for i := range iterations {
		iter := &iterations[i]
		if strings.EqualFold(iter.ID, sprintID) || strings.EqualFold(iter.Name, sprintID) || strings.EqualFold(iter.Path, sprintID) {
			return iter
		}
	}
	return nil
}
