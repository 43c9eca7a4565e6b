package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

// velocityTrend sums completed story points per sprint for the sprints
// overlapping the reporting window, oldest first, capped at limit.
func velocityTrend(items []domain.WorkItem, iterations []domain.Iteration, limit int, from, to time.Time) []domain.VelocityPoint {
	overlapping := make([]domain.Iteration, 0, len(iterations))
	for _, iter := range iterations {
		if iter.StartDate.IsZero() || iter.EndDate.IsZero() {
			continue
		}
		if iter.StartDate.After(to) || iter.EndDate.Before(from) {
			continue
		}
		overlapping = append(overlapping, iter)
	}
	sort.Slice(overlapping, func(i, j int) bool {
		return overlapping[i].StartDate.Before(overlapping[j].StartDate)
	})
	if len(overlapping) > limit {
		overlapping = overlapping[len(overlapping)-limit:]
	}

	trend := make([]domain.VelocityPoint, 0, len(overlapping))
	for _, iter := range overlapping {
		point := domain.VelocityPoint{Sprint: iter.Name}
		for _, item := range items {
			if !item.IsClosed() || !inIteration(item, iter) {
				continue
			}
			point.Points += item.StoryPoints
			point.Completed++
		}
		trend = append(trend, point)
	}
	return trend
}

// inIteration matches a work item's iteration path against a sprint. Azure
// DevOps reports paths like "Project\Sprint 3"; the sprint name alone is the
// last segment.
func inIteration(item domain.WorkItem, iter domain.Iteration) bool {
	path := item.IterationPath
	if path == "" {
		return false
	}
	if strings.EqualFold(path, iter.Path) || strings.EqualFold(path, iter.Name) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(path), "\\"+strings.ToLower(iter.Name))
}

// burndownWeight is one item's remaining-work contribution. Items tracked in
// remaining hours use those; story-point items fall back to points.
func burndownWeight(item domain.WorkItem) float64 {
	if item.RemainingWork > 0 {
		return item.RemainingWork
	}
	return item.StoryPoints
}

// burndownSeries builds the planned-vs-actual series across a sprint's
// calendar days. No sprint means an empty series, not an error. Days beyond
// the snapshot hold the latest known remaining, since nothing closes in the
// future.
func burndownSeries(items []domain.WorkItem, sprint *domain.Iteration) []domain.BurndownPoint {
	series := make([]domain.BurndownPoint, 0)
	if sprint == nil || sprint.StartDate.IsZero() || sprint.EndDate.IsZero() {
		return series
	}

	scoped := make([]domain.WorkItem, 0, len(items))
	var total float64
	for _, item := range items {
		if !inIteration(item, *sprint) {
			continue
		}
		scoped = append(scoped, item)
		total += burndownWeight(item)
	}

	start := sprint.StartDate.UTC().Truncate(24 * time.Hour)
	end := sprint.EndDate.UTC().Truncate(24 * time.Hour)
	days := int(end.Sub(start)/(24*time.Hour)) + 1
	if days <= 0 {
		return series
	}

	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		point := domain.BurndownPoint{Date: day}
		if days > 1 {
			point.Planned = total * float64(days-1-d) / float64(days-1)
		}
		point.Remaining = remainingAt(scoped, total, day.AddDate(0, 0, 1))
		series = append(series, point)
	}
	return series
}

func remainingAt(items []domain.WorkItem, total float64, cutoff time.Time) float64 {
	remaining := total
	for _, item := range items {
		if item.ClosedDate != nil && item.ClosedDate.Before(cutoff) {
			remaining -= burndownWeight(item)
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// typeDistribution counts items per work-item type, largest first.
func typeDistribution(items []domain.WorkItem) []domain.DistributionSlice {
	counts := make(map[string]int)
	for _, item := range items {
		name := item.Type
		if name == "" {
			name = "Unknown"
		}
		counts[name]++
	}
	distribution := make([]domain.DistributionSlice, 0, len(counts))
	for name, count := range counts {
		distribution = append(distribution, domain.DistributionSlice{Type: name, Count: count})
	}
	sort.Slice(distribution, func(i, j int) bool {
		if distribution[i].Count != distribution[j].Count {
			return distribution[i].Count > distribution[j].Count
		}
		return distribution[i].Type < distribution[j].Type
	})
	return distribution
}

// computeKPIs derives the headline numbers from the scoped items and the
// velocity trend. The velocity KPI is the most recent sprint's completed
// points.
func computeKPIs(items []domain.WorkItem, trend []domain.VelocityPoint) domain.KPISet {
	var kpis domain.KPISet
	for _, item := range items {
		kpis.TotalPoints += item.StoryPoints
		if item.IsClosed() {
			kpis.CompletedPoints += item.StoryPoints
		}
		if item.IsBug() && !item.IsClosed() {
			kpis.BugCount++
		}
	}
	if kpis.TotalPoints > 0 {
		kpis.CompletionRate = kpis.CompletedPoints / kpis.TotalPoints * 100
	}
	if len(trend) > 0 {
		kpis.Velocity = trend[len(trend)-1].Points
	}
	return kpis
}

// scopeToSprint narrows items to a requested sprint and picks the iteration
// the burndown covers. An unmatched sprint selector yields an empty scope.
func scopeToSprint(items []domain.WorkItem, iterations []domain.Iteration, sprintID string, now time.Time) ([]domain.WorkItem, *domain.Iteration) {
	var sprint *domain.Iteration
	switch {
	case sprintID == "":
		return items, activeIteration(iterations, now)
	case strings.EqualFold(sprintID, "current"):
		sprint = activeIteration(iterations, now)
	default:
		sprint = findIteration(iterations, sprintID)
	}
	if sprint == nil {
		return []domain.WorkItem{}, nil
	}
	scoped := make([]domain.WorkItem, 0, len(items))
	for _, item := range items {
		if inIteration(item, *sprint) {
			scoped = append(scoped, item)
		}
	}
	return scoped, sprint
}
