package domain

import "time"

// Period names a reporting window resolved relative to the current date.
type Period string

const (
	PeriodSprint  Period = "sprint"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// ParsePeriod validates a raw period value.
func ParsePeriod(raw string) (Period, bool) {
	switch Period(raw) {
	case PeriodSprint, PeriodMonth, PeriodQuarter, PeriodYear:
		return Period(raw), true
	}
	return "", false
}

// OverviewFilters scope a metrics computation. Explicit start/end override the
// period-derived range.
type OverviewFilters struct {
	Period    Period
	StartDate *time.Time
	EndDate   *time.Time
	ProductID string
	SprintID  string
}

// KPISet carries the headline numbers for a dashboard period.
type KPISet struct {
	Velocity        float64
	CompletedPoints float64
	TotalPoints     float64
	CompletionRate  float64
	BugCount        int
	ProfitLoss      float64
	Revenue         float64
	Cost            float64
	Satisfaction    float64
	Responses       int
}

// VelocityPoint is one sprint's completed story points.
type VelocityPoint struct {
	Sprint    string
	Points    float64
	Completed int
}

// BurndownPoint is one calendar day of a sprint burndown.
type BurndownPoint struct {
	Date      time.Time
	Planned   float64
	Remaining float64
}

// DistributionSlice counts work items of a single type.
type DistributionSlice struct {
	Type  string
	Count int
}

// ChartSet groups the chart series for a dashboard period. Slices are always
// non-nil so clients render a deterministic empty state.
type ChartSet struct {
	Velocity     []VelocityPoint
	Burndown     []BurndownPoint
	Distribution []DistributionSlice
}

// OverviewMetadata records how an overview was produced.
type OverviewMetadata struct {
	Period      Period
	StartDate   time.Time
	EndDate     time.Time
	ProductID   string
	SprintID    string
	Source      string
	ItemCount   int
	GeneratedAt time.Time
}

// Overview is the full computed dashboard payload. It is derived on demand and
// never persisted; the cache is an optimization, not a store of record.
type Overview struct {
	KPIs     KPISet
	Charts   ChartSet
	Metadata OverviewMetadata
}

// FinancialSummary aggregates profit-and-loss figures maintained by the
// reporting pipeline.
type FinancialSummary struct {
	ProductID string
	Revenue   float64
	Cost      float64
	Profit    float64
	From      time.Time
	To        time.Time
}

// SatisfactionSummary aggregates customer satisfaction survey results.
type SatisfactionSummary struct {
	ProductID string
	Score     float64
	Responses int
	From      time.Time
	To        time.Time
}
