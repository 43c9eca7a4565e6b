package webhook

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

const (
	statsBucketSpan      = time.Minute
	defaultRetention     = 7 * 24 * time.Hour
	defaultTimeframeSpan = time.Hour
)

// Recorder owns the processor's statistics for its lifetime. It is an
// injected instance, not package state, so tests and multi-tenant deployments
// get isolated counters.
type Recorder struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time

	received   int64
	processed  int64
	failed     int64
	duplicates int64
	byType     map[domain.EventType]int64

	durationSum time.Duration
	durations   int64

	queueSize int

	buckets map[statBucketKey]*statBucket
}

type statBucketKey struct {
	eventType domain.EventType
	start     time.Time
}

type statBucket struct {
	received    int64
	processed   int64
	failed      int64
	duplicates  int64
	durationSum time.Duration
	durationMax time.Duration
	durations   int64
}

// NewRecorder constructs a Recorder keeping rolling buckets for retention.
func NewRecorder(retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Recorder{
		retention: retention,
		now:       time.Now,
		byType:    make(map[domain.EventType]int64),
		buckets:   make(map[statBucketKey]*statBucket),
	}
}

// Enqueue marks an event accepted for processing.
func (r *Recorder) Enqueue() {
	r.mu.Lock()
	r.queueSize++
	r.mu.Unlock()
}

// Dequeue marks an event drained, successful or not.
func (r *Recorder) Dequeue() {
	r.mu.Lock()
	if r.queueSize > 0 {
		r.queueSize--
	}
	r.mu.Unlock()
}

// Record folds one processing outcome into lifetime counters and the rolling
// window. Every event counts as received; processed, failed and duplicate are
// mutually exclusive outcomes.
func (r *Recorder) Record(result domain.ProcessingResult) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.received++
	if result.EventType != "" {
		r.byType[result.EventType]++
	}

	key := statBucketKey{eventType: result.EventType, start: now.Truncate(statsBucketSpan)}
	bucket := r.buckets[key]
	if bucket == nil {
		bucket = &statBucket{}
		r.buckets[key] = bucket
	}
	bucket.received++

	switch {
	case result.Duplicate:
		r.duplicates++
		bucket.duplicates++
	case result.Success:
		r.processed++
		bucket.processed++
	default:
		r.failed++
		bucket.failed++
	}

	if result.ProcessingTime > 0 {
		r.durationSum += result.ProcessingTime
		r.durations++
		bucket.durationSum += result.ProcessingTime
		bucket.durations++
		if result.ProcessingTime > bucket.durationMax {
			bucket.durationMax = result.ProcessingTime
		}
	}

	r.pruneLocked(now)
}

func (r *Recorder) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.retention)
	for key := range r.buckets {
		if key.start.Before(cutoff) {
			delete(r.buckets, key)
		}
	}
}

// Snapshot returns lifetime statistics.
func (r *Recorder) Snapshot() domain.Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	byType := make(map[domain.EventType]int64, len(r.byType))
	for et, count := range r.byType {
		byType[et] = count
	}

	stats := domain.Statistics{
		TotalReceived:   r.received,
		TotalProcessed:  r.processed,
		TotalFailed:     r.failed,
		TotalDuplicates: r.duplicates,
		ByEventType:     byType,
		QueueSize:       r.queueSize,
	}
	completed := r.processed + r.failed
	if completed > 0 {
		stats.SuccessRate = float64(r.processed) / float64(completed) * 100
	} else {
		stats.SuccessRate = 100
	}
	if r.durations > 0 {
		stats.AverageProcessingTimeMs = float64(r.durationSum.Microseconds()) / float64(r.durations) / 1000
	}
	return stats
}

// ParseTimeframe resolves a rolling-window name to its duration.
func ParseTimeframe(raw string) (time.Duration, error) {
	switch raw {
	case "", "1h":
		return defaultTimeframeSpan, nil
	case "6h":
		return 6 * time.Hour, nil
	case "24h":
		return 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: unsupported timeframe %q", domain.ErrValidation, raw)
}

// Window computes rolling metrics over the requested timeframe from minute
// buckets, not lifetime totals.
func (r *Recorder) Window(timeframe string) (domain.DetailedMetrics, error) {
	span, err := ParseTimeframe(timeframe)
	if err != nil {
		return domain.DetailedMetrics{}, err
	}
	if timeframe == "" {
		timeframe = "1h"
	}

	now := r.now()
	cutoff := now.Add(-span)

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics := domain.DetailedMetrics{
		Timeframe:   timeframe,
		WindowStart: cutoff,
		WindowEnd:   now,
		ByEventType: make(map[domain.EventType]int64),
	}
	var durationSum time.Duration
	var durations int64
	var durationMax time.Duration
	for key, bucket := range r.buckets {
		if key.start.Before(cutoff.Truncate(statsBucketSpan)) {
			continue
		}
		metrics.Received += bucket.received
		metrics.Processed += bucket.processed
		metrics.Failed += bucket.failed
		metrics.Duplicates += bucket.duplicates
		if key.eventType != "" {
			metrics.ByEventType[key.eventType] += bucket.received
		}
		durationSum += bucket.durationSum
		durations += bucket.durations
		if bucket.durationMax > durationMax {
			durationMax = bucket.durationMax
		}
	}

	completed := metrics.Processed + metrics.Failed
	if completed > 0 {
		metrics.SuccessRate = float64(metrics.Processed) / float64(completed) * 100
	} else {
		metrics.SuccessRate = 100
	}
	if durations > 0 {
		metrics.AverageProcessingTimeMs = float64(durationSum.Microseconds()) / float64(durations) / 1000
	}
	metrics.MaxProcessingTimeMs = float64(durationMax.Microseconds()) / 1000
	return metrics, nil
}

// Reset clears all counters and buckets. Admin action only.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = 0
	r.processed = 0
	r.failed = 0
	r.duplicates = 0
	r.byType = make(map[domain.EventType]int64)
	r.durationSum = 0
	r.durations = 0
	r.buckets = make(map[statBucketKey]*statBucket)
}

// ResetQueue zeroes the queue gauge. Admin action only.
func (r *Recorder) ResetQueue() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cleared := r.queueSize
	r.queueSize = 0
	return cleared
}
