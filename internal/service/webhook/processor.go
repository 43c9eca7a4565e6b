package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/domain"
)

// CacheInvalidator is the slice of the cache layer the processor needs.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keyOrPattern string) (int, error)
}

// Broadcaster fans work-item deltas out to live subscribers.
type Broadcaster interface {
	Broadcast(project string, payload []byte)
}

// Processor runs each inbound Azure DevOps event through verification,
// deduplication and dispatch, and owns the statistics those events produce.
type Processor struct {
	verifier       *SignatureVerifier
	dedup          DedupStore
	cache          CacheInvalidator
	hub            Broadcaster
	stats          *Recorder
	alerts         *ThresholdManager
	logger         *slog.Logger
	dedupTTL       time.Duration
	defaultProject string
	now            func() time.Time
	startedAt      time.Time
}

const defaultDedupTTL = time.Hour

// NewProcessor wires the event pipeline. dedup is required; cache and hub may
// be nil when the deployment runs without them.
func NewProcessor(verifier *SignatureVerifier, dedup DedupStore, invalidator CacheInvalidator, hub Broadcaster, logger *slog.Logger, dedupTTL, statsRetention time.Duration, defaultProject string) *Processor {
	if verifier == nil {
		verifier = NewSignatureVerifier("")
	}
	if dedupTTL <= 0 {
		dedupTTL = defaultDedupTTL
	}
	if logger != nil {
		logger = logger.With("component", "webhook_processor")
	}
	now := time.Now
	return &Processor{
		verifier:       verifier,
		dedup:          dedup,
		cache:          invalidator,
		hub:            hub,
		stats:          NewRecorder(statsRetention),
		alerts:         NewThresholdManager(),
		logger:         logger,
		dedupTTL:       dedupTTL,
		defaultProject: defaultProject,
		now:            now,
		startedAt:      now(),
	}
}

// Process runs one delivery through the pipeline. A non-nil error means the
// delivery was rejected at the boundary (bad signature, unparseable or invalid
// payload) and domain.ErrorCode tells the transport how to answer. Failures
// past acceptance are reported through the result alone.
func (p *Processor) Process(ctx context.Context, rawBody []byte, signatureHeader string) (domain.ProcessingResult, error) {
	start := p.now()

	if err := p.verifier.Verify(rawBody, signatureHeader); err != nil {
		return p.reject(start, err), err
	}

	event, err := ParseEvent(rawBody, p.defaultProject, start)
	if err != nil {
		return p.reject(start, err), err
	}
	event.SignaturePresent = signatureHeader != ""
	eventID := uuid.NewString()

	p.stats.Enqueue()
	defer p.stats.Dequeue()

	fresh, err := p.dedup.MarkIfNew(ctx, event.DedupKey(), p.dedupTTL)
	if err != nil {
		// Dedup outage must not drop deliveries. Worst case is a replayed
		// side effect, which invalidation and broadcast both tolerate.
		fresh = true
		if p.logger != nil {
			p.logger.Warn("dedup store unavailable, treating event as new", "error", err, "dedup_key", event.DedupKey())
		}
	}
	if !fresh {
		result := domain.ProcessingResult{
			Success:        true,
			EventType:      event.EventType,
			EventID:        eventID,
			Duplicate:      true,
			ProcessingTime: p.now().Sub(start),
		}
		p.stats.Record(result)
		if p.logger != nil {
			p.logger.Info("duplicate webhook event skipped", "event_type", event.EventType, "work_item_id", event.WorkItemID, "dedup_key", event.DedupKey())
		}
		return result, nil
	}

	if err := p.dispatch(ctx, event); err != nil {
		result := domain.ProcessingResult{
			Success:        false,
			EventType:      event.EventType,
			EventID:        eventID,
			Error:          err.Error(),
			ProcessingTime: p.now().Sub(start),
		}
		p.stats.Record(result)
		if p.logger != nil {
			p.logger.Error("webhook event processing failed", "event_type", event.EventType, "work_item_id", event.WorkItemID, "error", err)
		}
		return result, nil
	}

	result := domain.ProcessingResult{
		Success:        true,
		EventType:      event.EventType,
		EventID:        eventID,
		ProcessingTime: p.now().Sub(start),
	}
	p.stats.Record(result)
	if p.logger != nil {
		p.logger.Info("webhook event processed", "event_type", event.EventType, "work_item_id", event.WorkItemID, "project", event.Project, "duration_ms", result.ProcessingTime.Milliseconds())
	}
	return result, nil
}

func (p *Processor) reject(start time.Time, cause error) domain.ProcessingResult {
	result := domain.ProcessingResult{
		Success:        false,
		Error:          cause.Error(),
		ProcessingTime: p.now().Sub(start),
	}
	p.stats.Record(result)
	if p.logger != nil {
		p.logger.Warn("webhook delivery rejected", "error", cause, "code", domain.ErrorCode(cause))
	}
	return result
}

// dispatch applies the event's side effects. Creation and deletion shift
// iteration counts, so those events also drop the iterations bucket. Comments
// change no cached aggregate and only notify subscribers.
func (p *Processor) dispatch(ctx context.Context, event domain.WebhookEvent) error {
	switch event.EventType {
	case domain.EventWorkItemCreated, domain.EventWorkItemDeleted:
		if err := p.invalidateBuckets(ctx, event.Project, cache.TierWorkItems, cache.TierIterations); err != nil {
			return err
		}
	case domain.EventWorkItemUpdated, domain.EventWorkItemRestored:
		if err := p.invalidateBuckets(ctx, event.Project, cache.TierWorkItems); err != nil {
			return err
		}
	case domain.EventWorkItemCommented:
	default:
		return fmt.Errorf("%w: no handler for event type %q", domain.ErrValidation, event.EventType)
	}
	p.broadcast(event)
	return nil
}

func (p *Processor) invalidateBuckets(ctx context.Context, project string, tiers ...cache.Tier) error {
	if p.cache == nil {
		return nil
	}
	for _, tier := range tiers {
		pattern := cache.BucketPattern(tier, project)
		removed, err := p.cache.Invalidate(ctx, pattern)
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", pattern, err)
		}
		if removed > 0 && p.logger != nil {
			p.logger.Debug("cache bucket invalidated", "pattern", pattern, "keys", removed)
		}
	}
	return nil
}

func (p *Processor) broadcast(event domain.WebhookEvent) {
	if p.hub == nil {
		return
	}
	payload, err := MarshalDelta(event, p.now())
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("failed to marshal work item delta", "error", err)
		}
		return
	}
	p.hub.Broadcast(event.Project, payload)
}

// MarshalDelta encodes a work-item change notification for SSE/WebSocket clients.
func MarshalDelta(event domain.WebhookEvent, at time.Time) ([]byte, error) {
	payload := map[string]any{
		"type":       "workitem.delta",
		"eventType":  string(event.EventType),
		"workItemId": event.WorkItemID,
		"project":    event.Project,
		"fields":     event.Fields,
		"timestamp":  at.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}

// Statistics returns lifetime counters.
func (p *Processor) Statistics() domain.Statistics {
	return p.stats.Snapshot()
}

// DetailedMetrics returns rolling-window metrics for a timeframe.
func (p *Processor) DetailedMetrics(timeframe string) (domain.DetailedMetrics, error) {
	return p.stats.Window(timeframe)
}

// AlertStatus grades current statistics against the configured thresholds.
func (p *Processor) AlertStatus() domain.AlertStatus {
	return p.alerts.Evaluate(p.stats.Snapshot(), p.now())
}

// ConfigureThresholds applies a partial threshold update.
func (p *Processor) ConfigureThresholds(update ThresholdUpdate) (domain.AlertThresholds, error) {
	return p.alerts.Apply(update)
}

// Thresholds returns the active alert thresholds.
func (p *Processor) Thresholds() domain.AlertThresholds {
	return p.alerts.Thresholds()
}

// ClearQueue zeroes the queue gauge and returns the cleared count.
func (p *Processor) ClearQueue() int {
	return p.stats.ResetQueue()
}

// ResetStatistics clears all counters and rolling buckets.
func (p *Processor) ResetStatistics() {
	p.stats.Reset()
}

// SignatureEnabled reports whether deliveries must be signed.
func (p *Processor) SignatureEnabled() bool {
	return p.verifier.Enabled()
}

// Uptime reports how long this processor has been serving.
func (p *Processor) Uptime() time.Duration {
	return p.now().Sub(p.startedAt)
}
