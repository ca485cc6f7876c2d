package webhookqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// AlertNotifier delivers administrative alerts. The queue only ever calls it
// best-effort; delivery failures are logged, never propagated.
type AlertNotifier interface {
	Notify(ctx context.Context, severity, subject, body string) error
}

// Endpoints matching these substrings get a priority boost under backlog
// pressure: money-moving callbacks must not starve behind the rest.
var priorityEndpointPatterns = []string{"payment", "deposit"}

// EnqueueInput carries everything the intake boundary hands over per event.
type EnqueueInput struct {
	Provider   string            `validate:"required,min=1,max=50"`
	Endpoint   string            `validate:"required,min=1,max=100"`
	Payload    []byte            `validate:"required"`
	Headers    map[string]string `validate:"-"`
	ClientIP   string            `validate:"omitempty,ip"`
	Signature  string            `validate:"max=512"`
	Priority   Priority          `validate:"min=0,max=3"`
	MaxRetries int               `validate:"min=0,max=50"`
	Metadata   map[string]string `validate:"-"`
}

// Queue is the durable intake queue: accepted events are persisted to the
// local file-backed store before the caller gets an event ID back. Storage
// access is serialized by an in-process lock; a circuit breaker shields the
// caller from a persistently failing store.
type Queue struct {
	store    *Store
	breaker  *CircuitBreaker
	notifier AlertNotifier
	validate *validator.Validate
	mu       sync.Mutex
}

// NewQueue creates a durable intake queue over the given store.
func NewQueue(store *Store, notifier AlertNotifier) *Queue {
	return &Queue{
		store:    store,
		breaker:  NewCircuitBreaker(),
		notifier: notifier,
		validate: validator.New(),
	}
}

// Enqueue durably persists an inbound webhook event and returns its ID and
// the intake latency. It never touches the primary relational store.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (bool, string, time.Duration, error) {
	start := time.Now()

	if err := q.validate.Struct(in); err != nil {
		return false, "", time.Since(start), fmt.Errorf("invalid enqueue input: %w", err)
	}
	if !q.breaker.Allow() {
		return false, "", time.Since(start), ErrStorageUnavailable
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := time.Now()
	event := &WebhookEvent{
		ID:         uuid.New().String(),
		Provider:   in.Provider,
		Endpoint:   in.Endpoint,
		Payload:    in.Payload,
		Headers:    in.Headers,
		ClientIP:   in.ClientIP,
		Signature:  in.Signature,
		Status:     StatusPending,
		Priority:   in.Priority,
		MaxRetries: maxRetries,
		Metadata:   in.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	q.mu.Lock()
	err := q.store.insert(ctx, event)
	q.mu.Unlock()
	if err != nil {
		q.breaker.RecordFailure()
		log.Errorf("[WebhookQueue] Enqueue failed for %s/%s: %v", in.Provider, in.Endpoint, err)
		return false, "", time.Since(start), fmt.Errorf("failed to enqueue webhook event: %w", err)
	}
	q.breaker.RecordSuccess()

	latency := time.Since(start)
	log.Debugf("[WebhookQueue] Enqueued event %s (%s/%s) in %s", event.ID, in.Provider, in.Endpoint, latency)
	return true, event.ID, latency, nil
}

// Dequeue atomically claims up to batchSize due events, transitioning them
// to processing. Priority first, oldest first.
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]*WebhookEvent, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	if !q.breaker.Allow() {
		return nil, ErrStorageUnavailable
	}

	q.mu.Lock()
	events, err := q.store.dequeueBatch(ctx, batchSize, time.Now())
	q.mu.Unlock()
	if err != nil {
		q.breaker.RecordFailure()
		return nil, fmt.Errorf("failed to dequeue webhook events: %w", err)
	}
	q.breaker.RecordSuccess()
	return events, nil
}

// UpdateStatus records the outcome of processing an event.
func (q *Queue) UpdateStatus(ctx context.Context, eventID string, status EventStatus, errMsg string, durationMs int64) error {
	if !q.breaker.Allow() {
		return ErrStorageUnavailable
	}

	q.mu.Lock()
	err := q.store.updateStatus(ctx, eventID, status, errMsg, durationMs, time.Now())
	q.mu.Unlock()
	if err != nil {
		q.breaker.RecordFailure()
		return fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	q.breaker.RecordSuccess()
	return nil
}

// Retry reschedules an event with exponential backoff (60s * 2^n, capped at
// one hour). Exhausting the retry budget marks the event permanently failed
// and raises an administrative alert.
func (q *Queue) Retry(ctx context.Context, eventID string, delay time.Duration, errMsg string) error {
	if !q.breaker.Allow() {
		return ErrStorageUnavailable
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	event, err := q.store.get(ctx, eventID)
	if err != nil {
		q.breaker.RecordFailure()
		return fmt.Errorf("failed to load event %s for retry: %w", eventID, err)
	}
	q.breaker.RecordSuccess()

	if !event.IsRetryable() {
		if err := q.store.updateStatus(ctx, eventID, StatusFailed, errMsg, event.ProcessingMs, time.Now()); err != nil {
			q.breaker.RecordFailure()
			return fmt.Errorf("failed to mark event %s failed: %w", eventID, err)
		}
		log.Errorf("[WebhookQueue] Event %s permanently failed after %d retries", eventID, event.RetryCount)
		q.alert(ctx, "critical", "webhook event permanently failed",
			fmt.Sprintf("event %s (%s/%s) exhausted %d retries: %s",
				eventID, event.Provider, event.Endpoint, event.MaxRetries, errMsg))
		return nil
	}

	if delay <= 0 {
		delay = event.NextRetryDelay()
	}
	at := time.Now().Add(delay)
	if err := q.store.scheduleRetry(ctx, eventID, event.RetryCount+1, at, errMsg, time.Now()); err != nil {
		q.breaker.RecordFailure()
		return fmt.Errorf("failed to schedule retry for event %s: %w", eventID, err)
	}
	log.Infof("[WebhookQueue] Scheduled retry %d/%d for event %s in %s",
		event.RetryCount+1, event.MaxRetries, eventID, delay)
	return nil
}

// ManageBacklog recovers stuck events and boosts payment/deposit endpoints
// when the pending backlog exceeds maxPending.
func (q *Queue) ManageBacklog(ctx context.Context, maxPending int) error {
	if !q.breaker.Allow() {
		return ErrStorageUnavailable
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	recovered, err := q.store.resetStuckProcessing(ctx, stuckProcessingAge, now)
	if err != nil {
		q.breaker.RecordFailure()
		return fmt.Errorf("failed to recover stuck events: %w", err)
	}
	if recovered > 0 {
		log.Warnf("[WebhookQueue] Recovered %d events stuck in processing", recovered)
	}

	counts, err := q.store.countByStatus(ctx)
	if err != nil {
		q.breaker.RecordFailure()
		return fmt.Errorf("failed to count backlog: %w", err)
	}
	q.breaker.RecordSuccess()

	pending := counts[StatusPending] + counts[StatusRetry]
	if maxPending > 0 && pending > int64(maxPending) {
		boosted, err := q.store.boostEndpointPriority(ctx, priorityEndpointPatterns, PriorityHigh, now)
		if err != nil {
			return fmt.Errorf("failed to boost backlog priorities: %w", err)
		}
		log.Warnf("[WebhookQueue] Backlog at %d (threshold %d); boosted %d payment/deposit events", pending, maxPending, boosted)
	}
	return nil
}

// PruneTerminal removes completed/failed events older than the retention
// window.
func (q *Queue) PruneTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.pruneTerminal(ctx, time.Now().Add(-retention))
}

// Stats returns queue depth per status plus the breaker state.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.countByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &QueueStats{
		Pending:      counts[StatusPending],
		Processing:   counts[StatusProcessing],
		Completed:    counts[StatusCompleted],
		Failed:       counts[StatusFailed],
		Retry:        counts[StatusRetry],
		BreakerState: q.breaker.State(),
	}, nil
}

func (q *Queue) alert(ctx context.Context, severity, subject, body string) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.Notify(ctx, severity, subject, body); err != nil {
		log.Errorf("[WebhookQueue] Failed to deliver alert %q: %v", subject, err)
	}
}
