package webhookqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	metrics "github.com/custodix/walletcore/internal/pkg/metrics/counter"
)

// OutcomeStatus is the handler's verdict for one event
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeRetry   OutcomeStatus = "retry"
	// OutcomeAlreadyProcessing is an idempotent no-op: another delivery of
	// the same logical event is being handled. Treated as success.
	OutcomeAlreadyProcessing OutcomeStatus = "already_processing"
)

// Outcome is returned by handlers alongside an optional error.
type Outcome struct {
	Status  OutcomeStatus
	Delay   time.Duration
	Message string
}

// Handler processes a single webhook event for one (provider, endpoint)
// pair. Cancellation of slow provider calls is the handler's own
// responsibility.
type Handler interface {
	Process(ctx context.Context, event *WebhookEvent) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event *WebhookEvent) (Outcome, error)

func (f HandlerFunc) Process(ctx context.Context, event *WebhookEvent) (Outcome, error) {
	return f(ctx, event)
}

// Error text fragments that mark a failure as retryable (transient) versus
// permanent. Anything unmatched is treated as retryable: losing a payment
// callback is worse than retrying a broken one.
var (
	retryablePatterns = []string{
		"connection", "timeout", "timed out", "unavailable", "temporarily",
		"too many requests", "deadline exceeded", "reset by peer", "eof",
	}
	permanentPatterns = []string{
		"validation", "invalid", "unauthorized", "forbidden", "not found",
		"bad request", "malformed", "signature mismatch",
	}
)

// ClassifyError reports whether an error should be retried.
func ClassifyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return true
}

// ProcessingStats exposes processor throughput for monitoring
type ProcessingStats struct {
	Processed  int64 `json:"processed"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Retried    int64 `json:"retried"`
	InFlight   int64 `json:"in_flight"`
	Registered int   `json:"registered_handlers"`
}

const defaultWorkers = 4

// Processor dequeues webhook events and dispatches them to registered
// handlers under a bounded worker semaphore. Concurrency never exceeds the
// worker count regardless of backlog depth.
type Processor struct {
	queue      *Queue
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool

	statsMu sync.Mutex
	stats   ProcessingStats
}

// NewProcessor creates an event processor over the queue.
func NewProcessor(queue *Queue, workers int) *Processor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Processor{
		queue:      queue,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
		handlers:   make(map[string]Handler),
	}
}

func handlerKey(provider, endpoint string) string {
	return provider + "/" + endpoint
}

// Register installs the handler for a (provider, endpoint) pair.
func (p *Processor) Register(provider, endpoint string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[handlerKey(provider, endpoint)] = h
	log.Infof("[EventProcessor] Registered handler for %s/%s", provider, endpoint)
}

func (p *Processor) handler(provider, endpoint string) (Handler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handlers[handlerKey(provider, endpoint)]
	return h, ok
}

// StartProcessing runs the dequeue loop until Stop is called.
func (p *Processor) StartProcessing(batchSize int, pollInterval time.Duration) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	log.Infof("[EventProcessor] Starting with %d workers (batch=%d, poll=%s)", p.workers, batchSize, pollInterval)
	p.wg.Add(1)
	go p.loop(batchSize, pollInterval)
}

// Stop signals the loop to exit and waits for in-flight events to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info("[EventProcessor] Stopped")
}

func (p *Processor) loop(batchSize int, pollInterval time.Duration) {
	defer p.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		events, err := p.queue.Dequeue(ctx, batchSize)
		if err != nil {
			if err != ErrStorageUnavailable {
				log.Errorf("[EventProcessor] Dequeue error: %v", err)
			}
			p.sleep(pollInterval)
			continue
		}
		if len(events) == 0 {
			p.sleep(pollInterval)
			continue
		}

		var batch sync.WaitGroup
		for _, event := range events {
			p.workerPool <- struct{}{}
			batch.Add(1)
			go func(e *WebhookEvent) {
				defer func() {
					<-p.workerPool
					batch.Done()
				}()
				p.processEvent(ctx, e)
			}(event)
		}
		batch.Wait()
	}
}

func (p *Processor) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

func (p *Processor) processEvent(ctx context.Context, event *WebhookEvent) {
	start := time.Now()
	p.track(func(s *ProcessingStats) { s.InFlight++ })
	defer p.track(func(s *ProcessingStats) { s.InFlight--; s.Processed++ })

	handler, ok := p.handler(event.Provider, event.Endpoint)
	if !ok {
		// Nothing will ever be able to process this event; fail it now.
		log.Errorf("[EventProcessor] No handler for %s/%s (event %s)", event.Provider, event.Endpoint, event.ID)
		if err := p.queue.UpdateStatus(ctx, event.ID, StatusFailed, "no processor registered", elapsedMs(start)); err != nil {
			log.Errorf("[EventProcessor] Failed to fail event %s: %v", event.ID, err)
		}
		p.track(func(s *ProcessingStats) { s.Failed++ })
		metrics.AddWebhookFailed()
		return
	}

	outcome, err := p.safeProcess(ctx, handler, event)
	duration := elapsedMs(start)

	switch {
	case err != nil:
		if ClassifyError(err) {
			log.Warnf("[EventProcessor] Retryable error for event %s: %v", event.ID, err)
			if rerr := p.queue.Retry(ctx, event.ID, 0, err.Error()); rerr != nil {
				log.Errorf("[EventProcessor] Failed to schedule retry for %s: %v", event.ID, rerr)
			}
			p.track(func(s *ProcessingStats) { s.Retried++ })
			metrics.AddWebhookRetried()
		} else {
			log.Errorf("[EventProcessor] Permanent error for event %s: %v", event.ID, err)
			if uerr := p.queue.UpdateStatus(ctx, event.ID, StatusFailed, err.Error(), duration); uerr != nil {
				log.Errorf("[EventProcessor] Failed to fail event %s: %v", event.ID, uerr)
			}
			p.track(func(s *ProcessingStats) { s.Failed++ })
			metrics.AddWebhookFailed()
		}
	case outcome.Status == OutcomeRetry:
		if rerr := p.queue.Retry(ctx, event.ID, outcome.Delay, outcome.Message); rerr != nil {
			log.Errorf("[EventProcessor] Failed to schedule retry for %s: %v", event.ID, rerr)
		}
		p.track(func(s *ProcessingStats) { s.Retried++ })
		metrics.AddWebhookRetried()
	default:
		// success and already_processing both complete the event
		if uerr := p.queue.UpdateStatus(ctx, event.ID, StatusCompleted, "", duration); uerr != nil {
			log.Errorf("[EventProcessor] Failed to complete event %s: %v", event.ID, uerr)
		}
		p.track(func(s *ProcessingStats) { s.Succeeded++ })
		metrics.AddWebhookProcessed()
	}
}

// safeProcess converts a handler panic into an error so one bad payload
// cannot take a worker down.
func (p *Processor) safeProcess(ctx context.Context, handler Handler, event *WebhookEvent) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Process(ctx, event)
}

func (p *Processor) track(fn func(*ProcessingStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
}

// Stats returns a snapshot of processor throughput.
func (p *Processor) Stats() ProcessingStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	stats := p.stats
	p.mu.Lock()
	stats.Registered = len(p.handlers)
	p.mu.Unlock()
	return stats
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
