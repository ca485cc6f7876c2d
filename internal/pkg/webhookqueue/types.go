package webhookqueue

import (
	"time"
)

// EventStatus defines the lifecycle state of a webhook event
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusRetry      EventStatus = "retry"
)

// Priority orders dequeuing; higher values are dequeued first
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Retry schedule bounds
const (
	DefaultMaxRetries = 5
	baseRetryDelay    = 60 * time.Second
	maxRetryDelay     = 3600 * time.Second

	// Events stuck in processing longer than this are assumed orphaned by a
	// dead worker and are reset to pending by backlog management.
	stuckProcessingAge = 10 * time.Minute
)

// WebhookEvent is a durably stored inbound provider callback. Status moves
// pending/retry -> processing -> completed|failed|retry only.
type WebhookEvent struct {
	ID           string            `json:"id"`
	Provider     string            `json:"provider"`
	Endpoint     string            `json:"endpoint"`
	Payload      []byte            `json:"payload"`
	Headers      map[string]string `json:"headers,omitempty"`
	ClientIP     string            `json:"client_ip"`
	Signature    string            `json:"signature"`
	Status       EventStatus       `json:"status"`
	Priority     Priority          `json:"priority"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ProcessingMs int64             `json:"processing_ms"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsRetryable checks if the event has retry budget left
func (e *WebhookEvent) IsRetryable() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetryDelay returns the backoff for the current retry count:
// 60s * 2^retry_count, capped at one hour.
func (e *WebhookEvent) NextRetryDelay() time.Duration {
	delay := baseRetryDelay
	for i := 0; i < e.RetryCount; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// IsTerminal reports whether the event reached a final state
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// QueueStats exposes queue depth and breaker state for monitoring
type QueueStats struct {
	Pending      int64        `json:"pending"`
	Processing   int64        `json:"processing"`
	Completed    int64        `json:"completed"`
	Failed       int64        `json:"failed"`
	Retry        int64        `json:"retry"`
	BreakerState BreakerState `json:"breaker_state"`
}
