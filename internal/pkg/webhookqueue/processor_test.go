package webhookqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimOne(t *testing.T, q *Queue) *WebhookEvent {
	t.Helper()
	events, err := q.Dequeue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func TestProcessEventSuccess(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, event.Status)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Equal(t, 1, stats.Registered)
}

func TestProcessEventNoHandlerRegistered(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	id := enqueueTestEvent(t, q, "unknown-endpoint", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, "no processor registered", event.ErrorMessage)
	assert.Equal(t, 0, event.RetryCount, "unroutable events must not burn retries")

	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestProcessEventRetryableError(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{}, errors.New("dial tcp: connection refused")
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	assert.Equal(t, int64(1), p.Stats().Retried)
}

func TestProcessEventPermanentError(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{}, errors.New("signature mismatch for payload")
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, 0, event.RetryCount)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestProcessEventHandlerRequestsRetry(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{Status: OutcomeRetry, Delay: 2 * time.Minute, Message: "provider still settling"}, nil
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, event.Status)
	require.NotNil(t, event.ScheduledAt)
	until := time.Until(*event.ScheduledAt)
	assert.InDelta(t, float64(2*time.Minute), float64(until), float64(5*time.Second))
}

func TestProcessEventAlreadyProcessingCompletes(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{Status: OutcomeAlreadyProcessing}, nil
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, event.Status)
	assert.Equal(t, int64(1), p.Stats().Succeeded)
}

func TestProcessEventHandlerPanicIsRetried(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		panic("boom")
	}))

	id := enqueueTestEvent(t, q, "payment-callback", PriorityNormal)
	p.processEvent(ctx, claimOne(t, q))

	event, err := q.store.get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, event.Status)
	assert.Contains(t, event.ErrorMessage, "handler panic")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("request timed out"), true},
		{errors.New("service temporarily unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("validation failed: missing amount"), false},
		{errors.New("401 unauthorized"), false},
		{errors.New("order not found"), false},
		{errors.New("400 bad request"), false},
		{errors.New("signature mismatch"), false},
		{errors.New("something unexpected happened"), true},
	}

	for _, tc := range tests {
		name := "nil"
		if tc.err != nil {
			name = tc.err.Error()
		}
		assert.Equal(t, tc.retryable, ClassifyError(tc.err), name)
	}
}

func TestProcessorLoopDrainsQueue(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 2)
	ctx := context.Background()

	p.Register("paygate", "payment-callback", HandlerFunc(func(_ context.Context, _ *WebhookEvent) (Outcome, error) {
		return Outcome{Status: OutcomeSuccess}, nil
	}))

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueueTestEvent(t, q, "payment-callback", PriorityNormal))
	}

	p.StartProcessing(10, 10*time.Millisecond)
	defer p.Stop()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Completed == int64(len(ids))
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int64(5), p.Stats().Succeeded)
}

func TestProcessorStartIsIdempotent(t *testing.T) {
	q := newTestQueue(t, nil)
	p := NewProcessor(q, 1)

	p.StartProcessing(1, 10*time.Millisecond)
	p.StartProcessing(1, 10*time.Millisecond)
	p.Stop()
	p.Stop()
}
