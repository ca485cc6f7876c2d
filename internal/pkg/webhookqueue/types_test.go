package webhookqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelayDoublesAndCaps(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 480 * time.Second},
		{4, 960 * time.Second},
		{5, 1920 * time.Second},
		{6, 3600 * time.Second},
		{7, 3600 * time.Second},
		{20, 3600 * time.Second},
	}

	for _, tc := range tests {
		e := &WebhookEvent{RetryCount: tc.retryCount}
		assert.Equal(t, tc.want, e.NextRetryDelay(), "retry %d", tc.retryCount)
	}
}

func TestIsRetryable(t *testing.T) {
	e := &WebhookEvent{RetryCount: 4, MaxRetries: 5}
	assert.True(t, e.IsRetryable())

	e.RetryCount = 5
	assert.False(t, e.IsRetryable())
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []EventStatus{StatusPending, StatusProcessing, StatusRetry} {
		e := &WebhookEvent{Status: status}
		assert.False(t, e.IsTerminal(), string(status))
	}
	for _, status := range []EventStatus{StatusCompleted, StatusFailed} {
		e := &WebhookEvent{Status: status}
		assert.True(t, e.IsTerminal(), string(status))
	}
}
