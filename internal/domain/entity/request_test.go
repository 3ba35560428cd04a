package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to queued", StatusPending, StatusQueued, true},
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"failed to queued on retry", StatusFailed, StatusQueued, true},
		{"pending straight to processing", StatusPending, StatusProcessing, false},
		{"pending straight to completed", StatusPending, StatusCompleted, false},
		{"queued back to pending", StatusQueued, StatusPending, false},
		{"completed to anything", StatusCompleted, StatusQueued, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to processing without requeue", StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusFailed.Terminal(), "failed is retryable, not terminal")
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestQualityValid(t *testing.T) {
	for _, q := range []Quality{QualityLow, QualityMedium, QualityHigh, QualityUltra} {
		assert.True(t, q.Valid(), string(q))
	}
	assert.False(t, Quality("4k").Valid())
	assert.False(t, Quality("").Valid())
}

func TestNewVideoRequest(t *testing.T) {
	req := NewVideoRequest("", 120, "mp4", 30, QualityMedium)

	assert.NotEmpty(t, req.RequestID, "id is assigned when the caller omits one")
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 120, req.TotalFrames)
	assert.Zero(t, req.FramesReceived)
	assert.False(t, req.CreatedAt.IsZero())

	withID := NewVideoRequest("req-42", 10, "webm", 24, QualityHigh)
	assert.Equal(t, "req-42", withID.RequestID)
}

func TestProgressPercentage(t *testing.T) {
	req := &VideoRequest{TotalFrames: 8}
	assert.Equal(t, 0.0, req.ProgressPercentage())

	req.FramesReceived = 2
	assert.Equal(t, 25.0, req.ProgressPercentage())

	req.FramesReceived = 8
	assert.Equal(t, 100.0, req.ProgressPercentage())
	assert.True(t, req.Complete())

	zero := &VideoRequest{}
	assert.Equal(t, 0.0, zero.ProgressPercentage())
}
