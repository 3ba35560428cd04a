package entity

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// validTransitions is the request lifecycle: pending -> queued -> processing,
// then completed (terminal) or failed, and failed -> queued on retry.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusQueued},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, t := range validTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh, QualityUltra:
		return true
	}
	return false
}

// VideoRequest is the ledger record for one compilation request. The ledger
// is the sole source of truth for completion and status; all mutation goes
// through it.
type VideoRequest struct {
	RequestID       string
	TotalFrames     int
	FramesReceived  int
	Status          Status
	OutputFormat    string
	FPS             int
	Quality         Quality
	VideoURL        string
	ErrorMessage    string
	CompilationTime float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewVideoRequest builds a pending request. A request id is assigned when the
// caller did not provide one.
func NewVideoRequest(requestID string, totalFrames int, format string, fps int, quality Quality) *VideoRequest {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &VideoRequest{
		RequestID:    requestID,
		TotalFrames:  totalFrames,
		Status:       StatusPending,
		OutputFormat: format,
		FPS:          fps,
		Quality:      quality,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Complete reports whether every declared frame has been recorded.
func (r *VideoRequest) Complete() bool {
	return r.FramesReceived >= r.TotalFrames
}

// ProgressPercentage is framesReceived over totalFrames, 0-100.
func (r *VideoRequest) ProgressPercentage() float64 {
	if r.TotalFrames == 0 {
		return 0
	}
	return float64(r.FramesReceived) / float64(r.TotalFrames) * 100
}
