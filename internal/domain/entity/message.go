package entity

import "time"

// Queue priority bands. Retries jump the normal band so operator-triggered
// re-dispatches are not stuck behind the backlog.
const (
	PriorityNormal uint8 = 1
	PriorityRetry  uint8 = 5
)

// CompilationJob is the message carried on the compilation queue. It is
// ephemeral: the ledger remains authoritative for all state.
type CompilationJob struct {
	RequestID    string    `json:"request_id"`
	TotalFrames  int       `json:"total_frames"`
	OutputFormat string    `json:"output_format"`
	FPS          int       `json:"fps"`
	Quality      Quality   `json:"quality"`
	Priority     uint8     `json:"priority"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// VideoStatusMessage is published to the status queue after each terminal
// worker transition. Observability only; never used for correctness.
type VideoStatusMessage struct {
	RequestID       string     `json:"request_id"`
	Status          Status     `json:"status"`
	VideoURL        string     `json:"video_url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CompilationTime float64    `json:"compilation_time,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
