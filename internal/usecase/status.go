package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
)

// StatusUseCase is the read path over the ledger: it composes request fields
// into a status view and generates a time-limited artifact URL once a
// request is completed.
type StatusUseCase struct {
	ledger     port.Ledger
	artifacts  port.FrameStore
	queue      port.JobPublisher
	logger     *zap.Logger
	presignTTL time.Duration
}

func NewStatusUseCase(ledger port.Ledger, artifacts port.FrameStore, queue port.JobPublisher, logger *zap.Logger, presignTTL time.Duration) *StatusUseCase {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &StatusUseCase{
		ledger:     ledger,
		artifacts:  artifacts,
		queue:      queue,
		logger:     logger,
		presignTTL: presignTTL,
	}
}

type Progress struct {
	FramesReceived int     `json:"frames_received"`
	TotalFrames    int     `json:"total_frames"`
	Percentage     float64 `json:"percentage"`
}

type StatusView struct {
	RequestID       string        `json:"request_id"`
	Status          entity.Status `json:"status"`
	Progress        Progress      `json:"progress"`
	IsComplete      bool          `json:"is_complete"`
	VideoURL        string        `json:"video_url,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CompilationTime float64       `json:"compilation_time,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

func (uc *StatusUseCase) GetStatus(ctx context.Context, requestID string) (*StatusView, error) {
	req, err := uc.ledger.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		RequestID: req.RequestID,
		Status:    req.Status,
		Progress: Progress{
			FramesReceived: req.FramesReceived,
			TotalFrames:    req.TotalFrames,
			Percentage:     req.ProgressPercentage(),
		},
		IsComplete:      req.Status == entity.StatusCompleted,
		ErrorMessage:    req.ErrorMessage,
		CompilationTime: req.CompilationTime,
		CreatedAt:       req.CreatedAt,
		CompletedAt:     req.CompletedAt,
	}

	if req.Status == entity.StatusCompleted {
		url, err := uc.artifacts.PresignedVideoURL(ctx, req.RequestID, req.OutputFormat, uc.presignTTL)
		if err != nil {
			// The ledger view is still useful; fall back to the raw key.
			uc.logger.Warn("presign artifact url failed",
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
			url = req.VideoURL
		}
		view.VideoURL = url
	}
	return view, nil
}

func (uc *StatusUseCase) List(ctx context.Context, filter port.RequestFilter) ([]*entity.VideoRequest, error) {
	return uc.ledger.List(ctx, filter)
}

// Stats are advisory operational numbers, never used for correctness.
type Stats struct {
	QueueDepth int `json:"queue_depth"`
}

func (uc *StatusUseCase) Stats(ctx context.Context) (*Stats, error) {
	depth, err := uc.queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{QueueDepth: depth}, nil
}
