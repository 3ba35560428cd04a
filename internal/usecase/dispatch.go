package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/framecast/compilation-service/internal/infra/metrics"
)

// publishAttempts bounds the in-process retry of a queue publish after a won
// CAS. The request stays queued if all attempts fail; the error surfaces as
// TransientIO rather than being dropped.
const publishAttempts = 3

// DispatchUseCase is the lifecycle coordinator: it records frame arrivals
// and decides, under concurrent uploads, exactly when a request has become
// complete and must be dispatched for compilation exactly once.
type DispatchUseCase struct {
	ledger    port.Ledger
	queue     port.JobPublisher
	logger    *zap.Logger
	baseDelay time.Duration
}

type DispatchConfig struct {
	RetryBaseDelay time.Duration
}

func NewDispatchUseCase(ledger port.Ledger, queue port.JobPublisher, logger *zap.Logger, cfg DispatchConfig) *DispatchUseCase {
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &DispatchUseCase{
		ledger:    ledger,
		queue:     queue,
		logger:    logger,
		baseDelay: baseDelay,
	}
}

type CreateRequestParams struct {
	RequestID    string // optional; assigned when empty
	TotalFrames  int
	OutputFormat string
	FPS          int
	Quality      entity.Quality
}

func (uc *DispatchUseCase) CreateRequest(ctx context.Context, p CreateRequestParams) (*entity.VideoRequest, error) {
	req := entity.NewVideoRequest(p.RequestID, p.TotalFrames, p.OutputFormat, p.FPS, p.Quality)
	if err := uc.ledger.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	uc.logger.Info("request created",
		zap.String("request_id", req.RequestID),
		zap.Int("total_frames", req.TotalFrames),
	)
	return req, nil
}

// RecordFrame records one frame arrival and, when this arrival crosses the
// completion threshold, attempts the pending->queued compare-and-set.
// Exactly one of N concurrent callers wins the CAS and publishes the job;
// losers (including duplicate uploads of the final slot) return dispatched
// false with no further action.
func (uc *DispatchUseCase) RecordFrame(ctx context.Context, requestID string, frameNumber int, storageKey string) (received int, dispatched bool, err error) {
	received, total, err := uc.ledger.RecordFrame(ctx, requestID, frameNumber, storageKey)
	if err != nil {
		return 0, false, err
	}
	metrics.FramesRecordedTotal.Inc()

	if received < total {
		return received, false, nil
	}

	err = uc.ledger.Transition(ctx, requestID, entity.StatusPending, entity.StatusQueued, port.StatusFields{})
	if err != nil {
		if errors.Is(err, entity.ErrConflict) {
			// Another caller crossed first; this dispatch epoch is theirs.
			metrics.DispatchTotal.WithLabelValues("lost").Inc()
			return received, false, nil
		}
		return received, false, err
	}
	metrics.DispatchTotal.WithLabelValues("won").Inc()

	if err := uc.publishFor(ctx, requestID, entity.PriorityNormal); err != nil {
		return received, false, err
	}

	uc.logger.Info("request dispatched for compilation",
		zap.String("request_id", requestID),
		zap.Int("total_frames", total),
	)
	return received, true, nil
}

// Retry re-dispatches a failed request at elevated priority. Preconditions:
// status failed and all frames present; anything else is a Conflict. The
// failed->queued CAS resolves simultaneous retries to a single winner, the
// same discipline as the initial dispatch.
func (uc *DispatchUseCase) Retry(ctx context.Context, requestID string) error {
	req, err := uc.ledger.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != entity.StatusFailed {
		return fmt.Errorf("retry requires a failed request, status is %s: %w", req.Status, entity.ErrConflict)
	}
	if !req.Complete() {
		return fmt.Errorf("retry requires all frames, have %d of %d: %w",
			req.FramesReceived, req.TotalFrames, entity.ErrConflict)
	}

	// The transition clears errorMessage on the ledger.
	err = uc.ledger.Transition(ctx, requestID, entity.StatusFailed, entity.StatusQueued, port.StatusFields{})
	if err != nil {
		return err
	}
	metrics.RetriesTotal.Inc()

	if err := uc.publishFor(ctx, requestID, entity.PriorityRetry); err != nil {
		return err
	}

	uc.logger.Info("request re-dispatched after failure",
		zap.String("request_id", requestID),
	)
	return nil
}

// publishFor builds the job from the authoritative ledger record and
// publishes it, retrying transient queue failures with exponential backoff.
// No distributed transaction spans the CAS and the publish; a lost publish
// leaves the request queued and surfaces TransientIO to the caller.
func (uc *DispatchUseCase) publishFor(ctx context.Context, requestID string, priority uint8) error {
	req, err := uc.ledger.Get(ctx, requestID)
	if err != nil {
		return err
	}

	job := entity.CompilationJob{
		RequestID:    req.RequestID,
		TotalFrames:  req.TotalFrames,
		OutputFormat: req.OutputFormat,
		FPS:          req.FPS,
		Quality:      req.Quality,
		Priority:     priority,
		EnqueuedAt:   time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if lastErr = uc.queue.PublishJob(ctx, job); lastErr == nil {
			return nil
		}
		uc.logger.Warn("job publish failed",
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == publishAttempts {
			break
		}
		delay := uc.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("publish job for %s: %v: %w", requestID, lastErr, entity.ErrTransientIO)
}
