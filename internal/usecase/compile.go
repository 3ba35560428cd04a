package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/framecast/compilation-service/internal/infra/metrics"
)

// CompileVideoUseCase is the worker-side consumption protocol. Deliveries
// are at-least-once; the queued->processing compare-and-set makes the
// pipeline idempotent, since a worker that loses the claim discards the
// delivery with no side effects.
type CompileVideoUseCase struct {
	ledger    port.Ledger
	frames    port.FrameStore
	compiler  port.Compiler
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       CompileVideoConfig
}

type CompileVideoConfig struct {
	TempDir             string
	MaxCompilationTime  time.Duration
	DownloadConcurrency int
	OpsNotifyEmail      string
}

func NewCompileVideoUseCase(
	ledger port.Ledger,
	frames port.FrameStore,
	compiler port.Compiler,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg CompileVideoConfig,
) *CompileVideoUseCase {
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 10
	}
	if cfg.MaxCompilationTime <= 0 {
		cfg.MaxCompilationTime = 5 * time.Minute
	}
	return &CompileVideoUseCase{
		ledger:    ledger,
		frames:    frames,
		compiler:  compiler,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// Execute handles one queue delivery. A nil return acknowledges the
// delivery. Errors are returned only before the claim is won (transient
// infrastructure trouble, safe to redeliver); after the claim, every failure
// is recorded on the ledger as failed and absorbed, so the worker keeps
// pulling jobs.
func (uc *CompileVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "CompileVideoUseCase.Execute")
	defer span.End()

	var job entity.CompilationJob
	if err := json.Unmarshal(rawMsg, &job); err != nil {
		uc.logger.Error("failed to unmarshal job", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(attribute.String("request.id", job.RequestID))
	log := uc.logger.With(zap.String("request_id", job.RequestID))

	// Claim the job. Losing the CAS means a duplicate delivery of an
	// already-claimed or already-terminal job: discard with no side effects.
	err := uc.ledger.Transition(ctx, job.RequestID, entity.StatusQueued, entity.StatusProcessing, port.StatusFields{})
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrConflict):
		log.Info("duplicate delivery, job already claimed or terminal")
		metrics.JobsProcessedTotal.WithLabelValues("duplicate").Inc()
		return nil
	case errors.Is(err, entity.ErrNotFound):
		log.Warn("job references unknown request, dead-lettering")
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unknown_request")
		return nil
	default:
		return fmt.Errorf("claim job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	totalTimer := time.Now()
	if err := uc.runPipeline(ctx, job, log); err != nil {
		uc.recordFailure(ctx, job, rawMsg, err, log)
		return nil
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.CompilationStageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *CompileVideoUseCase) runPipeline(ctx context.Context, job entity.CompilationJob, log *zap.Logger) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.RequestID)
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Verify every declared frame exists before fetching any bytes. A
	// missing frame is permanent: the completion counter said otherwise, so
	// the ledger and store disagree and a retry cannot fix it.
	verifyStart := time.Now()
	ctxVerify, spanVerify := tracer.Start(ctx, "verify_frames")
	if err := uc.verifyFrames(ctxVerify, job); err != nil {
		spanVerify.End()
		return err
	}
	spanVerify.End()
	metrics.CompilationStageDuration.WithLabelValues("verify").Observe(time.Since(verifyStart).Seconds())

	dlStart := time.Now()
	ctxDl, spanDl := tracer.Start(ctx, "download_frames")
	framePaths, err := uc.downloadFrames(ctxDl, job, framesDir)
	spanDl.End()
	if err != nil {
		return fmt.Errorf("download frames: %w", err)
	}
	metrics.CompilationStageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Hard wall-clock budget on the assembly; a deadline hit surfaces as a
	// failure, never an indefinite hang.
	compileStart := time.Now()
	ctxCompile, spanCompile := tracer.Start(ctx, "compile")
	compileCtx, cancel := context.WithTimeout(ctxCompile, uc.cfg.MaxCompilationTime)
	result, err := uc.compiler.Compile(compileCtx, port.CompilationInput{
		RequestID:    job.RequestID,
		FramePaths:   framePaths,
		FPS:          job.FPS,
		Quality:      job.Quality,
		OutputFormat: job.OutputFormat,
	}, workDir)
	cancel()
	spanCompile.End()
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	metrics.CompilationStageDuration.WithLabelValues("compile").Observe(time.Since(compileStart).Seconds())

	upStart := time.Now()
	ctxUp, spanUp := tracer.Start(ctx, "upload_video")
	videoKey, err := uc.frames.UploadVideo(ctxUp, job.RequestID, job.OutputFormat, result.OutputPath)
	spanUp.End()
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}
	metrics.CompilationStageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	err = uc.ledger.Transition(ctx, job.RequestID, entity.StatusProcessing, entity.StatusCompleted, port.StatusFields{
		VideoURL:        videoKey,
		CompilationTime: result.CompilationTime,
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	uc.publishStatusFor(ctx, job.RequestID, log)

	log.Info("compilation completed",
		zap.String("video_key", videoKey),
		zap.Float64("compilation_time", result.CompilationTime),
	)
	return nil
}

func (uc *CompileVideoUseCase) verifyFrames(ctx context.Context, job entity.CompilationJob) error {
	for n := 1; n <= job.TotalFrames; n++ {
		exists, err := uc.frames.FrameExists(ctx, job.RequestID, n)
		if err != nil {
			return fmt.Errorf("verify frame %d: %w", n, err)
		}
		if !exists {
			return fmt.Errorf("frame %d missing from storage: %w", n, entity.ErrIncompleteFrameSet)
		}
	}
	return nil
}

// downloadFrames fetches all frames with bounded concurrency. Destination
// paths are derived from the frame number, so the returned slice is in
// ascending frame order regardless of download completion order.
func (uc *CompileVideoUseCase) downloadFrames(ctx context.Context, job entity.CompilationJob, framesDir string) ([]string, error) {
	framePaths := make([]string, job.TotalFrames)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.DownloadConcurrency)
	for n := 1; n <= job.TotalFrames; n++ {
		n := n
		destPath := filepath.Join(framesDir, fmt.Sprintf("frame_%06d", n))
		framePaths[n-1] = destPath
		g.Go(func() error {
			return uc.frames.DownloadFrame(gctx, job.RequestID, n, destPath)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return framePaths, nil
}

func (uc *CompileVideoUseCase) recordFailure(ctx context.Context, job entity.CompilationJob, rawMsg []byte, cause error, log *zap.Logger) {
	log.Error("compilation failed", zap.Error(cause))

	err := uc.ledger.Transition(ctx, job.RequestID, entity.StatusProcessing, entity.StatusFailed, port.StatusFields{
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		log.Error("failed to mark request failed", zap.Error(err))
	}

	if errors.Is(cause, entity.ErrIncompleteFrameSet) {
		// Permanent: never auto-retried.
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, cause.Error())
		metrics.JobsProcessedTotal.WithLabelValues("incomplete").Inc()
	} else {
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	}

	uc.publishStatusFor(ctx, job.RequestID, log)

	if uc.notifier != nil && uc.cfg.OpsNotifyEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, uc.cfg.OpsNotifyEmail, job.RequestID, cause.Error())
	}
}

func (uc *CompileVideoUseCase) publishStatusFor(ctx context.Context, requestID string, log *zap.Logger) {
	req, err := uc.ledger.Get(ctx, requestID)
	if err != nil {
		log.Error("failed to load request for status publish", zap.Error(err))
		return
	}
	msg := entity.VideoStatusMessage{
		RequestID:       req.RequestID,
		Status:          req.Status,
		VideoURL:        req.VideoURL,
		ErrorMessage:    req.ErrorMessage,
		CompilationTime: req.CompilationTime,
		CompletedAt:     req.CompletedAt,
	}
	data, _ := json.Marshal(msg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
