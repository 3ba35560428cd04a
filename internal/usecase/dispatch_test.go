package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/framecast/compilation-service/internal/infra/memory"
)

func newDispatchFixture(t *testing.T) (*DispatchUseCase, *memory.Ledger, *memory.JobQueue) {
	t.Helper()
	ledger := memory.NewLedger()
	queue := memory.NewJobQueue()
	uc := NewDispatchUseCase(ledger, queue, zap.NewNop(), DispatchConfig{
		RetryBaseDelay: time.Millisecond,
	})
	return uc, ledger, queue
}

func mustCreate(t *testing.T, uc *DispatchUseCase, id string, totalFrames int) *entity.VideoRequest {
	t.Helper()
	req, err := uc.CreateRequest(context.Background(), CreateRequestParams{
		RequestID:    id,
		TotalFrames:  totalFrames,
		OutputFormat: "mp4",
		FPS:          30,
		Quality:      entity.QualityMedium,
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequestRejectsDuplicateID(t *testing.T) {
	uc, _, _ := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 5)

	_, err := uc.CreateRequest(context.Background(), CreateRequestParams{
		RequestID:   "req-1",
		TotalFrames: 5,
	})
	assert.ErrorIs(t, err, entity.ErrConflict)
}

func TestRecordFrameOutOfRange(t *testing.T) {
	uc, _, _ := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 5)
	ctx := context.Background()

	_, _, err := uc.RecordFrame(ctx, "req-1", 0, "req-1/frame_000000.jpg")
	assert.ErrorIs(t, err, entity.ErrOutOfRange)

	_, _, err = uc.RecordFrame(ctx, "req-1", 6, "req-1/frame_000006.jpg")
	assert.ErrorIs(t, err, entity.ErrOutOfRange)

	_, _, err = uc.RecordFrame(ctx, "unknown", 1, "unknown/frame_000001.jpg")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestRecordFrameDuplicateIsNoOp(t *testing.T) {
	uc, ledger, queue := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 3)
	ctx := context.Background()

	received, dispatched, err := uc.RecordFrame(ctx, "req-1", 1, "req-1/frame_000001.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.False(t, dispatched)

	// Re-uploading the same slot acknowledges without moving the counter.
	received, dispatched, err = uc.RecordFrame(ctx, "req-1", 1, "req-1/frame_000001.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.False(t, dispatched)

	req, err := ledger.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, req.FramesReceived)
	assert.Equal(t, entity.StatusPending, req.Status)
	assert.Empty(t, queue.Jobs())
}

func TestRecordFrameDispatchesOnCompletion(t *testing.T) {
	uc, ledger, queue := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 3)
	ctx := context.Background()

	for n := 1; n <= 2; n++ {
		_, dispatched, err := uc.RecordFrame(ctx, "req-1", n, fmt.Sprintf("req-1/frame_%06d.jpg", n))
		require.NoError(t, err)
		assert.False(t, dispatched)
	}

	received, dispatched, err := uc.RecordFrame(ctx, "req-1", 3, "req-1/frame_000003.jpg")
	require.NoError(t, err)
	assert.Equal(t, 3, received)
	assert.True(t, dispatched)

	req, err := ledger.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, req.Status)

	jobs := queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "req-1", jobs[0].RequestID)
	assert.Equal(t, 3, jobs[0].TotalFrames)
	assert.Equal(t, entity.PriorityNormal, jobs[0].Priority)
}

// The final frame slot is hammered by concurrent uploaders; the
// pending->queued compare-and-set must admit exactly one publisher.
func TestRecordFrameConcurrentFinalFrameDispatchesOnce(t *testing.T) {
	const uploaders = 16

	uc, ledger, queue := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 8)
	ctx := context.Background()

	for n := 1; n <= 7; n++ {
		_, _, err := uc.RecordFrame(ctx, "req-1", n, fmt.Sprintf("req-1/frame_%06d.jpg", n))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	dispatchCount := 0

	start := make(chan struct{})
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, dispatched, err := uc.RecordFrame(ctx, "req-1", 8, "req-1/frame_000008.jpg")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if dispatched {
				dispatchCount++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs, "duplicate uploads and lost races are not errors")
	assert.Equal(t, 1, dispatchCount, "exactly one caller wins the dispatch")

	req, err := ledger.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, req.Status)
	assert.Equal(t, 8, req.FramesReceived, "counter never exceeds total under duplicates")

	assert.Len(t, queue.Jobs(), 1, "exactly one job reaches the queue")
}

func TestRetryRedispatchesAtElevatedPriority(t *testing.T) {
	uc, ledger, queue := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 2)
	ctx := context.Background()

	for n := 1; n <= 2; n++ {
		_, _, err := uc.RecordFrame(ctx, "req-1", n, fmt.Sprintf("req-1/frame_%06d.jpg", n))
		require.NoError(t, err)
	}
	_, ok := queue.Dequeue()
	require.True(t, ok)

	// Walk the request to failed the way a worker would.
	require.NoError(t, ledger.Transition(ctx, "req-1", entity.StatusQueued, entity.StatusProcessing, port.StatusFields{}))
	require.NoError(t, ledger.Transition(ctx, "req-1", entity.StatusProcessing, entity.StatusFailed, port.StatusFields{
		ErrorMessage: "ffmpeg error: codec failure",
	}))

	require.NoError(t, uc.Retry(ctx, "req-1"))

	req, err := ledger.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, req.Status)
	assert.Empty(t, req.ErrorMessage, "requeue clears the prior failure")

	jobs := queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, entity.PriorityRetry, jobs[0].Priority)
}

func TestRetryRejectsNonFailedRequests(t *testing.T) {
	uc, ledger, _ := newDispatchFixture(t)
	mustCreate(t, uc, "pending-req", 2)
	ctx := context.Background()

	err := uc.Retry(ctx, "pending-req")
	assert.ErrorIs(t, err, entity.ErrConflict)

	mustCreate(t, uc, "done-req", 1)
	_, _, err = uc.RecordFrame(ctx, "done-req", 1, "done-req/frame_000001.jpg")
	require.NoError(t, err)
	require.NoError(t, ledger.Transition(ctx, "done-req", entity.StatusQueued, entity.StatusProcessing, port.StatusFields{}))
	require.NoError(t, ledger.Transition(ctx, "done-req", entity.StatusProcessing, entity.StatusCompleted, port.StatusFields{
		VideoURL: "done-req/compiled_video.mp4",
	}))

	err = uc.Retry(ctx, "done-req")
	assert.ErrorIs(t, err, entity.ErrConflict, "completed requests are immutable")

	err = uc.Retry(ctx, "no-such-request")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestRetryConcurrentCallsDispatchOnce(t *testing.T) {
	const callers = 8

	uc, ledger, queue := newDispatchFixture(t)
	mustCreate(t, uc, "req-1", 1)
	ctx := context.Background()

	_, _, err := uc.RecordFrame(ctx, "req-1", 1, "req-1/frame_000001.jpg")
	require.NoError(t, err)
	_, ok := queue.Dequeue()
	require.True(t, ok)
	require.NoError(t, ledger.Transition(ctx, "req-1", entity.StatusQueued, entity.StatusProcessing, port.StatusFields{}))
	require.NoError(t, ledger.Transition(ctx, "req-1", entity.StatusProcessing, entity.StatusFailed, port.StatusFields{
		ErrorMessage: "timeout",
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := uc.Retry(ctx, "req-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, entity.ErrConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "the failed->queued compare-and-set admits one winner")
	assert.Len(t, queue.Jobs(), 1)
}

type failingQueue struct{}

func (failingQueue) PublishJob(context.Context, entity.CompilationJob) error {
	return errors.New("broker unavailable")
}

func (failingQueue) Depth(context.Context) (int, error) {
	return 0, errors.New("broker unavailable")
}

func TestRecordFramePublishFailureSurfacesTransientIO(t *testing.T) {
	ledger := memory.NewLedger()
	uc := NewDispatchUseCase(ledger, failingQueue{}, zap.NewNop(), DispatchConfig{
		RetryBaseDelay: time.Millisecond,
	})
	ctx := context.Background()

	req := mustCreate(t, uc, "req-1", 1)
	_, _, err := uc.RecordFrame(ctx, req.RequestID, 1, "req-1/frame_000001.jpg")
	assert.ErrorIs(t, err, entity.ErrTransientIO)

	// The won CAS is not rolled back; the request stays queued for an
	// operator or reconciler to re-publish.
	got, err := ledger.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, got.Status)
}
