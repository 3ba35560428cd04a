package port

import (
	"context"

	"github.com/framecast/compilation-service/internal/domain/entity"
)

// StatusFields carries the optional fields applied alongside a status
// transition. The ledger enforces the field invariants itself: VideoURL is
// kept only on completed, ErrorMessage only on failed (and cleared on every
// other transition, including the failed->queued retry).
type StatusFields struct {
	VideoURL        string
	ErrorMessage    string
	CompilationTime float64
}

type RequestFilter struct {
	Status entity.Status // empty matches all
	Limit  int
	Offset int
}

// Ledger is the durable store of request and frame metadata; the sole source
// of truth for completion and status.
type Ledger interface {
	// CreateRequest persists a new pending request. entity.ErrConflict when
	// the request id already exists.
	CreateRequest(ctx context.Context, req *entity.VideoRequest) error

	// RecordFrame atomically records a frame and increments framesReceived,
	// returning the resulting count and the declared total. Recording an
	// already-known (requestID, frameNumber) is a no-op returning the
	// current count. entity.ErrNotFound for unknown requests,
	// entity.ErrOutOfRange when frameNumber is outside 1..totalFrames.
	RecordFrame(ctx context.Context, requestID string, frameNumber int, storageKey string) (received, total int, err error)

	// Transition performs a single compare-and-set on the request status,
	// conditioned on the current value. entity.ErrInvalidTransition when the
	// edge is not in the lifecycle, entity.ErrConflict when the edge is
	// legal but the current status is not `from` (lost race),
	// entity.ErrNotFound for unknown requests.
	Transition(ctx context.Context, requestID string, from, to entity.Status, fields StatusFields) error

	Get(ctx context.Context, requestID string) (*entity.VideoRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]*entity.VideoRequest, error)
}
