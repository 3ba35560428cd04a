package port

import (
	"context"

	"github.com/framecast/compilation-service/internal/domain/entity"
)

// JobPublisher carries compilation jobs from ingestion to the workers over a
// durable, priority-ordered, at-least-once channel.
type JobPublisher interface {
	PublishJob(ctx context.Context, job entity.CompilationJob) error

	// Depth is the advisory number of jobs waiting on the queue. Never used
	// for correctness decisions.
	Depth(ctx context.Context) (int, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
