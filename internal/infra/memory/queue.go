package memory

import (
	"context"
	"sync"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
)

// JobQueue is a priority-ordered in-memory queue: higher priority bands
// first, FIFO by enqueue order within a band.
type JobQueue struct {
	mu   sync.Mutex
	jobs []entity.CompilationJob
}

func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

func (q *JobQueue) PublishJob(_ context.Context, job entity.CompilationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Insert behind the last job of equal or higher priority.
	i := len(q.jobs)
	for i > 0 && q.jobs[i-1].Priority < job.Priority {
		i--
	}
	q.jobs = append(q.jobs, entity.CompilationJob{})
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = job
	return nil
}

func (q *JobQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

// Dequeue pops the next job, or reports false when the queue is empty.
func (q *JobQueue) Dequeue() (entity.CompilationJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return entity.CompilationJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Jobs returns a snapshot of the queued jobs in dequeue order.
func (q *JobQueue) Jobs() []entity.CompilationJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]entity.CompilationJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

var _ port.JobPublisher = (*JobQueue)(nil)
