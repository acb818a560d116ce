// Package worker runs background jobs off the request path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// JobFunc is a unit of background work.
type JobFunc func(ctx context.Context) error

// Counts tallies job outcomes for a queue.
type Counts struct {
	Done     int64
	Failed   int64
	Rejected int64
}

// Queue owns a buffered job channel and the goroutines draining it.
// Submit never blocks: a full queue rejects the job. With one worker jobs run
// strictly in submission order.
type Queue struct {
	ctx    context.Context
	jobs   chan JobFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	done     atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

// NewQueue starts numWorkers goroutines over a queue of the given size. Jobs
// receive ctx; cancelling it does not stop the workers, only Close does.
func NewQueue(ctx context.Context, numWorkers, size int, logger *slog.Logger) *Queue {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if size <= 0 {
		size = 1
	}

	q := &Queue{
		ctx:    ctx,
		jobs:   make(chan JobFunc, size),
		logger: logger,
	}
	q.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go q.loop(i)
	}

	logger.Debug("Worker queue started", "workers", numWorkers, "capacity", size)
	return q
}

func (q *Queue) loop(workerID int) {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.run(job); err != nil {
			q.failed.Add(1)
			q.logger.Error("Background job failed", "worker_id", workerID, "error", err)
			continue
		}
		q.done.Add(1)
	}
}

// run converts a panic into an error so one bad job cannot kill a worker.
func (q *Queue) run(job JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(q.ctx)
}

// Submit enqueues job and reports whether it was accepted.
func (q *Queue) Submit(job JobFunc) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.rejected.Add(1)
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.rejected.Add(1)
		q.logger.Warn("Worker queue full, dropping job", "capacity", cap(q.jobs))
		return false
	}
}

// Counts returns the finished, failed and rejected job totals so far.
func (q *Queue) Counts() Counts {
	return Counts{
		Done:     q.done.Load(),
		Failed:   q.failed.Load(),
		Rejected: q.rejected.Load(),
	}
}

// Close stops accepting jobs and waits until every queued job has run.
// It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
