package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is returned when the queue cannot accept more work; the API
// layer maps it to 503.
var ErrQueueFull = errors.New("job queue full")

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("job queue closed")

// Job is one unit of accepted background work.
type Job struct {
	ID   string
	Run  func(ctx context.Context)
}

// Queue is a bounded in-process job queue with a fixed consumer pool.
// Accepted-then-backgrounded requests land here instead of fire-and-forget
// goroutines: shutdown can drain it, health checks can report its depth, and
// tests can synchronize on completion.
type Queue struct {
	jobs    chan Job
	wg      sync.WaitGroup
	pending atomic.Int64
	closed  atomic.Bool
}

// New creates a queue with the given capacity and starts workers consumers.
func New(ctx context.Context, capacity, workers int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 8
	}
	q := &Queue{jobs: make(chan Job, capacity)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	return q
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("Job panicked")
				}
				q.pending.Add(-1)
			}()
			job.Run(ctx)
		}()
	}
	log.Debug().Int("worker_id", id).Msg("Job worker stopped")
}

// Enqueue accepts a job or fails fast when the queue is full or closed.
func (q *Queue) Enqueue(job Job) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.pending.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of jobs accepted but not yet finished.
func (q *Queue) Depth() int {
	return int(q.pending.Load())
}

// Shutdown stops intake and waits for queued jobs to finish, or for ctx to
// expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	if q.closed.Swap(true) {
		return nil
	}
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
