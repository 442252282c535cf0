package advisory

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// QueueAttempts before a job becomes a permanent failure
	QueueAttempts = 3
	queueBackoff  = 2 * time.Second
	queueBuffer   = 64
)

// Job is one unit of background work
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs jobs on a small worker pool with bounded retries. Failed jobs
// retry with linear backoff inside the worker; after the attempt budget
// they terminate as permanent failures.
type Queue struct {
	mu     sync.Mutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
	cancel func()
	sleep  func(time.Duration)
	log    logrus.FieldLogger
}

// NewQueue starts the given number of workers
func NewQueue(workers int, log logrus.FieldLogger) *Queue {
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		jobs:   make(chan Job, queueBuffer),
		cancel: cancel,
		sleep:  time.Sleep,
		log:    log,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx)
	}

	return q
}

// Enqueue a job; blocks when the buffer is full. Jobs offered after Close
// are dropped, so late timer callbacks cannot hit a closed channel.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.WithField("job", job.Name).Warn("queue closed, dropping job")
		return
	}

	q.jobs <- job
}

// Close stops accepting work and waits for in-flight jobs
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for job := range q.jobs {
		q.run(ctx, job)
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	log := q.log.WithField("job", job.Name)

	for attempt := 1; attempt <= QueueAttempts; attempt++ {
		err := job.Run(ctx)
		if err == nil {
			return
		}

		if ctx.Err() != nil {
			log.WithError(err).Warn("job abandoned, queue shutting down")
			return
		}

		if attempt == QueueAttempts {
			log.WithError(err).Error("job failed permanently")
			return
		}

		log.WithError(err).WithField("attempt", attempt).Warn("job failed, retrying")
		q.sleep(queueBackoff * time.Duration(attempt))
	}
}
