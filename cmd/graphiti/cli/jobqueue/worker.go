package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Worker execution defaults.
const (
	// DefaultMaxParallel bounds the pool for parallel batches.
	DefaultMaxParallel = 4
	// DefaultBackoffBase is the first retry delay; each retry doubles it.
	DefaultBackoffBase = 10 * time.Second
	// defaultPollInterval is how often an idle worker re-checks the store.
	defaultPollInterval = 2 * time.Second
)

// Worker is the single background consumer of the job store. Sequential
// jobs run alone and in order; parallel jobs share a bounded pool.
type Worker struct {
	store       *Store
	dispatcher  *Dispatcher
	maxParallel int
	maxRetries  int
	backoffBase time.Duration
	poll        time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorker builds a worker over the store and dispatcher. Zero values
// take the defaults.
func NewWorker(store *Store, dispatcher *Dispatcher, maxParallel, maxRetries int, backoffBase time.Duration) *Worker {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	return &Worker{
		store:       store,
		dispatcher:  dispatcher,
		maxParallel: maxParallel,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		poll:        defaultPollInterval,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// StartIfPending starts the worker goroutine only when jobs are already
// queued, so an idle process carries no standing overhead. Returns
// whether the worker was started.
func (w *Worker) StartIfPending() bool {
	pending, err := w.store.PendingCount()
	if err != nil || pending < 1 {
		return false
	}
	w.Start()
	return true
}

// Start launches the worker goroutine. Safe to call more than once.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Wake nudges an idle worker to re-check the store, e.g. after Enqueue.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop signals the worker and waits for the job in progress (and any
// parallel siblings) to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.startOnce.Do(func() { close(w.done) }) // never started
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	ctx := context.Background()
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		batch, err := w.store.GetBatch(w.maxParallel)
		if err != nil {
			logging.Error(ctx, "reading job batch", slog.String("error", err.Error()))
			if !w.sleep(w.poll) {
				return
			}
			continue
		}
		if len(batch) == 0 {
			select {
			case <-w.stop:
				return
			case <-w.wake:
			case <-time.After(w.poll):
			}
			continue
		}

		if len(batch) == 1 && !batch[0].Parallel {
			w.executeJob(ctx, batch[0])
			continue
		}
		// Parallel siblings: one failing does not abort the others.
		p := pool.New().WithMaxGoroutines(w.maxParallel)
		for _, job := range batch {
			p.Go(func() { w.executeJob(ctx, job) })
		}
		p.Wait()
	}
}

// executeJob runs one job through dispatch, retrying with exponential
// backoff and dead-lettering after maxRetries failures.
func (w *Worker) executeJob(ctx context.Context, job Job) {
	err := w.dispatcher.Dispatch(ctx, job)
	if err == nil {
		if ackErr := w.store.Ack(job); ackErr != nil {
			logging.Error(ctx, "acking job", slog.String("job_id", job.ID), slog.String("error", ackErr.Error()))
		}
		return
	}

	logging.Warn(ctx, "job failed",
		slog.String("job_id", job.ID), slog.String("job_type", job.Type),
		slog.Int("attempts", job.Attempts), slog.String("error", err.Error()))

	// Backoff doubles per recorded attempt: base, 2*base, 4*base.
	delay := w.backoffBase << uint(job.Attempts)
	if !w.sleep(delay) {
		// Stopping; leave the job for the next run with its attempt
		// count unchanged.
		return
	}

	attempts, nackErr := w.store.Nack(job)
	if nackErr != nil {
		logging.Error(ctx, "nacking job", slog.String("job_id", job.ID), slog.String("error", nackErr.Error()))
		return
	}
	if attempts >= w.maxRetries {
		job.Attempts = attempts
		if dlErr := w.store.MoveToDeadLetter(job, err.Error()); dlErr != nil {
			logging.Error(ctx, "dead-lettering job", slog.String("job_id", job.ID), slog.String("error", dlErr.Error()))
			return
		}
		logging.Warn(ctx, "job moved to dead letter",
			slog.String("job_id", job.ID), slog.Int("retry_count", attempts))
	}
}

// sleep waits for d, interruptible by Stop. Returns false when stopping.
func (w *Worker) sleep(d time.Duration) bool {
	select {
	case <-w.stop:
		return false
	case <-time.After(d):
		return true
	}
}
