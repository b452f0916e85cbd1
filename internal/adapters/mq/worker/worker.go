// Package worker runs rename propagation tasks that failed inline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/coachboard/internal/adapters/mq/queue"
	repository "github.com/okian/coachboard/internal/adapters/repository"
	"github.com/okian/coachboard/internal/domain/dedupe"
	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/pkg/logger"
	"github.com/okian/coachboard/pkg/metrics"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryDelay   = 2 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Renamer rewrites athlete names on evaluation records. The profile is read
// back before every attempt so a retry never restores a superseded name.
type Renamer interface {
	GetAthlete(ctx context.Context, id string) (model.Athlete, error)
	RenameAthlete(ctx context.Context, oldNames []string, newName string) (int64, error)
}

// Queue defines how workers receive and return tasks.
type Queue interface {
	Enqueue(ctx context.Context, t queue.Task) bool
	Dequeue(ctx context.Context) <-chan queue.Task
}

// InMemoryWorker consumes tasks until its queue closes or it is stopped.
type InMemoryWorker struct {
	queue   Queue
	renamer Renamer
	deduper dedupe.Deduper
	name    string

	maxAttempts int
	retryDelay  time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker. deduper may be nil.
func NewInMemoryWorker(q Queue, renamer Renamer, deduper dedupe.Deduper, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		renamer:     renamer,
		deduper:     deduper,
		name:        "propagation-worker",
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes tasks until ctx is canceled, Shutdown is called or the queue
// closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// Canceled on return so the dequeue goroutine does not hold a task for
	// a reader that is gone.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		}
	}
}

// Shutdown stops the worker and waits for the current task.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) release(ctx context.Context, t queue.Task) {
	if w.deduper != nil {
		w.deduper.Unrecord(ctx, t.Key())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, t queue.Task) {
	start := time.Now()
	n, target, err := w.rename(ctx, t)
	if errors.Is(err, repository.ErrNotFound) {
		w.release(ctx, t)
		w.logger.Info(ctx, "rename propagation dropped, profile deleted",
			logger.String("profileID", t.ProfileID),
			logger.Any("oldNames", t.OldNames),
		)
		return
	}
	if err == nil {
		metrics.RecordPropagatedRecords(n)
		w.release(ctx, t)
		w.logger.Info(ctx, "rename propagated on retry",
			logger.String("profileID", t.ProfileID),
			logger.Any("oldNames", t.OldNames),
			logger.String("newName", target),
			logger.Int("attempt", t.Attempt+1),
			logger.Int64("renamed", n),
			logger.Duration("took", time.Since(start)),
		)
		return
	}

	metrics.RecordPropagationFailure()
	metrics.RecordErrorByType("propagation_error", "error")
	t.Attempt++
	fields := []logger.Field{
		logger.String("profileID", t.ProfileID),
		logger.Any("oldNames", t.OldNames),
		logger.String("newName", t.NewName),
		logger.Int("attempt", t.Attempt),
		logger.Error(err),
	}
	if t.Attempt >= w.maxAttempts {
		metrics.RecordPropagationDropped()
		w.release(ctx, t)
		w.logger.Error(ctx, "rename propagation abandoned", fields...)
		return
	}

	w.logger.Warn(ctx, "rename propagation failed, retrying", fields...)
	metrics.RecordPropagationRetry()
	delay := w.retryDelay * time.Duration(t.Attempt)
	time.AfterFunc(delay, func() {
		if !w.queue.Enqueue(context.Background(), t) {
			metrics.RecordPropagationDropped()
			w.release(context.Background(), t)
			w.logger.Error(context.Background(), "rename propagation dropped, queue unavailable", fields...)
		}
	})
}

// rename moves every name the task knows about onto the profile's current
// name. A later rename may have happened since the task was queued.
func (w *InMemoryWorker) rename(ctx context.Context, t queue.Task) (int64, string, error) {
	current, err := w.renamer.GetAthlete(ctx, t.ProfileID)
	if err != nil {
		return 0, "", fmt.Errorf("reload profile %s: %w", t.ProfileID, err)
	}
	target := identity.Name(current.Name)
	old := identity.Distinct(target, append(append([]string(nil), t.OldNames...), t.NewName)...)
	if len(old) == 0 {
		return 0, target, nil
	}
	n, err := w.renamer.RenameAthlete(ctx, old, target)
	return n, target, err
}

// Pool manages propagation workers and admits new tasks.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	deduper dedupe.Deduper
	started atomic.Bool
	logger  logger.Logger
}

// NewPool creates workerCount workers sharing q. Duplicate in-flight tasks
// are dropped by deduper, which may be nil.
func NewPool(workerCount int, q Queue, renamer Renamer, deduper dedupe.Deduper, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		deduper: deduper,
		logger:  logger.Get().Named("propagation-pool"),
	}
	for i := range p.workers {
		workerOpts := append([]Option{WithName("propagation-worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, renamer, deduper, workerOpts...)
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	p.started.Store(true)
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Submit queues t unless an identical task is already in flight. It returns
// false when the task could not be queued.
func (p *Pool) Submit(ctx context.Context, t queue.Task) bool {
	key := t.Key()
	if p.deduper != nil && p.deduper.SeenAndRecord(ctx, key) {
		p.logger.Debug(ctx, "rename propagation already pending", logger.String("task", t.String()))
		return true
	}
	if !p.queue.Enqueue(ctx, t) {
		if p.deduper != nil {
			p.deduper.Unrecord(ctx, key)
		}
		metrics.RecordPropagationDropped()
		return false
	}
	return true
}

// Shutdown closes the queue and waits for the workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
