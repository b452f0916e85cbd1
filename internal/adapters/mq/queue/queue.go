// Package queue holds rename propagation tasks waiting for a worker.
package queue

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/pkg/metrics"
)

const defaultCapacity = 1024

// Task asks for evaluations named OldNames to be renamed to NewName.
type Task struct {
	ProfileID string
	OldNames  []string
	NewName   string
	// Attempt counts failed runs so far.
	Attempt int
}

// Key identifies the work a task performs, independent of attempt count.
func (t Task) Key() string {
	keys := make([]string, 0, len(t.OldNames))
	for _, n := range t.OldNames {
		keys = append(keys, identity.Key(n))
	}
	sort.Strings(keys)
	return t.ProfileID + "|" + strings.Join(keys, ",") + "|" + t.NewName
}

func (t Task) String() string {
	return t.ProfileID + ": " + strings.Join(t.OldNames, ", ") + " -> " + t.NewName + " (attempt " + strconv.Itoa(t.Attempt) + ")"
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue returns false if the queue is full or closed.
	Enqueue(ctx context.Context, t Task) bool

	// Dequeue returns a channel of tasks, closed once the queue is closed
	// and drained or ctx is done. Callers cancel ctx when they stop reading.
	Dequeue(ctx context.Context) <-chan Task

	Len(ctx context.Context) int

	// Close stops accepting tasks.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks    chan Task
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.capacity)
	metrics.UpdatePropagationQueueSize(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.tasks <- t:
		metrics.UpdatePropagationQueueSize(len(q.tasks))
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-q.tasks:
				if !ok {
					return
				}
				metrics.UpdatePropagationQueueSize(len(q.tasks))
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
