package worker

import (
	"time"

	"github.com/okian/coachboard/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxAttempts bounds how often a task is run before it is abandoned.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay before a failed task is queued again.
// The delay grows linearly with the attempt count.
func WithRetryDelay(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.retryDelay = d
		}
	}
}
