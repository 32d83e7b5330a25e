package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/events"
)

// Queue runs event handlers off the publishing goroutine. Every delivery gets
// its own deadline. When the buffer is full the event is dropped and logged.
type Queue struct {
	jobs    chan job
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	name    string
	handler events.EventHandler
	event   events.Event
}

// NewQueue starts workers goroutines draining a buffer of size jobs.
func NewQueue(workers, size int, timeout time.Duration, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		jobs:    make(chan job, size),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

// Wrap returns a handler that enqueues the event for handler and returns
// immediately.
func (q *Queue) Wrap(name string, handler events.EventHandler) events.EventHandler {
	return func(_ context.Context, event events.Event) error {
		q.mu.RLock()
		defer q.mu.RUnlock()
		if q.closed {
			q.logger.Warn("event dropped after shutdown", zap.String("handler", name), zap.String("event_type", string(event.Type)))
			return nil
		}
		select {
		case q.jobs <- job{name: name, handler: handler, event: event}:
		default:
			q.logger.Warn("event queue full, dropping event", zap.String("handler", name), zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.deliver(j)
	}
}

func (q *Queue) deliver(j job) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := j.handler(ctx, j.event); err != nil {
		q.logger.Warn("event handler failed",
			zap.String("handler", j.name),
			zap.String("event_id", j.event.ID),
			zap.String("event_type", string(j.event.Type)),
			zap.Error(err))
	}
}
