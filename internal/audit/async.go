package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/model"
)

// sleepHook is swapped in tests to avoid real backoff sleeps.
var sleepHook = time.Sleep

// AsyncSink queues records in memory and writes them to next from a single
// worker goroutine. Publish never blocks: a full queue is reported as
// model.ErrAuditWrite to the caller, and records that still fail after
// retries are logged and counted.
type AsyncSink struct {
	next        Sink
	queue       chan model.AuditRecord
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AsyncOptions tunes an AsyncSink. Zero values fall back to defaults.
type AsyncOptions struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// NewAsyncSink starts the worker. Call Close to drain and stop it.
func NewAsyncSink(next Sink, opts AsyncOptions) *AsyncSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	s := &AsyncSink{
		next:        next,
		queue:       make(chan model.AuditRecord, opts.QueueSize),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		timeout:     opts.Timeout,
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish enqueues rec. After Close it returns model.ErrAuditWrite.
func (s *AsyncSink) Publish(_ context.Context, rec model.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditFailures.WithLabelValues("closed").Inc()
		return fmt.Errorf("%w: sink closed", model.ErrAuditWrite)
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		metrics.AuditFailures.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("%w: queue full", model.ErrAuditWrite)
	}
}

// Close stops accepting records and waits until the queue is drained or ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		if err := s.write(rec); err != nil {
			metrics.AuditFailures.WithLabelValues("write").Inc()
			slog.Error("audit record dropped after retries",
				"id", rec.ID,
				"action", rec.Action,
				"error", err,
			)
		}
	}
}

func (s *AsyncSink) write(rec model.AuditRecord) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		lastErr = s.next.Publish(ctx, rec)
		cancel()
		if lastErr == nil {
			return nil
		}
		slog.Warn("audit write attempt failed", "id", rec.ID, "attempt", attempt, "error", lastErr)
		if attempt < s.maxAttempts {
			sleepHook(s.backoff * time.Duration(1<<uint(attempt-1)))
		}
	}
	return lastErr
}
