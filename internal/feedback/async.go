package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/dizai/internal/observe"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrBufferFull is returned by [Async.Append] when the record was dropped
	// because the queue is full.
	ErrBufferFull = errors.New("feedback: buffer full, record dropped")

	// ErrClosed is returned by [Async.Append] after [Async.Close].
	ErrClosed = errors.New("feedback: sink closed")
)

// AsyncOption configures an [Async].
type AsyncOption func(*Async)

// WithBuffer sets the queue capacity. Defaults to 64.
func WithBuffer(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.buffer = n
		}
	}
}

// WithWriteTimeout bounds each write to the wrapped sink. Defaults to 10 s.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// WithAsyncMetrics overrides the metrics sink.
func WithAsyncMetrics(m *observe.Metrics) AsyncOption {
	return func(a *Async) { a.metrics = m }
}

// Async decouples a slow [Sink] from the caller. Append only enqueues: it
// never blocks and never reports a failure of the wrapped sink. Write errors
// are logged by the background worker. When the queue is full the record is
// dropped, logged and counted.
type Async struct {
	next         Sink
	buffer       int
	writeTimeout time.Duration
	metrics      *observe.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

var _ Sink = (*Async)(nil)

// NewAsync starts a background worker writing to next.
func NewAsync(next Sink, opts ...AsyncOption) *Async {
	a := &Async{
		next:         next,
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.queue = make(chan Record, a.buffer)
	a.done = make(chan struct{})
	go a.run()
	return a
}

// Append enqueues rec. It returns [ErrBufferFull] or [ErrClosed] when the
// record was not accepted; callers are expected to log and carry on.
func (a *Async) Append(ctx context.Context, rec Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		a.metrics.FeedbackDropped.Add(ctx, 1)
		observe.Logger(ctx).Warn("feedback record dropped", "id", rec.ID, "profile", rec.Profile)
		return ErrBufferFull
	}
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done. It is safe to call more than once.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.queue {
		a.write(rec)
	}
}

func (a *Async) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()
	if err := a.next.Append(ctx, rec); err != nil {
		observe.Logger(ctx).Warn("feedback append failed",
			"id", rec.ID,
			"profile", rec.Profile,
			"err", err,
		)
	}
}
