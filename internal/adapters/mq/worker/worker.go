// Package worker drains the notification queue into delivery sinks such as
// the websocket hub and the redis publisher.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/pkg/logger"
	"github.com/okian/rumble/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultRetries      = 2
	defaultBackoff      = 50 * time.Millisecond
	poolShutdownTimeout = 10 * time.Second
)

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan notify.Event
}

// Sink delivers one event somewhere. Errors are retried, then dropped.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e notify.Event) error
}

// InMemoryWorker pulls events off a queue and hands each one to every sink.
type InMemoryWorker struct {
	queue Queue
	sinks []Sink
	cfg   config

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

func defaultConfig() config {
	return config{name: "worker", retries: defaultRetries, backoff: defaultBackoff}
}

// NewInMemoryWorker creates a worker delivering to sinks.
func NewInMemoryWorker(q Queue, sinks []Sink, opts ...Option) *InMemoryWorker {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newWorker(q, sinks, cfg)
}

func newWorker(q Queue, sinks []Sink, cfg config) *InMemoryWorker {
	l := cfg.logger
	if l == nil {
		l = logger.Get()
	}
	return &InMemoryWorker{
		queue:    q,
		sinks:    sinks,
		cfg:      cfg,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   l.Named(cfg.name),
	}
}

// Run delivers events until ctx is done, Shutdown is called or the queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.process(ctx, e)
		}
	}
}

// Shutdown stops the worker and waits for the event in flight.
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

func (w *InMemoryWorker) process(ctx context.Context, e notify.Event) { //nolint:gocritic // hugeParam: events travel by value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	for _, s := range w.sinks {
		if err := w.deliver(ctx, s, e); err != nil {
			metrics.RecordWorkerError()
			metrics.RecordNotificationDropped("sink_error")
			metrics.RecordErrorByComponent("worker", s.Name())
			w.logger.Error(ctx, "notification dropped",
				logger.String("sink", s.Name()),
				logger.String("event_id", e.ID),
				logger.String("type", string(e.Type)),
				logger.Error(err),
			)
			continue
		}
		metrics.RecordNotificationPublished(s.Name())
	}
}

func (w *InMemoryWorker) deliver(ctx context.Context, s Sink, e notify.Event) error { //nolint:gocritic // hugeParam: events travel by value
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.backoff
	b.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.Deliver(ctx, e)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.retries)+1), //nolint:gosec // retries is never negative
		backoff.WithNotify(func(error, time.Duration) { metrics.RecordWorkerRetry() }),
	)
	return err
}

// Pool runs a fixed number of workers over one queue. A single worker keeps
// events in emission order.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool. workerCount below one means one worker.
func NewPool(workerCount int, q Queue, sinks []Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	base := cfg.name

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
	}
	for i := range p.workers {
		wc := cfg
		wc.name = base + "-" + strconv.Itoa(i)
		p.workers[i] = newWorker(q, sinks, wc)
	}
	if cfg.logger != nil {
		p.logger = cfg.logger.Named(base + "-pool")
	} else {
		p.logger = logger.Get().Named(base + "-pool")
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Shutdown closes the queue when it can be closed, lets the workers drain
// it and waits for them up to the context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if err := w.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return firstErr
}
