// Package service wires one party: its store, ledger, match controller,
// request deduper and the notification pipeline that feeds viewers.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/rumble/internal/adapters/http/ws"
	"github.com/okian/rumble/internal/adapters/mq/queue"
	"github.com/okian/rumble/internal/adapters/mq/redispub"
	"github.com/okian/rumble/internal/adapters/mq/worker"
	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/adapters/repository/postgres"
	"github.com/okian/rumble/internal/adapters/repository/sqlite"
	"github.com/okian/rumble/internal/config"
	"github.com/okian/rumble/internal/domain/dedupe"
	"github.com/okian/rumble/internal/domain/ledger"
	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/scoring"
	"github.com/okian/rumble/internal/domain/types"
	"github.com/okian/rumble/pkg/logger"
	"github.com/okian/rumble/pkg/metrics"
	"github.com/okian/rumble/pkg/tracing"
)

const (
	tracerName       = "github.com/okian/rumble"
	greetingTopN     = 10
	reconcileTimeout = 10 * time.Second
)

// Service implements the API dependencies for one party.
type Service struct {
	*match.Controller
	dedupe.Deduper

	cfg       *config.Config
	store     repository.Store
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	hub       *ws.Hub
	publisher *redispub.Publisher
	sinks     []worker.Sink
	now       func() time.Time
	logger    logger.Logger

	mu            sync.Mutex
	started       bool
	closed        bool
	stopLoop      context.CancelFunc
	cancelWorkers context.CancelFunc
	done          chan struct{}
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the store selected by configuration.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithClock injects the clock passed to the ledger and controller.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSink adds a delivery sink next to the websocket hub.
func WithSink(sink worker.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// New builds a service from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	table := scoring.NewTable(
		scoring.WithBonusesFromConfig(cfg.Bonuses),
		scoring.WithJobberThreshold(cfg.JobberThreshold()),
	)
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBonusTable, err)
	}

	if s.store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if cfg.RedisAddr != "" {
		pub, err := redispub.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redispub.WithChannelPrefix(cfg.RedisChannel))
		if err != nil {
			_ = s.store.Close()
			return nil, err
		}
		s.publisher = pub
	}

	s.Deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(cfg.NotifyQueueSize),
		queue.WithLogger(s.logger.Named("queue")),
	)
	s.hub = ws.NewHub(
		ws.WithLogger(s.logger.Named("ws")),
		ws.WithSnapshot(s.greeting),
	)

	sinks := []worker.Sink{s.hub}
	if s.publisher != nil {
		sinks = append(sinks, s.publisher)
	}
	sinks = append(sinks, s.sinks...)
	s.pool = worker.NewPool(cfg.NotifyWorkers, s.queue, sinks,
		worker.WithName("notify"),
		worker.WithLogger(s.logger),
	)

	l := ledger.New(s.store, cfg.PartyID,
		ledger.WithLogger(s.logger.Named("ledger")),
		ledger.WithClock(s.now),
	)
	s.Controller = match.New(s.store, l,
		match.WithLogger(s.logger.Named("match")),
		match.WithClock(s.now),
		match.WithNotifier(s.queue),
		match.WithBonusTable(table),
		match.WithTracer(tracing.Tracer(tracerName)),
	)
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenStore, err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenStore, err)
		}
		return store, nil
	case config.DriverMemory, "":
		return repository.NewMemoryStore(ctx), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrOpenStore, cfg.StoreDriver)
	}
}

// Start launches the delivery workers and the background reconciler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	// Workers drain the queue on Stop, so they outlive the caller's context
	// and the reconcile loop.
	base := context.WithoutCancel(ctx)
	workCtx, cancelWorkers := context.WithCancel(base)
	loopCtx, stopLoop := context.WithCancel(base)
	s.cancelWorkers = cancelWorkers
	s.stopLoop = stopLoop
	s.done = make(chan struct{})
	s.pool.Start(workCtx)
	go s.reconcileLoop(loopCtx)

	s.started = true
	metrics.UpdateQueueCapacity(s.cfg.NotifyQueueSize)
	s.logger.Info(ctx, "rumble service started",
		logger.String("party", s.Party()),
		logger.String("store", s.cfg.StoreDriver),
		logger.Int("notifyWorkers", s.cfg.NotifyWorkers),
		logger.Bool("redis", s.publisher != nil),
	)
	return nil
}

// Stop halts the reconciler, lets the workers deliver every queued
// notification, then disconnects viewers and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info(ctx, "stopping rumble service...")

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.started {
		s.stopLoop()
		<-s.done
		keep(s.pool.Shutdown(ctx))
		s.cancelWorkers()
	} else {
		keep(s.queue.Close())
	}
	keep(s.hub.Close())
	if s.publisher != nil {
		keep(s.publisher.Close())
	}
	keep(s.store.Close())

	s.started = false
	s.logger.Info(ctx, "rumble service stopped")
	return firstErr
}

// reconcileLoop repairs both divisions on a fixed period.
func (s *Service) reconcileLoop(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.ReconcileInterval()
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll reconciles every division, logging failures.
func (s *Service) ReconcileAll(ctx context.Context) {
	for _, div := range model.Divisions {
		rctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		if err := s.Reconcile(rctx, div); err != nil {
			s.logger.Warn(ctx, "background reconcile failed",
				logger.String("division", string(div)),
				logger.Error(err),
			)
		}
		cancel()
	}
}

// Hub returns the websocket hub viewers connect to.
func (s *Service) Hub() *ws.Hub { return s.hub }

// Leaderboard returns the top players of the party.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	return s.store.Leaderboard(ctx, s.Party(), limit)
}

// Rank returns the leaderboard row of one player.
func (s *Service) Rank(ctx context.Context, playerID string) (types.Entry, error) {
	return s.store.Rank(ctx, s.Party(), playerID)
}

// Greeting is the first message a viewer receives.
type Greeting struct {
	Party       string                        `json:"party"`
	Divisions   map[model.Division]match.View `json:"divisions"`
	Leaderboard []types.Entry                 `json:"leaderboard"`
}

func (s *Service) greeting(ctx context.Context) (any, error) {
	g := Greeting{
		Party:     s.Party(),
		Divisions: make(map[model.Division]match.View, len(model.Divisions)),
	}
	for _, div := range model.Divisions {
		view, err := s.Snapshot(ctx, div)
		if err != nil {
			return nil, err
		}
		g.Divisions[div] = view
	}
	board, err := s.Leaderboard(ctx, greetingTopN)
	if err != nil {
		return nil, err
	}
	g.Leaderboard = board
	return g, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":       started,
		"party":         s.Party(),
		"storeDriver":   s.cfg.StoreDriver,
		"notifyWorkers": s.cfg.NotifyWorkers,
		"queueCapacity": s.cfg.NotifyQueueSize,
		"queueLength":   s.queue.Len(),
		"subscribers":   s.hub.Count(),
		"dedupeSize":    s.Size(),
		"redis":         s.publisher != nil,
	}

	players, err := s.store.PlayerCount(ctx, s.Party())
	if err != nil {
		s.logger.Warn(ctx, "player count unavailable", logger.Error(err))
	} else {
		stats["players"] = players
		metrics.UpdatePlayersTotal(players)
	}
	metrics.UpdateQueueSize(s.queue.Len())
	return stats
}
