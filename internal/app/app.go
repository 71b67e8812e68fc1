// Package app wires the verification core's subsystems into a running
// service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the event loop and HTTP server, and Shutdown tears
// everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithVerificationStore, WithAlertStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tan-res-space/rag-interface-sub006/internal/aggregate"
	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/align"
	"github.com/tan-res-space/rag-interface-sub006/internal/config"
	"github.com/tan-res-space/rag-interface-sub006/internal/deadletter"
	"github.com/tan-res-space/rag-interface-sub006/internal/events"
	"github.com/tan-res-space/rag-interface-sub006/internal/health"
	"github.com/tan-res-space/rag-interface-sub006/internal/observe"
	"github.com/tan-res-space/rag-interface-sub006/internal/processor"
	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
	"github.com/tan-res-space/rag-interface-sub006/internal/resilience"
	"github.com/tan-res-space/rag-interface-sub006/internal/server"
	"github.com/tan-res-space/rag-interface-sub006/internal/storage/postgres"
	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
	"github.com/tan-res-space/rag-interface-sub006/internal/worker"
)

// App owns all subsystem lifetimes of the verification core.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	store      *postgres.Store
	records    verification.Store
	alerts     alerting.Store
	deadlet    deadletter.Store
	bus        *events.Bus
	workflow   *verification.Workflow
	evaluator  *alerting.Evaluator
	aggregator *aggregate.Aggregator
	processor  *processor.Processor
	pool       *worker.Pool
	httpSrv    *http.Server
	watcher    *config.Watcher
	metrics    *observe.Metrics
	logLevel   *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVerificationStore injects a record store instead of creating one from
// config.
func WithVerificationStore(s verification.Store) Option {
	return func(a *App) { a.records = s }
}

// WithAlertStore injects an alert store instead of creating one from config.
func WithAlertStore(s alerting.Store) Option {
	return func(a *App) { a.alerts = s }
}

// WithDeadLetterStore injects a dead-letter store instead of the JSONL file
// store.
func WithDeadLetterStore(s deadletter.Store) Option {
	return func(a *App) { a.deadlet = s }
}

// WithMetrics injects the instrument set. Nil (the default) disables metric
// recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the app the level var behind the process logger so
// config hot-reloads can adjust verbosity at runtime.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: storage connection and
// migration, workflow and evaluator construction, aggregation windows, the
// worker pool, and the HTTP read API.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Event bus ─────────────────────────────────────────────────────
	a.bus = events.NewBus()

	// ── 2. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 3. Verification workflow ─────────────────────────────────────────
	a.workflow = verification.NewWorkflow(a.records, a.bus,
		verification.WithConfidenceThreshold(cfg.Verification.ConfidenceThreshold),
		verification.WithAccuracyThreshold(cfg.Verification.AccuracyThreshold),
		verification.WithCriticalCategories(cfg.Verification.CriticalCategories),
	)

	// ── 4. Alert evaluator ───────────────────────────────────────────────
	if err := a.initEvaluator(); err != nil {
		return nil, fmt.Errorf("app: init evaluator: %w", err)
	}

	// ── 5. Aggregation windows ───────────────────────────────────────────
	if err := a.initAggregator(); err != nil {
		return nil, fmt.Errorf("app: init aggregator: %w", err)
	}

	// ── 6. Event processor + worker pool ─────────────────────────────────
	if err := a.initProcessing(); err != nil {
		return nil, fmt.Errorf("app: init processing: %w", err)
	}

	// ── 7. HTTP read API ─────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects the PostgreSQL stores, or falls back to in-memory
// stores when no DSN is configured and nothing was injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.deadlet == nil {
		a.deadlet = deadletter.NewFileStore(a.cfg.DeadLetter.Path)
	}
	if a.records != nil && a.alerts != nil {
		return nil // both injected
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, using in-memory stores")
		if a.records == nil {
			a.records = verification.NewMemStore()
		}
		if a.alerts == nil {
			a.alerts = alerting.NewMemStore()
		}
		return nil
	}

	connectCtx := ctx
	if t := a.cfg.Storage.ConnectTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	store, err := postgres.NewStore(connectCtx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	if a.records == nil {
		a.records = store.Verifications()
	}
	if a.alerts == nil {
		a.alerts = store.Alerts()
	}

	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initEvaluator builds the alert evaluator from the configured rule set.
func (a *App) initEvaluator() error {
	rules := make([]alerting.Rule, 0, len(a.cfg.Alerting.Rules))
	for _, rc := range a.cfg.Alerting.Rules {
		rules = append(rules, rc.Rule())
	}

	var opts []alerting.Option
	if a.cfg.Alerting.RecoveryPasses > 0 {
		opts = append(opts, alerting.WithRecoveryPasses(a.cfg.Alerting.RecoveryPasses))
	}

	evaluator, err := alerting.NewEvaluator(rules, a.alerts, a.bus, opts...)
	if err != nil {
		return err
	}
	a.evaluator = evaluator
	slog.Info("alert evaluator ready", "rules", len(rules))
	return nil
}

// initAggregator builds the trailing-window aggregator.
func (a *App) initAggregator() error {
	windows := make([]aggregate.WindowConfig, 0, len(a.cfg.Aggregation.Windows))
	for _, w := range a.cfg.Aggregation.Windows {
		windows = append(windows, w.Window())
	}

	aggregator, err := aggregate.New(windows)
	if err != nil {
		return err
	}
	a.aggregator = aggregator
	return nil
}

// initProcessing builds the per-event pipeline and the sharded worker pool
// that drives it.
func (a *App) initProcessing() error {
	var alignOpts []align.Option
	if a.cfg.Align.MaxQuadraticTokens > 0 {
		alignOpts = append(alignOpts, align.WithMaxQuadraticTokens(a.cfg.Align.MaxQuadraticTokens))
	}

	proc, err := processor.New(processor.Config{
		Aligner:     align.New(alignOpts...),
		Calculator:  quality.NewCalculator(),
		Workflow:    a.workflow,
		Evaluator:   a.evaluator,
		Aggregator:  a.aggregator,
		DeadLetters: a.deadlet,
		Metrics:     a.metrics,
		Retry: resilience.RetryConfig{
			Attempts:  a.cfg.Retry.Attempts,
			BaseDelay: a.cfg.Retry.BaseDelay.Std(),
			MaxDelay:  a.cfg.Retry.MaxDelay.Std(),
		},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "verification-store"}),
	})
	if err != nil {
		return err
	}
	a.processor = proc

	a.pool = worker.NewPool(proc.Process,
		worker.WithShards(a.cfg.Workers.Count),
		worker.WithQueueSize(a.cfg.Workers.QueueSize),
	)
	return nil
}

// initHTTP builds the read API server.
func (a *App) initHTTP() error {
	checkers := []health.Checker{}
	if a.store != nil {
		checkers = append(checkers, health.PingChecker("database", a.store.Ping))
	}

	srv, err := server.New(server.Config{
		Workflow:   a.workflow,
		Evaluator:  a.evaluator,
		Aggregator: a.aggregator,
		Health:     health.New(checkers...),
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// ─── Config hot-reload ───────────────────────────────────────────────────────

// WatchConfig starts a file watcher on path and applies supported changes
// (log level, alert rules) without a restart. Call before Run.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, a.applyConfigChange)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	slog.Info("config watcher started", "path", path)
	return nil
}

func (a *App) applyConfigChange(old, next *config.Config) {
	diff := config.Diff(old, next)

	if diff.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		} else {
			slog.Warn("log level changed but no level var is wired", "level", diff.NewLogLevel)
		}
	}

	if diff.RulesChanged {
		rules := make([]alerting.Rule, 0, len(next.Alerting.Rules))
		for _, rc := range next.Alerting.Rules {
			rules = append(rules, rc.Rule())
		}
		if err := a.evaluator.UpdateRules(rules); err != nil {
			slog.Error("rejected alert rule update", "err", err)
			return
		}
		slog.Info("alert rules reloaded", "rules", len(rules), "changes", len(diff.RuleChanges))
	}
}

// ─── Ingestion ───────────────────────────────────────────────────────────────

// Ingest decodes a raw correction-applied payload and enqueues it on the
// worker pool. Malformed payloads are dead-lettered and reported as handled;
// per-correction processing order is preserved by the pool's shard affinity.
func (a *App) Ingest(ctx context.Context, payload []byte) error {
	ev, err := events.DecodeCorrectionApplied(payload)
	if err != nil {
		if errors.Is(err, events.ErrMalformedEvent) {
			if a.metrics != nil {
				a.metrics.RecordDeadLetter(ctx, processor.ReasonMalformed)
				a.metrics.RecordEvent(ctx, "dead_letter")
			}
			if dlErr := a.deadlet.Add(ctx, processor.ReasonMalformed, err, payload); dlErr != nil {
				slog.ErrorContext(ctx, "failed to dead-letter malformed event", "err", dlErr)
			}
			return nil
		}
		return fmt.Errorf("app: decode event: %w", err)
	}
	return a.pool.Submit(ctx, ev)
}

// Bus exposes the outbound event stream for downstream consumers
// (notification service, dashboard feeds).
func (a *App) Bus() *events.Bus { return a.bus }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the worker pool and HTTP server, blocking until ctx is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("read api listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// On cancellation the pool stops intake, drains every queued event
		// and returns nil, so accepted corrections are never lost to a
		// graceful restart.
		if err := a.pool.Run(runCtx); err != nil {
			return fmt.Errorf("app: worker pool: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()
		// Unblock ListenAndServe. Shutdown runs the rest of the teardown
		// under the caller's deadline.
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(stopCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("http shutdown error", "err", err)
		}

		// Run already closes the pool when its context is cancelled; this
		// covers Shutdown without a prior Run. Close is idempotent.
		a.pool.Close()

		a.bus.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
