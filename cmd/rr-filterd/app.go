package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/config"
	"github.com/haukened/rr-filter/internal/filter/gateways/feed"
	"github.com/haukened/rr-filter/internal/filter/metrics"
	"github.com/haukened/rr-filter/internal/filter/parsers"
	"github.com/haukened/rr-filter/internal/filter/repos/bloom"
	"github.com/haukened/rr-filter/internal/filter/repos/kv"
	kvbolt "github.com/haukened/rr-filter/internal/filter/repos/kv/bolt"
	rulebolt "github.com/haukened/rr-filter/internal/filter/repos/ruleengine/bolt"
	"github.com/haukened/rr-filter/internal/filter/repos/sessions/lru"
	"github.com/haukened/rr-filter/internal/filter/repos/tracking"
	"github.com/haukened/rr-filter/internal/filter/services/activation"
	"github.com/haukened/rr-filter/internal/filter/services/compiler"
	"github.com/haukened/rr-filter/internal/filter/services/heuristic"
	"github.com/haukened/rr-filter/internal/filter/services/idspace"
	"github.com/haukened/rr-filter/internal/filter/services/reconciler"
	"github.com/haukened/rr-filter/internal/filter/services/validator"
)

// defaultShutdownTimeout bounds the final drain after serve is cancelled.
const defaultShutdownTimeout = 10 * time.Second

// Application holds all the components of the filter daemon. The
// stateless compiler and validator exist from construction; everything
// backed by a store is built by open.
type Application struct {
	config   *config.AppConfig
	logger   log.Logger
	clock    clock.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	compiler  *compiler.Compiler
	validator *validator.Validator

	store      kv.Store
	rules      *rulebolt.Engine
	sessions   lru.Sessions
	space      *idspace.Space
	engine     *heuristic.Engine
	reconciler *reconciler.Reconciler
	activator  *activation.Activator
	overrides  *activation.Overrides
}

func component(l log.Logger, name string) log.Logger {
	return log.With(l, map[string]any{"component": name})
}

// newApplication builds the stateless services.
func newApplication(cfg *config.AppConfig, logger log.Logger) (*Application, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	v, err := validator.New(validator.Options{
		Logger: component(logger, "validator"),
		Limits: validator.Limits{
			MaxRules:           cfg.Limits.MaxRules,
			MaxRuleID:          cfg.Limits.MaxRuleID,
			MaxPriority:        cfg.Limits.MaxPriority,
			MaxURLFilterLength: cfg.Limits.MaxLineLength,
		},
		Timeout:  cfg.Validator.Timeout,
		Recorder: m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build validator: %w", err)
	}

	c := compiler.New(compiler.Options{
		Logger:   component(logger, "compiler"),
		Parser:   parsers.New(parsers.Options{MaxLineLength: cfg.Limits.MaxLineLength}),
		Bloom:    bloom.NewFactory(),
		FPRate:   cfg.Compiler.FPRate,
		MaxRules: cfg.Limits.MaxRules,
		Timeout:  cfg.Compiler.Timeout,
		Recorder: m,
	})

	return &Application{
		config:    cfg,
		logger:    logger,
		clock:     &clock.RealClock{},
		registry:  reg,
		metrics:   m,
		compiler:  c,
		validator: v,
	}, nil
}

// open builds the repository and service layers on top of the stores.
func (a *Application) open() error {
	cfg := a.config

	ranges, err := cfg.IDRanges()
	if err != nil {
		return fmt.Errorf("invalid id ranges: %w", err)
	}

	store, err := kvbolt.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	a.store = kv.WithRetry(store, cfg.Retry.Policy(), component(a.logger, "store"))

	a.rules, err = rulebolt.New(cfg.Engine.Path, cfg.Limits.MaxRules)
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to open rule engine: %w", err)
	}

	a.sessions, err = lru.New(cfg.Sessions.Size)
	if err != nil {
		a.closeStores()
		return fmt.Errorf("failed to create session cache: %w", err)
	}
	metrics.WatchSessions(a.registry, a.sessions)

	a.space, err = idspace.New(idspace.Options{
		Engine:    a.rules,
		Ranges:    ranges,
		MaxRuleID: cfg.Limits.MaxRuleID,
		Logger:    component(a.logger, "idspace"),
		Recorder:  a.metrics,
	})
	if err != nil {
		a.closeStores()
		return err
	}
	guard := idspace.NewOpGuard(component(a.logger, "guard"))

	a.reconciler = reconciler.New(reconciler.Options{
		Space:    a.space,
		Guard:    guard,
		Logger:   component(a.logger, "reconciler"),
		Recorder: a.metrics,
		Blocked:  func() []string { return a.engine.Blocked() },
	})
	a.engine = heuristic.New(heuristic.Options{
		Clock:    a.clock,
		Logger:   component(a.logger, "heuristic"),
		Sink:     a.reconciler,
		Store:    tracking.New(a.store),
		Sessions: a.sessions,
		Recorder: a.metrics,
		Config:   cfg.Heuristic.Engine(),
	})
	a.activator = activation.NewActivator(activation.ActivatorOptions{
		Space:     a.space,
		Validator: a.validator,
		Guard:     guard,
		Logger:    component(a.logger, "activation"),
	})
	a.overrides = activation.NewOverrides(activation.OverridesOptions{
		Space:  a.space,
		Store:  a.store,
		Guard:  guard,
		Logger: component(a.logger, "overrides"),
	})

	log.Info(map[string]any{
		"store":  cfg.Store.Path,
		"engine": cfg.Engine.Path,
		"ranges": cfg.Ranges,
	}, "stores_opened")
	return nil
}

func (a *Application) closeStores() {
	_ = a.rules.Close()
	_ = a.store.Close()
}

// Close releases both stores.
func (a *Application) Close() error {
	var err error
	if a.rules != nil {
		err = multierr.Append(err, a.rules.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}

// Serve restores state, reinstalls the override and adaptive ranges, then
// observes events from in until it ends or ctx is cancelled.
func (a *Application) Serve(ctx context.Context, in io.Reader) error {
	log.Info(map[string]any{
		"version": version,
		"env":     a.config.Env,
		"metrics": a.config.Metrics.Addr,
	}, "Starting rr-filter daemon")

	if err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("failed to load tracking state: %w", err)
	}
	if err := a.overrides.Recompute(ctx); err != nil {
		return fmt.Errorf("failed to install overrides: %w", err)
	}
	if err := a.reconciler.Recompute(ctx, a.engine.Blocked()); err != nil {
		return fmt.Errorf("failed to install adaptive rules: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.reconciler.Run(gctx) })
	if a.config.Metrics.Addr != "" {
		srv := metrics.NewServer(a.config.Metrics.Addr, a.registry, component(a.logger, "metrics"))
		g.Go(func() error { return srv.Run(gctx) })
	}

	// The scanner blocks in Read, so the feed runs outside the group and
	// the group is released when the feed ends or ctx is cancelled.
	reader := feed.NewReader(a.engine, component(a.logger, "feed"), a.clock)
	feedDone := make(chan error, 1)
	go func() {
		_, err := reader.Run(gctx, in)
		feedDone <- err
	}()

	var feedErr error
	select {
	case feedErr = <-feedDone:
	case <-gctx.Done():
	}
	cancel()

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer drainCancel()
	applied := a.reconciler.Drain(drainCtx)
	if err := a.engine.Persist(drainCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to save tracking state: %w", err))
	}

	log.Info(map[string]any{"drained": applied}, "rr-filter daemon stopped gracefully")
	if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		return multierr.Append(fmt.Errorf("feed failed: %w", feedErr), runErr)
	}
	return runErr
}
