package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/engine"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/notify"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/services"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

const tracerName = "github.com/miradorstack/mirador-incident"

// app holds the long-lived components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	cache      cache.Provider
	store      repo.IncidentStore
	dispatcher *notify.Dispatcher
	pipeline   *engine.Pipeline
	service    *services.IncidentService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	provider, err := cache.New(cache.Config{
		Backend: cfg.Cache.Backend,
		Valkey: cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		},
	})
	if err != nil {
		logger.Warn("cache unavailable, continuing without it", slog.String("backend", cfg.Cache.Backend), slog.Any("error", err))
		provider = cache.NoopProvider{}
	}
	a.cache = provider

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		_ = a.cache.Close()
		return nil, err
	}
	if _, noop := provider.(cache.NoopProvider); !noop && cfg.Cache.RecordTTL > 0 {
		store = repo.NewCachedStore(store, provider, cfg.Cache.RecordTTL, logger)
	}
	a.store = store

	collab, err := engine.DefaultCollaborators(cfg.Rules.Path, cfg.Knowledge.Path, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("load collaborators: %w", err)
	}

	opts := []engine.Option{
		engine.WithDecisionConfig(engine.DecisionConfig{
			ConfidenceThreshold: cfg.Workflow.ConfidenceThreshold,
			MaxRetries:          cfg.Workflow.MaxRetries,
		}),
		engine.WithMaxParallel(cfg.Workflow.MaxParallel),
		engine.WithMaxSteps(cfg.Workflow.MaxSteps),
		engine.WithConflictPolicy(conflictPolicy(cfg.Workflow.OnFieldConflict)),
		engine.WithStageObserver(metrics.Recorder{}),
		engine.WithTracer(otel.Tracer(tracerName)),
	}
	if cfg.Notifications.Enabled {
		a.dispatcher = newDispatcher(cfg.Notifications, logger)
		opts = append(opts, engine.WithEventSink(a.dispatcher))
	}

	a.pipeline, err = engine.NewPipeline(logger, collab, opts...)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	a.service = services.NewIncidentService(logger, a.pipeline, a.store,
		services.WithDedup(a.cache, cfg.Cache.DedupWindow),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (repo.IncidentStore, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := repo.OpenSQLiteStore(ctx, cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open incident store: %w", err)
		}
		return store, nil
	default:
		return repo.NewMemoryStore(cfg.MemoryLimit), nil
	}
}

func conflictPolicy(name string) workflow.ConflictPolicy {
	if name == "log" {
		return workflow.ConflictLog
	}
	return workflow.ConflictFail
}

func newDispatcher(cfg config.NotificationsConfig, logger *slog.Logger) *notify.Dispatcher {
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTP.Host != "" {
		mail, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Password: cfg.SMTP.Password,
			To:       cfg.SMTP.To,
			Timeout:  cfg.SMTP.Timeout,
		})
		if err != nil {
			logger.Warn("smtp notifications disabled", slog.Any("error", err))
		} else {
			notifier = notify.MultiNotifier{notifier, mail}
		}
	}
	return notify.NewDispatcher(notifier,
		notify.WithAsync(cfg.Async),
		notify.WithRateLimit(cfg.RatePerSecond, cfg.Burst),
		notify.WithDispatchLogger(logger),
		notify.WithObserver(metrics.Recorder{}),
	)
}

// Close flushes pending notifications and releases storage.
func (a *app) Close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Wait(ctx); err != nil {
			a.logger.Warn("pending notifications abandoned", slog.Any("error", err))
		}
	}
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	// CachedStore closes the provider itself.
	if _, cached := a.store.(*repo.CachedStore); !cached && a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", slog.Any("error", err))
	}
}
