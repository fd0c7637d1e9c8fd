package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/admission"
	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/config"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
	"github.com/docrewrite/docrewrite/internal/store"
)

// Build wires a Service from configuration and starts its background work.
// An empty credential pool fails with ailink.ErrExhaustedPool before
// anything else is started.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Service, error) {
	ai, err := ailink.NewService(cfg.AILink, logger)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("provider credentials loaded",
			zap.String("provider", ai.Providers.ProviderID()),
			zap.Int("credentials", ai.Providers.Rotator().Len()))
	}
	return BuildWithRewriter(ctx, cfg, NewRewriter(ai), logger)
}

// BuildWithRewriter wires everything except the provider, which callers
// supply directly.
func BuildWithRewriter(ctx context.Context, cfg *config.Config, transport rewrite.Rewriter, logger *logging.Logger) (*Service, error) {
	svc := &Service{logger: logger}

	svc.pipeline = NewPipeline(cfg.Rewrite, transport, logger)

	if cfg.Admission.Enabled {
		limiter, closer, err := buildLimiter(ctx, cfg.Admission, logger)
		if err != nil {
			return nil, err
		}
		svc.limiter = limiter
		if closer != nil {
			svc.closers = append(svc.closers, closer)
		}
	}

	jobStore, closer, err := buildJobStore(ctx, cfg)
	if err != nil {
		_ = svc.Close(ctx)
		return nil, err
	}
	if closer != nil {
		svc.closers = append(svc.closers, closer)
	}

	svc.runner = jobs.NewRunner(jobStore, svc.pipeline, jobs.Options{
		Workers:       cfg.Jobs.Workers,
		QueueSize:     cfg.Jobs.QueueSize,
		Retention:     cfg.Jobs.Retention,
		SweepInterval: cfg.Jobs.SweepInterval,
	}, logger)
	svc.runner.Start(ctx)

	return svc, nil
}

// NewPipeline builds the two-pass pipeline over transport with retries.
func NewPipeline(cfg config.RewriteConfig, transport rewrite.Rewriter, logger *logging.Logger) *rewrite.Pipeline {
	return rewrite.NewPipeline(rewrite.WithRetry(transport, cfg.Retry, logger), rewrite.Options{
		BatchSize:          cfg.BatchSize,
		Temperature:        cfg.Temperature,
		CleanupTemperature: cfg.CleanupTemperature,
		DefaultStyle:       cfg.DefaultStyle,
	}, logger)
}

func buildLimiter(ctx context.Context, cfg config.AdmissionConfig, logger *logging.Logger) (*admission.Limiter, func(context.Context) error, error) {
	var (
		windows admission.WindowStore
		closer  func(context.Context) error
	)

	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect admission redis %s: %w", cfg.Redis.Addr, err)
		}
		windows = admission.NewRedisStore(client, cfg.Redis.Prefix)
		closer = func(context.Context) error { return client.Close() }
	default:
		mem := admission.NewMemoryStore()
		sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		mem.StartSweeper(sweepCtx, cfg.SweepInterval, cfg.Window, nil)
		windows = mem
		closer = func(context.Context) error {
			cancel()
			return nil
		}
	}

	limiter := admission.NewLimiter(windows, cfg.Limit, cfg.Window)
	limiter.ApplySafetyMargin(cfg.Margin)

	if logger != nil {
		backend := cfg.Backend
		if backend == "" {
			backend = "memory"
		}
		logger.Info("admission control enabled",
			zap.String("backend", backend),
			zap.Int("limit", cfg.Limit),
			zap.Duration("window", cfg.Window))
	}
	return limiter, closer, nil
}

func buildJobStore(ctx context.Context, cfg *config.Config) (jobs.Store, func(context.Context) error, error) {
	if cfg.Jobs.Backend != "libsql" {
		return jobs.NewMemoryStore(), nil, nil
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewSQLStore(db), func(context.Context) error { return db.Close() }, nil
}
