package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"courier/internal/adapters/api"
	"courier/internal/adapters/appconfig"
	"courier/internal/adapters/memory"
	"courier/internal/adapters/messaging"
	"courier/internal/adapters/postgres"
	"courier/internal/adapters/redis"
	"courier/internal/app"
	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/ports"
	"courier/internal/retention"
)

// Lambda roles.
const (
	roleAPI       = "api"
	roleSweeper   = "sweeper"
	roleRetention = "retention"
)

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		if err := runLambda(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := runLocal(); err != nil {
			os.Exit(1)
		}
	}
}

func runLambda() error {
	ctx := context.Background()
	logger := logging.New(logging.DefaultConfig())

	svc, err := build(ctx, logger, false)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}

	switch svc.cfg.Role {
	case roleAPI:
		lambda.Start(svc.handler.Handle)
	case roleSweeper:
		lambda.Start(func(ctx context.Context) (app.Stats, error) {
			return svc.app.SweepTimeouts(ctx)
		})
	case roleRetention:
		if svc.retention == nil {
			err := fmt.Errorf("retention role needs a durable store backend, got %q", svc.cfg.Store.Backend)
			logger.Error("failed to start", "error", err)
			return err
		}
		lambda.Start(svc.retention.RunOnce)
	default:
		err := fmt.Errorf("unknown engine role %q", svc.cfg.Role)
		logger.Error("failed to start", "error", err)
		return err
	}
	return nil
}

func runLocal() error {
	_ = godotenv.Load(".env")

	logger := logging.New(logging.DefaultConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := build(ctx, logger, true)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer svc.close()

	server := &http.Server{
		Addr:              svc.cfg.HTTPAddr,
		Handler:           newMux(svc.handler, svc.registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepLoop(ctx, svc.app, svc.cfg.Worker.SweepInterval, logger.With("component", "sweeper"))
	}()

	if svc.queue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.app.ConsumeQueue(ctx, svc.queue)
		}()
	}

	if svc.retention != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.retention.Start(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			cancel()
			wg.Wait()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down", "reason", ctx.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	wg.Wait()
	return nil
}

// sweepLoop claims due response timeouts on every tick, starting immediately.
func sweepLoop(ctx context.Context, application *app.App, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := application.SweepTimeouts(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("timeout sweep failed", "error", err)
		} else if stats.Claimed > 0 {
			logger.Info("timeout sweep completed",
				"claimed", stats.Claimed,
				"escalated", stats.Escalated,
				"no_alternative", stats.NoAlternative,
				"skipped", stats.Skipped,
				"errors", stats.Errors,
			)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info("sweeper stopped", "reason", ctx.Err())
			return
		}
	}
}

type services struct {
	cfg       *config.AppConfig
	app       *app.App
	handler   *api.Handler
	registry  *prometheus.Registry
	queue     app.Source
	retention *retention.Runner
	closers   []func()
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// build wires the engine for the configured backend. Escalations go through
// the inject queue only when a local consumer drains it.
func build(ctx context.Context, logger *slog.Logger, local bool) (*services, error) {
	cfg, err := config.LoadWithSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	engine, err := loadEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := &services{cfg: cfg, registry: prometheus.NewRegistry()}
	m := metrics.New(svc.registry)

	opts := app.Options{
		Config:    cfg,
		Engine:    engine,
		Logger:    logger,
		Directory: appconfig.NewDirectory(cfg.AppConfig, logger.With("component", "directory")),
		Sender:    newSender(ctx, cfg, logger),
		Renderer:  newRenderer(cfg, engine, logger),
		Metrics:   m,
	}

	var tasks []retention.Task

	switch cfg.Store.Backend {
	case config.BackendMemory:
		store := memory.NewStore()
		scheduler := memory.NewScheduler(store, time.Now)
		opts.Store = store
		opts.Locker = memory.NewLocker()
		opts.Scheduler = scheduler
		opts.Timeouts = scheduler
		opts.Filter = memory.NewFilter()

	case config.BackendRedis, config.BackendPostgres:
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = redisClient.Close() })
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)

		var store ports.MessageStore
		if cfg.Store.Backend == config.BackendPostgres {
			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				svc.close()
				return nil, fmt.Errorf("connect to postgres: %w", err)
			}
			svc.closers = append(svc.closers, pool.Close)

			pgStore, err := postgres.NewStore(ctx, pool, logger.With("component", "postgres"))
			if err != nil {
				svc.close()
				return nil, err
			}
			store = pgStore
			tasks = append(tasks, retention.Task{Name: "messages", Run: pgStore.PurgeBefore})
			logger.Info("connected to postgres")
		} else {
			store = redis.NewStore(redisClient, cfg.Worker.StateTTL)
		}

		scanner := redis.NewScanner(redisClient, cfg.Worker.ScanCount, logger.With("component", "scanner"))
		tasks = append(tasks, retention.Task{
			Name: "references",
			Run: func(ctx context.Context, _ time.Time) (int64, error) {
				n, err := scanner.PurgeOrphanReferences(ctx)
				return int64(n), err
			},
		})

		scheduler := redis.NewTimeoutScheduler(redisClient, store, logger.With("component", "scheduler"))
		opts.Store = store
		opts.Locker = redis.NewLocker(redisClient, cfg.Worker.LockTTL)
		opts.Scheduler = scheduler
		opts.Timeouts = scheduler
		opts.Filter = redis.NewSignalFilter(redisClient, cfg.Worker.SignalTTL)
		if cfg.Worker.FaultQueue != "" {
			opts.FaultQueue = redis.NewQueue(redisClient, cfg.Worker.FaultQueue)
		}
		if local && cfg.Worker.QueueName != "" {
			queue := redis.NewQueue(redisClient, cfg.Worker.QueueName)
			opts.Injector = queue
			svc.queue = queue
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	svc.app = app.New(opts)
	svc.handler = api.NewHandler(svc.app, logger.With("component", "api"))

	if len(tasks) > 0 && engine.Retention.Schedule != "" {
		runner, err := retention.NewRunner(
			engine.Retention.Schedule,
			engine.Retention.Period.ToDuration(),
			tasks,
			m,
			logger.With("component", "retention"),
		)
		if err != nil {
			svc.close()
			return nil, err
		}
		svc.retention = runner
	}

	return svc, nil
}

func loadEngine(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*config.EngineConfig, error) {
	switch {
	case cfg.EnginePath != "":
		logger.Info("loading engine config from file", "path", cfg.EnginePath)
		return config.LoadEngineConfigFile(cfg.EnginePath)
	case cfg.AppConfig.EngineProfile != "":
		loader := appconfig.NewLoader(cfg.AppConfig, logger.With("component", "config_loader"))
		return loader.LoadEngineConfig(ctx)
	default:
		logger.Info("using default engine config")
		return config.DefaultEngineConfig(), nil
	}
}

func newSender(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) ports.Sender {
	if len(cfg.Gateway.Endpoints) == 0 {
		logger.Warn("no gateway endpoints configured, delivery units are only logged")
		return messaging.NewLogSender(logger.With("component", "sender"))
	}
	return messaging.NewGatewaySender(ctx, messaging.GatewayConfig{
		Endpoints:    cfg.Gateway.Endpoints,
		TokenURL:     cfg.Gateway.TokenURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		Timeout:      cfg.Gateway.Timeout,
		MaxRetries:   cfg.Gateway.MaxRetries,
		RetryDelay:   cfg.Gateway.RetryDelay,
		RateLimit:    cfg.Gateway.RateLimit,
	}, logger.With("component", "gateway"))
}

func newRenderer(cfg *config.AppConfig, engine *config.EngineConfig, logger *slog.Logger) ports.TemplateRenderer {
	if cfg.AppConfig.TemplateProfile != "" {
		return appconfig.NewTemplateRenderer(cfg.AppConfig, logger.With("component", "templates"))
	}
	return appconfig.NewStaticRenderer(engine.Notifications.Templates)
}
