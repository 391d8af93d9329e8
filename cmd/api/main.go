package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/sla-engine/internal/api/http"
	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/audit"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/calendar"
	"github.com/spec-kit/sla-engine/internal/catalog"
	"github.com/spec-kit/sla-engine/internal/clock"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/escalation"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/notify"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/rules"
	"github.com/spec-kit/sla-engine/internal/service"
	"github.com/spec-kit/sla-engine/internal/timer"
	"github.com/spec-kit/sla-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		policyRepo    repository.PolicyRepository
		timerRepo     repository.TimerRepository
		eventRepo     repository.TimerEventRepository
		violationRepo repository.ViolationRepository
	)
	if pool != nil {
		policyRepo = repository.NewPolicyRepository(pool)
		timerRepo = repository.NewTimerRepository(pool)
		eventRepo = repository.NewTimerEventRepository(pool)
		violationRepo = repository.NewViolationRepository(pool)
	} else {
		policyRepo = repository.NewMemoryPolicyRepository()
		timerRepo = repository.NewMemoryTimerRepository()
		eventRepo = repository.NewMemoryTimerEventRepository()
		violationRepo = repository.NewMemoryViolationRepository()
	}

	source, err := policySource(ctx, cfg.Catalog, policyRepo, logger)
	if err != nil {
		logger.Fatal("failed to load policy catalog", zap.Error(err))
	}
	var cache catalog.Cache
	if redis.Client != nil {
		cache = catalog.NewRedisCache(redis.Client, "", cfg.Catalog.CacheTTL)
	}

	clk := clock.RealClock{}
	evaluator := rules.NewEvaluator(logger.Named("rules"))
	resolver := calendar.NewResolver()
	policyCatalog := catalog.NewService(source, cache, evaluator, catalog.Settings{
		BreakerTimeout:  cfg.Catalog.BreakerTimeout,
		BreakerFailures: cfg.Catalog.BreakerFailures,
	}, logger.Named("catalog"))

	dispatcher := events.NewInMemoryDispatcher()
	queue := worker.NewQueue(worker.QueueConfig{
		Workers:         cfg.Engine.PersistWorkers,
		Size:            cfg.Engine.PersistQueueSize,
		InitialInterval: cfg.Engine.RetryInitialInterval,
		MaxElapsedTime:  cfg.Engine.RetryMaxElapsed,
	}, logger.Named("queue"))

	manager := timer.NewManager(timer.Config{
		SweepConcurrency:  cfg.Engine.SweepConcurrency,
		TerminalRetention: cfg.Engine.TerminalRetention,
	}, timer.Dependencies{
		Clock:      clk,
		Calendars:  resolver,
		Evaluator:  evaluator,
		Escalator:  escalation.NewDispatcher(logger.Named("escalation")),
		Store:      timer.NewStore(timerRepo),
		Policies:   policyCatalog,
		Dispatcher: dispatcher,
		Logger:     logger.Named("timer"),
	})

	metrics := observability.NewMetrics(manager.ActiveTimers)
	metrics.RegisterHandlers(dispatcher)
	queue.OnRetry(func(job worker.Job) { metrics.RecordJobRetry(job.Kind()) })
	queue.OnFailure(func(job worker.Job, _ error) { metrics.RecordJobFailure(job.Kind()) })

	auditLog := audit.NewLog(audit.Repositories{
		Timers:     timerRepo,
		Events:     eventRepo,
		Violations: violationRepo,
	}, queue, logger.Named("audit"))
	auditLog.RegisterHandlers(dispatcher)

	var publisher notify.Publisher = notify.NewLogPublisher(logger.Named("escalations"))
	if cfg.NATS.URL != "" {
		natsPublisher, err := notify.NewNATSPublisher(cfg.NATS)
		if err != nil {
			logger.Fatal("failed to connect nats", zap.Error(err))
		}
		publisher = natsPublisher
	}
	defer publisher.Close() //nolint:errcheck
	service.NewNotificationService(dispatcher, publisher, queue, logger.Named("notify"), cfg.Notification).RegisterHandlers()

	// Queued writes must drain after ctx is cancelled on shutdown.
	queue.Start(context.Background())
	warmed, err := manager.Warm(ctx)
	if err != nil {
		logger.Fatal("failed to warm timers", zap.Error(err))
	}
	logger.Info("timers warmed", zap.Int("count", warmed))

	tracking := service.NewTrackingService(policyCatalog, manager, timerRepo, logger.Named("tracking"))
	violations := service.NewViolationService(violationRepo, clk)
	authService := service.NewAuthService(*cfg)

	sweeper := worker.NewSweeper(manager, cfg.Engine.SweepInterval, logger.Named("sweeper"))
	sweeper.OnSweep(metrics.ObserveSweep)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := worker.NewCaseEventConsumer(cfg.Kafka, cfg.Engine,
			worker.CaseEventHandlerFunc(func(ctx context.Context, event domain.CaseEvent) error {
				_, err := tracking.HandleCaseEvent(ctx, event)
				return err
			}), logger.Named("consumer"))
		if err != nil {
			logger.Fatal("failed to build case event consumer", zap.Error(err))
		}
		defer consumer.Close() //nolint:errcheck
		group.Go(func() error { return consumer.Run(groupCtx) })
	} else {
		logger.Warn("KAFKA_BROKERS not provided; case events accepted over HTTP only")
	}

	deps := map[string]handlers.Pinger{}
	if pool != nil {
		deps["postgres"] = pg
	}
	if redis.Client != nil {
		deps["redis"] = redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, policyCatalog, manager.ActiveTimers),
		Auth:           handlers.NewAuthHandler(authService),
		CaseEvents:     handlers.NewCaseEventsHandler(tracking),
		TimerEvents:    handlers.NewTimerEventsHandler(auditLog),
		Violations:     handlers.NewViolationsHandler(violations),
		Policies:       handlers.NewPoliciesHandler(tracking),
		Calendar:       handlers.NewCalendarHandler(resolver),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(groupCtx, logger)

	cancel()
	_ = app.ShutdownWithTimeout(10 * time.Second)
	sweeper.Stop()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("case event consumer stopped", zap.Error(err))
	}
	queue.Stop()
}

func policySource(ctx context.Context, cfg config.CatalogConfig, repo repository.PolicyRepository, logger *zap.Logger) (catalog.Source, error) {
	if cfg.Source != "file" {
		return repo, nil
	}
	source, err := catalog.NewFileSource(cfg.PolicyDir)
	if err != nil {
		return nil, err
	}
	docs, err := source.ListActive(ctx, "")
	if err != nil {
		return nil, err
	}
	logger.Info("policy files loaded", zap.String("dir", cfg.PolicyDir), zap.Int("policies", len(docs)))
	return source, nil
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Warn("background worker stopped; shutting down")
	}
}
