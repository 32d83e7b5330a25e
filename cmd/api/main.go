package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/lead-service/internal/api/http"
	"github.com/spec-kit/lead-service/internal/api/http/handlers"
	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/config"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/ingest"
	"github.com/spec-kit/lead-service/internal/mail"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	"github.com/spec-kit/lead-service/internal/repository/memory"
	"github.com/spec-kit/lead-service/internal/service"
	"github.com/spec-kit/lead-service/internal/worker"
)

type storage struct {
	users    repository.UserRepository
	leads    repository.LeadRepository
	calls    repository.CallRecordRepository
	goals    repository.GoalRepository
	activity repository.ActivityRepository
	tx       persistence.TxManager
}

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
	store := newStorage(pg)

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	var cache persistence.Cache
	if redis != nil {
		cache = redis
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	engine := policy.New(policyOptions(cfg.Policy))

	var publisher *events.AMQPPublisher
	if cfg.Events.AMQPURL != "" {
		publisher, err = events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.DialTimeout(), logger)
		if err != nil {
			logger.Fatal("failed to connect amqp", zap.Error(err))
		}
		defer publisher.Close()
	}

	activityService := service.NewActivityService(service.ActivityDependencies{
		ActivityRepo: store.activity,
		LeadRepo:     store.leads,
		Policy:       engine,
		Metrics:      metrics,
		Logger:       logger,
	})
	goalService := service.NewGoalService(service.GoalDependencies{
		GoalRepo:   store.goals,
		UserRepo:   store.users,
		Policy:     engine,
		Activity:   activityService,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	leadDeps := service.LeadDependencies{
		LeadRepo:   store.leads,
		UserRepo:   store.users,
		Tx:         store.tx,
		Policy:     engine,
		Goals:      goalService,
		Activity:   activityService,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Parser: ingest.NewParser(ingest.Options{
			MinPhoneDigits:   cfg.Ingest.MinPhoneDigits,
			PhoneColumnIndex: cfg.Ingest.PhoneColumnIndex,
			EmailColumnIndex: cfg.Ingest.EmailColumnIndex,
			MaxRows:          cfg.Ingest.MaxRows,
		}),
	}

	authService := service.NewAuthService(*cfg, service.AuthDependencies{UserRepo: store.users, Logger: logger})
	if err := authService.EnsureBootstrapAdmin(ctx); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	directoryService := service.NewDirectoryService(*cfg, service.DirectoryDependencies{
		UserRepo:   store.users,
		LeadRepo:   store.leads,
		GoalRepo:   store.goals,
		Tx:         store.tx,
		Policy:     engine,
		Activity:   activityService,
		Dispatcher: dispatcher,
	})
	dashboardService := service.NewDashboardService(service.DashboardDependencies{
		LeadRepo: store.leads,
		Cache:    cache,
		TTL:      cfg.Dashboard.CacheTTL(),
		Logger:   logger,
	})

	var notificationService *service.NotificationService
	if cfg.Notification.SMTPHost != "" {
		mailer := mail.NewSMTPMailer(cfg.Notification.SMTPHost, cfg.Notification.SMTPPort,
			cfg.Notification.SMTPUser, cfg.Notification.SMTPPassword, cfg.Notification.EmailFrom)
		notificationService = service.NewNotificationService(dispatcher, store.users, mailer, logger)
	}
	queue := worker.NewQueue(cfg.Notification.QueueWorkers, cfg.Notification.QueueSize, cfg.Notification.SendTimeout(), logger)
	worker.StartNotificationWorker(dispatcher, queue, notificationService, publisher)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), store.users)

	app := fiber.New(fiber.Config{BodyLimit: cfg.App.BodyLimitBytes})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:   handlers.NewAuthHandler(authService),
		Leads: handlers.NewLeadsHandler(
			service.NewLeadService(leadDeps),
			service.NewAssignmentService(leadDeps),
			service.NewIngestService(leadDeps),
			activityService,
		),
		Calls:          handlers.NewCallsHandler(service.NewCallService(service.CallDependencies{LeadDependencies: leadDeps, CallRepo: store.calls})),
		Goals:          handlers.NewGoalsHandler(goalService),
		Users:          handlers.NewUsersHandler(directoryService),
		Dashboard:      handlers.NewDashboardHandler(dashboardService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	queue.Close()
}

// newStorage picks postgres when a pool is configured and the in-memory
// store otherwise.
func newStorage(pg *persistence.Postgres) storage {
	pool := pg.PoolHandle()
	if pool == nil {
		mem := memory.NewStore()
		return storage{
			users:    mem.Users(),
			leads:    mem.Leads(),
			calls:    mem.Calls(),
			goals:    mem.Goals(),
			activity: mem.Activity(),
			tx:       mem,
		}
	}
	return storage{
		users:    repository.NewUserRepository(pool),
		leads:    repository.NewLeadRepository(pool),
		calls:    repository.NewCallRecordRepository(pool),
		goals:    repository.NewGoalRepository(pool),
		activity: repository.NewActivityRepository(pool),
		tx:       persistence.NewTxManager(pool),
	}
}

func policyOptions(cfg config.PolicyConfig) policy.Options {
	opts := policy.Options{LeaderSeesUnassigned: cfg.LeaderSeesUnassigned}
	for _, r := range cfg.LeadCreatorRoles {
		role := domain.Role(r)
		if role.Valid() {
			opts.LeadCreatorRoles = append(opts.LeadCreatorRoles, role)
		}
	}
	return opts
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
