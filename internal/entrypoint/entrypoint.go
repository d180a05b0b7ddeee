package entrypoint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/approval"
	"github.com/mrlokans/bookshop/internal/audit"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/checkout"
	"github.com/mrlokans/bookshop/internal/circuitbreaker"
	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/database"
	dbaudit "github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/database/books"
	dbpayments "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/events"
	http_controllers "github.com/mrlokans/bookshop/internal/http"
	"github.com/mrlokans/bookshop/internal/logging"
	"github.com/mrlokans/bookshop/internal/notify"
	"github.com/mrlokans/bookshop/internal/payments"
	"github.com/mrlokans/bookshop/internal/scheduler"
	"github.com/mrlokans/bookshop/internal/storage"
	"github.com/mrlokans/bookshop/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the HTTP server until SIGINT or SIGTERM, then drains it.
func Serve(router *gin.Engine, cfg *config.Config, logger *zap.Logger, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// kill -9 can't be caught, so only SIGINT and SIGTERM are handled.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Background work stops first so nothing new is enqueued mid-drain.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}

// Validate rejects configurations the server must not start with.
func Validate(cfg *config.Config) error {
	switch cfg.Payments.Provider {
	case config.ProviderSandbox:
	case config.ProviderHTTP:
		if cfg.Payments.ProviderBaseURL == "" {
			return errors.New("PAYMENT_PROVIDER_BASE_URL is required for the http provider")
		}
		if cfg.Payments.WebhookSecret == "" {
			return errors.New("PAYMENT_WEBHOOK_SECRET is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", cfg.Payments.Provider)
	}
	if cfg.Payments.ReturnURL == "" {
		return errors.New("PAYMENT_RETURN_URL is required")
	}
	if cfg.Payments.SweepEnabled {
		if err := scheduler.ValidateSchedule(cfg.Payments.SweepSchedule); err != nil {
			return fmt.Errorf("PAYMENT_SWEEP_SCHEDULE: %w", err)
		}
	}
	if err := scheduler.ValidateSchedule(cfg.Audit.CleanupSchedule); err != nil {
		return fmt.Errorf("AUDIT_CLEANUP_SCHEDULE: %w", err)
	}
	if cfg.Events.Publisher == config.PublisherKafka && len(cfg.Events.Brokers) == 0 {
		return errors.New("EVENTS_KAFKA_BROKERS is required for the kafka publisher")
	}
	return nil
}

// NewProvider builds the payment provider selected by configuration. The
// HTTP provider sits behind breaker; the sandbox has nothing to protect.
func NewProvider(cfg config.Payments, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (checkout.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSandbox, "":
		return checkout.NewSandbox(), nil
	case config.ProviderHTTP:
		client := checkout.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
		return checkout.NewGuarded(client, breaker, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// NewPublisher builds the event publisher selected by configuration.
func NewPublisher(cfg config.Events, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Publisher {
	case config.PublisherKafka:
		return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
	case config.PublisherLog, "":
		return events.NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown event publisher %q", cfg.Publisher)
	}
}

func csrfSecret(configured string, logger *zap.Logger) ([]byte, error) {
	if configured != "" {
		if secret, err := hex.DecodeString(configured); err == nil {
			return secret, nil
		}
		return []byte(configured), nil
	}
	generated, err := auth.GenerateSessionSecret()
	if err != nil {
		return nil, err
	}
	logger.Warn("generated session secret (set AUTH_SESSION_SECRET to persist)")
	return hex.DecodeString(generated)
}

func Run(cfg *config.Config, version string) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting bookshop", zap.String("version", version))

	if err := Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Payments.WebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET is empty; webhook signatures are not verified")
	}

	db, err := database.Open(cfg.Database.Path, database.Options{Logger: logger})
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database", zap.Error(err))
		}
	}()

	policy := access.NewPolicy()
	auditRepo := dbaudit.NewRepository(db.DB)
	auditService := audit.NewService(auditRepo, logger)
	defer auditService.Wait()

	// Authentication
	authService := auth.NewService(db.DB, cfg.Auth, logger)
	sqlDB, err := db.DB.DB()
	if err != nil {
		logger.Fatal("failed to get SQL DB for sessions", zap.Error(err))
	}
	sessionManager, err := auth.NewSessionManager(sqlDB, cfg.Auth)
	if err != nil {
		logger.Fatal("failed to initialize session manager", zap.Error(err))
	}
	rateLimiter := auth.NewRateLimiter(cfg.Auth)
	defer rateLimiter.Stop()
	authMiddleware := auth.NewMiddleware(authService, sessionManager, policy, logger)
	secret, err := csrfSecret(cfg.Auth.SessionSecret, logger)
	if err != nil {
		logger.Fatal("failed to generate CSRF secret", zap.Error(err))
	}
	if n, err := authService.CountByRole(context.Background(), entities.UserRoleSuperAdmin); err == nil && n == 0 {
		logger.Warn("no superadmin exists; run `bookshop create-user -role superadmin` to approve books")
	}

	publisher, err := NewPublisher(cfg.Events, logger)
	if err != nil {
		logger.Fatal("failed to initialize event publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing event publisher", zap.Error(err))
		}
	}()

	// The task client is created before the services so the dispatcher can
	// enqueue through it; queues are registered once the services exist.
	var taskClient *tasks.Client
	var enqueuer notify.Enqueuer = notify.Inline{Publisher: publisher}
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, tasks.FromSettings(cfg.Tasks), logger)
		if err != nil {
			logger.Fatal("failed to initialize task queue", zap.Error(err))
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error("error closing task client", zap.Error(err))
			}
		}()
		enqueuer = taskClient
	}
	dispatcher := notify.NewDispatcher(auditService, enqueuer, logger)

	breaker := circuitbreaker.NewCircuitBreaker(cfg.Payments.BreakerMaxFailures, cfg.Payments.BreakerResetAfter)
	provider, err := NewProvider(cfg.Payments, breaker, logger)
	if err != nil {
		logger.Fatal("failed to initialize payment provider", zap.Error(err))
	}

	objectStore, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialize object storage", zap.Error(err))
	}
	logger.Info("object storage ready", zap.String("backend", string(cfg.Storage.Backend)))

	bookRepo := books.NewRepository(db.DB)
	paymentRepo := dbpayments.NewRepository(db.DB)

	approvalService := approval.NewService(bookRepo, policy, dispatcher, logger, cfg.Payments.Currency,
		approval.WithObjectChecker(objectStore))
	paymentService := payments.NewService(bookRepo, paymentRepo, provider, policy, dispatcher, logger, payments.Config{
		ReturnURL:       cfg.Payments.ReturnURL,
		ProviderTimeout: cfg.Payments.ProviderTimeout,
	})

	var taskCtxCancel context.CancelFunc
	if taskClient != nil {
		taskClient.Register(
			tasks.NewDeliverEventQueue(publisher),
			tasks.NewSweepPaymentsQueue(paymentService),
			tasks.NewCleanupAuditEventsQueue(auditRepo, logger),
		)
		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
	}

	// Scheduled jobs
	sched := scheduler.New(logger)
	if cfg.Payments.SweepEnabled {
		job := scheduler.SweepDirectly(paymentService, cfg.Payments.SweepAge, cfg.Payments.SweepBatch)
		if taskClient != nil {
			job = scheduler.EnqueueTask(taskClient, tasks.SweepPaymentsTask{
				AgeSeconds: int(cfg.Payments.SweepAge.Seconds()),
				Limit:      cfg.Payments.SweepBatch,
			})
		}
		if err := sched.Add(scheduler.JobPaymentSweep, cfg.Payments.SweepSchedule, job); err != nil {
			logger.Fatal("failed to schedule payment sweep", zap.Error(err))
		}
	}
	cleanup := scheduler.Job(func(context.Context) error {
		cutoff := time.Now().AddDate(0, 0, -cfg.Audit.RetentionDays)
		_, err := auditRepo.DeleteOldEvents(cutoff)
		return err
	})
	if taskClient != nil {
		cleanup = scheduler.EnqueueTask(taskClient, tasks.CleanupAuditEventsTask{RetentionDays: cfg.Audit.RetentionDays})
	}
	if err := sched.Add(scheduler.JobAuditCleanup, cfg.Audit.CleanupSchedule, cleanup); err != nil {
		logger.Fatal("failed to schedule audit cleanup", zap.Error(err))
	}
	sched.Start(context.Background())

	routerCfg := http_controllers.RouterConfig{
		Version:        version,
		Logger:         logger,
		Database:       db,
		MetricsEnabled: cfg.Metrics.Enabled,
		Policy:         policy,
		AuthMiddleware: authMiddleware,
		AuthService:    authService,
		SessionManager: sessionManager,
		RateLimiter:    rateLimiter,
		AuthAuditor:    auditService,
		CSRFSecret:     secret,
		SecureCookies:  cfg.Auth.SecureCookies,
		Catalog:        bookRepo,
		Approval:       approvalService,
		Payments:       paymentService,
		Webhook: http_controllers.WebhookConfig{
			Secret:    []byte(cfg.Payments.WebhookSecret),
			Tolerance: cfg.Payments.WebhookTolerance,
		},
		Uploader:      storage.NewUploader(objectStore, cfg.Storage.MaxUploadBytes),
		ObjectStore:   objectStore,
		UploadAuditor: auditService,
		PresignExpiry: cfg.Storage.PresignExpiry,
		AuditReader:   auditService,
		Jobs:          sched,
	}
	if cfg.Payments.Provider == config.ProviderHTTP {
		routerCfg.Breaker = breaker
	}
	// A nil *tasks.Client in the interface field would not compare equal to nil.
	if taskClient != nil {
		routerCfg.Tasks = taskClient
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		sched.Stop()
		if taskClient != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, logger, onShutdown)
}
