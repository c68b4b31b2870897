package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/skydish/api/internal/handlers"
	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/config"
	pfirestore "github.com/skydish/api/internal/platform/firestore"
	"github.com/skydish/api/internal/platform/geo"
	"github.com/skydish/api/internal/platform/idempotency"
	"github.com/skydish/api/internal/platform/jobs"
	"github.com/skydish/api/internal/platform/observability"
	ppg "github.com/skydish/api/internal/platform/postgres"
	"github.com/skydish/api/internal/platform/push"
	"github.com/skydish/api/internal/platform/secrets"
	"github.com/skydish/api/internal/repositories"
	firestoreRepo "github.com/skydish/api/internal/repositories/firestore"
	pgRepo "github.com/skydish/api/internal/repositories/postgres"
	"github.com/skydish/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	pgLogger := logger.Named("postgres").Sugar()
	pool, err := ppg.Connect(ctx, cfg.Database, ppg.WithLogf(pgLogger.Infof))
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Database.RunMigrations {
		if err := ppg.Migrate(ctx, pool, pgLogger.Infof); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
	}
	unitOfWork := ppg.NewUnitOfWork(pool)

	orderRepo, err := pgRepo.NewOrderRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	cartRepo, err := pgRepo.NewCartRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	catalogRepo, err := pgRepo.NewCatalogRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}
	reportRepo, err := pgRepo.NewReportRepository(pool)
	if err != nil {
		logger.Fatal("failed to initialise report repository", zap.Error(err))
	}

	var firestoreOpts []pfirestore.ProviderOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	addressRepo, err := firestoreRepo.NewAddressRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise address repository", zap.Error(err))
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	ranges := newDeliveryRangeChecker(logger.Named("geo"), cfg, redisClient)

	paymentsLogger := observability.EventLogger(logger.Named("payments"))
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        paymentsLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	var managerOpts []payments.ManagerOption
	if provider := strings.TrimSpace(cfg.PSP.Provider); provider != "" {
		managerOpts = append(managerOpts, payments.WithDefaultProvider(provider))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Gateway{
		"stripe": stripeProvider,
	}, managerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	hub := push.NewHub(push.WithLogger(observability.EventLogger(logger.Named("push"))))
	events, closeEvents := newOrderEventPublisher(ctx, logger.Named("events"), cfg, hub)
	defer closeEvents()

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     orderRepo,
		Carts:      cartRepo,
		Addresses:  addressRepo,
		UnitOfWork: unitOfWork,
		Gateway:    paymentManager,
		Ranges:     ranges,
		Events:     events,
		Currency:   cfg.PSP.Currency,
		NotifyURL:  cfg.PSP.NotifyURL,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Repository: cartRepo,
		Catalog:    catalogRepo,
		UnitOfWork: unitOfWork,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	reportService, err := services.NewReportService(services.ReportServiceDeps{
		Reports:  reportRepo,
		Location: cfg.Shop.Location(),
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	sweeperLogger := observability.EventLogger(logger.Named("sweeper"))
	sweeper, err := services.NewReconciliationSweeper(services.SweeperDeps{
		Orders:          orderRepo,
		Lifecycle:       orderService,
		UnpaidTimeout:   cfg.Sweeper.UnpaidTimeout,
		DeliveryTimeout: cfg.Sweeper.DeliveryTimeout,
		BatchSize:       cfg.Sweeper.BatchSize,
		Clock:           time.Now,
		Logger:          sweeperLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciliation sweeper", zap.Error(err))
	}

	systemService, err := newSystemService(pool, firestoreProvider, redisClient, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore, err := newIdempotencyStore(redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	scheduler := jobs.NewScheduler(
		jobs.WithRunTimeout(time.Minute),
		jobs.WithSchedulerLogger(observability.EventLogger(logger.Named("scheduler"))),
	)
	if err := registerJobs(scheduler, cfg, sweeper, idempotencyStore, logger.Named("scheduler")); err != nil {
		logger.Fatal("failed to register scheduled jobs", zap.Error(err))
	}
	jobsCtx, jobsCancel := context.WithCancel(observability.WithLogger(context.Background(), logger.Named("scheduler")))
	scheduler.Start(jobsCtx)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService,
		handlers.WithSubmitMiddlewares(idempotencyMiddleware),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, cartService)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, orderService)
	reportHandlers := handlers.NewReportHandlers(authenticator, reportService, cfg.Shop.Location())
	pushHandlers := handlers.NewPushHandlers(authenticator, hub)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(paymentManager, orderService,
		handlers.WithWebhookLogger(observability.EventLogger(logger.Named("webhooks"))),
	)
	sweepHandlers := handlers.NewSweepHandlers(sweeper)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithCartRoutes(cartHandlers.Routes))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(handlers.CombineRegistrars(
		adminOrderHandlers.Routes,
		reportHandlers.Routes,
		pushHandlers.Routes,
	)))
	opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(sweepHandlers.Routes))
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("skydish api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	jobsCancel()
	scheduler.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newDeliveryRangeChecker returns nil when no geo provider is configured, which disables the range check.
func newDeliveryRangeChecker(logger *zap.Logger, cfg config.Config, cache *redis.Client) services.DeliveryRangeChecker {
	if strings.TrimSpace(cfg.Geo.APIKey) == "" {
		logger.Warn("geo: api key not configured; delivery range checks disabled")
		return nil
	}
	client, err := geo.NewClient(cfg.Geo)
	if err != nil {
		logger.Fatal("failed to initialise geo client", zap.Error(err))
	}
	var geocoder geo.Geocoder = client
	if cache != nil {
		geocoder = geo.NewCachedGeocoder(client, cache, cfg.Geo.CacheTTL, geo.WithCacheLogf(logger.Sugar().Warnf))
	}
	checker, err := services.NewDeliveryRangeChecker(services.DeliveryRangeConfig{
		Lookup:      client,
		Geocoder:    geocoder,
		ShopAddress: cfg.Shop.Address,
		MaxMeters:   cfg.Shop.MaxDeliveryMeters,
		Timeout:     cfg.Geo.Timeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery range checker", zap.Error(err))
	}
	return checker
}

// newOrderEventPublisher fans order events out to the merchant push hub and any configured brokers.
func newOrderEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config, hub *push.Hub) (services.OrderEventPublisher, func()) {
	targets := []services.OrderEventPublisher{hub}
	var closers []io.Closer

	if topicName := strings.TrimSpace(cfg.Events.PubSubTopic); topicName != "" {
		projectID := strings.TrimSpace(cfg.Events.PubSubProjectID)
		if projectID == "" {
			projectID = traceProjectID(cfg)
		}
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := client.Topic(topicName)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise pubsub publisher", zap.Error(err))
		}
		targets = append(targets, publisher)
		closers = append(closers, closerFunc(func() error {
			topic.Stop()
			return client.Close()
		}))
	}

	if url := strings.TrimSpace(cfg.Events.AMQPURL); url != "" {
		publisher, err := jobs.DialAMQPOrderEventPublisher(url, cfg.Events.AMQPExchange)
		if err != nil {
			logger.Fatal("failed to initialise amqp publisher", zap.Error(err))
		}
		targets = append(targets, publisher)
		closers = append(closers, publisher)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("event publisher close error", zap.Error(err))
			}
		}
	}
	return jobs.NewFanoutPublisher(targets...), closeAll
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newIdempotencyStore prefers Redis so replays survive across instances.
func newIdempotencyStore(client *redis.Client) (idempotency.Store, error) {
	if client == nil {
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewRedisStore(client)
}

func registerJobs(s *jobs.Scheduler, cfg config.Config, sweeper services.ReconciliationSweeper, store idempotency.Store, logger *zap.Logger) error {
	if cfg.Sweeper.Enabled {
		if err := s.Every("sweep.unpaid", cfg.Sweeper.UnpaidInterval, func(ctx context.Context) error {
			_, err := sweeper.SweepUnpaid(ctx)
			return err
		}); err != nil {
			return err
		}
		if err := s.Daily("sweep.deliveries", cfg.Sweeper.DeliveryHour, cfg.Shop.Location(), func(ctx context.Context) error {
			_, err := sweeper.SweepStuckDeliveries(ctx)
			return err
		}); err != nil {
			return err
		}
	} else {
		logger.Info("sweeper disabled; reconciliation only runs via internal routes")
	}

	if cfg.Idempotency.CleanupInterval > 0 {
		batch := cfg.Idempotency.CleanupBatchSize
		return s.Every("idempotency.cleanup", cfg.Idempotency.CleanupInterval, func(ctx context.Context) error {
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), batch)
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
			return nil
		})
	}
	return nil
}

func newSystemService(pool *pgxpool.Pool, provider *pfirestore.Provider, cache *redis.Client, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if pool != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: time.Second,
			Check:   pool.Ping,
		})
	}
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})
	}
	if cache != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return cache.Ping(ctx).Err()
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	events := auth.EventLogger(observability.EventLogger(logger))
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(events))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(events))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
