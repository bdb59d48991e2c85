package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/telehealth-booking/cmd/mainconfig"
	"github.com/wolfman30/telehealth-booking/internal/api/router"
	"github.com/wolfman30/telehealth-booking/internal/app/bootstrap"
	"github.com/wolfman30/telehealth-booking/internal/appointments"
	"github.com/wolfman30/telehealth-booking/internal/chat"
	appconfig "github.com/wolfman30/telehealth-booking/internal/config"
	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/internal/events"
	httpmiddleware "github.com/wolfman30/telehealth-booking/internal/http/middleware"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/internal/notify"
	"github.com/wolfman30/telehealth-booking/internal/observability/metrics"
	"github.com/wolfman30/telehealth-booking/internal/scheduling"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

const notifyConsumer = "appointment-notifier"

func main() {
	// Local development reads .env; deployed environments set real variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting telehealth-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	metricsHandler, bookingMetrics := setupMetrics()

	// Core booking pipeline
	dir := directory.NewCachedDirectory(directory.NewPostgresDirectory(pool), redisClient, cfg.DirectoryCacheTTL, logger)
	repo := appointments.NewPostgresRepository(pool)
	grid, err := bootstrap.BuildSlotGrid(cfg)
	if err != nil {
		logger.Error("failed to build slot grid", "error", err)
		os.Exit(1)
	}
	allocator := scheduling.NewAllocator(repo, grid, bootstrap.SchedulingOptions(redisClient, cfg, logger)...)

	provider, err := bootstrap.BuildVideoProvider(cfg, logger)
	if err != nil {
		logger.Error("failed to build video provider", "error", err)
		os.Exit(1)
	}
	outbox := events.NewOutboxStore(pool)
	meetingStore := meetings.NewPostgresStore(pool)
	provisioner := meetings.NewProvisioner(provider, meetingStore, meetings.ProvisionerConfig{
		PersistAttempts:     cfg.MeetingPersistAttempts,
		PersistBackoff:      cfg.MeetingPersistBackoff,
		CompensationTimeout: cfg.CompensationTimeout,
	}, meetings.WithOutbox(outbox), meetings.WithMetrics(bookingMetrics), meetings.WithLogger(logger))

	service := appointments.NewService(repo, dir, allocator, provisioner,
		appointments.WithOutbox(outbox),
		appointments.WithMetrics(bookingMetrics),
		appointments.WithLogger(logger),
		appointments.WithConfig(appointments.Config{AllowReopen: cfg.LifecycleAllowReopen}),
	)
	chatService := chat.NewService(chat.NewSQLStore(stdlib.OpenDBFromPool(pool)), dir, logger)

	// Outbox consumers
	var awsCfg *aws.Config
	if mainconfig.AWSNeeded(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}
	emailSender, emailReason := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("email transport selected", "provider", cfg.EmailProvider, "detail", emailReason)
	notifier := notify.NewAppointmentNotifier(emailSender, dir, grid.Location, logger)

	var forwarder events.DeliveryHandler
	if cfg.EventsQueueURL != "" && awsCfg != nil {
		forwarder = events.NewSQSForwarder(sqs.NewFromConfig(*awsCfg), cfg.EventsQueueURL)
	}
	handler := buildEventMux(events.NewProcessedStore(pool), notifier, meetings.OrphanRoomHandler(provisioner), forwarder)
	go events.NewDeliverer(outbox, handler, logger).
		WithBatchSize(int32(cfg.OutboxBatch)).
		WithInterval(cfg.OutboxInterval).
		Start(ctx)

	if cfg.ReconcileEnabled {
		go meetings.NewReconciler(meetingStore, repo, provisioner, logger).
			WithGrace(cfg.ReconcileGrace).
			WithInterval(cfg.ReconcileInterval).
			WithMetrics(bookingMetrics).
			Start(ctx)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.StartSweeper(ctx, time.Minute, 10*time.Minute)

	r := router.New(&router.Config{
		Logger:              logger,
		AppointmentsHandler: appointments.NewHandler(service, logger),
		ChatHandler:         chat.NewHandler(chatService, logger),
		MeetingsHandler:     meetings.NewHandler(meetingStore, repo, logger),
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		AuthSecret:          cfg.AuthJWTSecret,
		RateLimiter:         limiter,
		HealthChecks:        healthChecks(pool, redisClient),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		logger.Error("DATABASE_URL is empty")
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// buildEventMux routes appointment events to the notifier (at most once per
// entry), orphan rooms to provider cleanup, and everything else to SQS when
// a forwarder is configured.
func buildEventMux(processed *events.ProcessedStore, notifier, orphans, forwarder events.DeliveryHandler) *events.Mux {
	notifyHandler := notifier
	if processed != nil && notifier != nil {
		notifyHandler = events.Once(processed, notifyConsumer, notifier)
	}
	mux := events.NewMux().
		On(events.TypeAppointmentBooked, notifyHandler).
		On(events.TypeAppointmentUpdated, notifyHandler).
		On(events.TypeMeetingOrphanRoom, orphans)
	if forwarder != nil {
		mux.On(events.TypeAppointmentBooked, forwarder).
			On(events.TypeAppointmentUpdated, forwarder).
			Fallback(forwarder)
	}
	return mux
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]router.Pinger {
	checks := map[string]router.Pinger{}
	if pool != nil {
		checks["database"] = pool
	}
	if redisClient != nil {
		checks["redis"] = redisPinger{client: redisClient}
	}
	return checks
}
