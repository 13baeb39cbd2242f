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

	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/database"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/http/handler"
	"github.com/ndt-connect/marketplace-api/internal/http/middleware"
	"github.com/ndt-connect/marketplace-api/internal/http/router"
	"github.com/ndt-connect/marketplace-api/internal/jobs"
	"github.com/ndt-connect/marketplace-api/internal/logger"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/ndt-connect/marketplace-api/internal/service"
	"github.com/ndt-connect/marketplace-api/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// expirySweepTimeout bounds one run of the quotation expiry job
const expirySweepTimeout = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.String("version", version),
		zap.Int("port", basicCfg.App.Port),
	)

	// In development secrets come from the environment, elsewhere from Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Warn("Database schema auto-migrated; use the migrate command outside development")
	}

	fileStorage, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	// Trace context rides along on published events
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var publisher events.Publisher
	if cfg.Events.NatsURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events.NatsURL, cfg.Events.SubjectPrefix, cfg.Events.ClientName, log)
		if err != nil {
			return err
		}
		publisher = natsPublisher
		log.Info("Publishing job events to NATS", zap.String("prefix", cfg.Events.SubjectPrefix))
	} else {
		publisher = events.NewLogPublisher(log)
		log.Info("No event bus configured, job events are only logged")
	}
	defer publisher.Close()

	// Repositories
	jobRepo := repository.NewJobRequestRepository(db)
	quotationRepo := repository.NewQuotationRepository(db)
	draftRepo := repository.NewNegotiationDraftRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	offeringRepo := repository.NewServiceOfferingRepository(db)
	factorRepo := repository.NewSurchargeFactorRepository(db)

	// Services
	costingService := service.NewCostingService(offeringRepo, factorRepo, log)
	jobService := service.NewJobRequestService(db, jobRepo, quotationRepo, costingService, fileStorage, &cfg.Storage, notificationRepo, publisher, log)
	quotationService := service.NewQuotationService(db, jobRepo, quotationRepo, draftRepo, notificationRepo, publisher, log)
	draftService := service.NewNegotiationDraftService(draftRepo, quotationRepo, jobRepo, log)
	notificationService := service.NewNotificationService(notificationRepo, log)

	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(cfg, log, authMiddleware, rateLimiter, router.Handlers{
		Health:       handler.NewHealthHandler(db, version, log),
		Catalog:      handler.NewCatalogHandler(costingService, log),
		Jobs:         handler.NewJobRequestHandler(jobService, log),
		Quotations:   handler.NewQuotationHandler(quotationService, draftService, log),
		Notification: handler.NewNotificationHandler(notificationService, log),
	})

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler = jobs.NewScheduler(log)
		expiryJob := jobs.NewQuotationExpiryJob(quotationService, log, expirySweepTimeout)
		if err := scheduler.AddJob(jobs.QuotationExpiryJobName, cfg.Jobs.QuotationExpiryCron, expiryJob.Run); err != nil {
			return fmt.Errorf("failed to register quotation expiry job: %w", err)
		}
		// Catch up on quotations that expired while the server was down
		go expiryJob.Run()
		scheduler.Start()
	} else {
		log.Info("Background jobs disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		if scheduler != nil {
			<-scheduler.Stop().Done()
			log.Info("Scheduler stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}
		log.Info("Server stopped gracefully")
	}

	return nil
}
