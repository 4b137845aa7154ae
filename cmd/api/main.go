package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atelier3d/atelier/internal/api"
	"github.com/atelier3d/atelier/internal/api/handler"
	"github.com/atelier3d/atelier/internal/api/middleware"
	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/config"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/atelier3d/atelier/internal/notify"
	"github.com/atelier3d/atelier/internal/repository"
	"github.com/atelier3d/atelier/internal/service"
	"github.com/atelier3d/atelier/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatalf("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)

	// Initialize artifact storage (supports MinIO, R2, S3)
	artifactStore, err := storage.NewStore(&storage.S3Config{
		Type:      storage.BackendType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLog.WithError(err).Fatalf("Failed to initialize artifact storage")
	}

	ctx := context.Background()
	if err := artifactStore.EnsureBucket(ctx); err != nil {
		appLog.WithError(err).Fatalf("Failed to ensure storage bucket")
	}

	// Compute API client
	computeClient := compute.NewClient(&compute.Config{
		BaseURL: cfg.Compute.BaseURL,
		APIKey:  cfg.Compute.APIKey,
		Timeout: cfg.Compute.Timeout,
	})

	// Terminal-state notifications: always in-process, Redis when configured
	broadcaster := notify.NewBroadcaster(cfg.Notify.Buffer)
	notifiers := notify.Fanout{broadcaster}
	if cfg.Notify.RedisURL != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.Notify.RedisURL, cfg.Notify.Channel)
		if err != nil {
			appLog.WithError(err).Fatalf("Failed to initialize Redis notifier")
		}
		if err := redisNotifier.Ping(ctx); err != nil {
			appLog.WithError(err).Fatalf("Failed to reach Redis")
		}
		defer redisNotifier.Close()
		notifiers = append(notifiers, redisNotifier)
	}

	// Initialize services
	materializer := service.NewMaterializer(computeClient, artifactStore, appLog)
	reconciler := service.NewReconciler(jobRepo, materializer, notifiers, appLog)
	poller := service.NewPoller(jobRepo, computeClient, reconciler, appLog, &service.PollerConfig{
		FreshnessWindow: cfg.Poller.FreshnessWindow,
		BatchSize:       cfg.Poller.BatchSize,
		ExpireAfter:     cfg.Poller.ExpireAfter,
	})
	submissionService := service.NewSubmissionService(jobRepo, computeClient, appLog)

	// Setup router
	router := api.SetupRouter(appLog, &api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Jobs:    handler.NewJobHandler(submissionService, jobRepo),
		Webhook: handler.NewWebhookHandler(jobRepo, reconciler),
		Poll:    handler.NewPollHandler(poller, cfg.Poller.Secret),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Resident poll ticker; interval 0 leaves polling to the HTTP trigger
	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	if cfg.Poller.Interval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Poller.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-tickerCtx.Done():
					return
				case <-ticker.C:
					if _, err := poller.RunOnce(tickerCtx); err != nil {
						appLog.WithError(err).Errorf("Poll cycle failed")
					}
				}
			}
		}()
	}

	// Start server in goroutine
	go func() {
		appLog.Infof("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatalf("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Infof("Shutting down server...")
	stopTicker()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatalf("Server forced to shutdown")
	}

	appLog.Infof("Server exited")
}
