package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propleads/internal/api"
	"propleads/internal/app/service"
	"propleads/internal/app/tracker"
	"propleads/internal/app/worker"
	"propleads/internal/common/security"
	"propleads/internal/domain/repository"
	"propleads/internal/platform/config"
	"propleads/internal/platform/database"
	"propleads/internal/platform/observability"
	"propleads/internal/platform/queue"
	"propleads/internal/provider"
)

func main() {
	// 1. Load Configuration
	config.Load()

	logger := observability.NewLogger()
	logger.Info("configuration loaded")

	// 2. Initialize JWT
	security.InitJWT()

	// 3. Initialize Database
	database.Connect()
	defer database.Close()
	database.InitSchema()
	logger.Info("database connected")

	// 4. Initialize Redis
	queue.ConnectRedis()
	defer queue.CloseRedis()
	logger.Info("redis connected")

	// 5. Initialize Repositories
	jobRepo := repository.NewPgBatchJobRepository(database.DB)
	logRepo := repository.NewPgJobLogRepository(database.DB)
	propertyRepo := repository.NewPgPropertyRepository(database.DB)
	campaignRepo := repository.NewPgCampaignRepository(database.DB)
	operatorRepo := repository.NewPgOperatorRepository(database.DB)

	// 6. Initialize Providers
	providers := provider.NewRegistry()
	providers.Register(provider.NewPDPClient(config.AppConfig.ProviderBaseURL, config.AppConfig.ProviderAPIKey))

	// 7. Initialize Services
	authService := service.NewAuthService(operatorRepo)
	jobService := service.NewBatchJobService(jobRepo, logRepo)
	checkTracker := tracker.NewDuplicateCheckJobTracker()
	checkService := service.NewDuplicateCheckService(propertyRepo, checkTracker, queue.RDB,
		config.AppConfig.DuplicateCheckStream, config.AppConfig.DefaultBatchSize, logger)
	campaignService := service.NewCampaignService(campaignRepo, propertyRepo, logger)

	// 8. Initialize Job Queue Worker (as a goroutine)
	queueWorker := worker.NewJobQueueWorker(jobService, providers, propertyRepo, logger, worker.Options{
		PollInterval:    config.AppConfig.WorkerPollInterval,
		MaxConcurrent:   config.AppConfig.WorkerMaxConcurrent,
		Staleness:       config.AppConfig.LockStalenessWindow,
		PageSize:        config.AppConfig.DefaultBatchSize,
		PageDelay:       config.AppConfig.PageDelay,
		DefaultProvider: config.AppConfig.ProviderCode,
	})
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go queueWorker.Start(workerCtx)
	logger.Info("job queue worker started")

	// 9. Metrics endpoint on its own port
	observability.StartMetricsServer(":" + config.AppConfig.MetricsPort)

	// 10. Initialize Router & HTTP Server
	router := api.NewRouter(authService, jobService, checkService, campaignService, queueWorker)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "port", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()

	<-stop // Wait for interrupt signal

	logger.Info("shutting down server")
	workerCancel() // Signal worker to stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	logger.Info("server and worker stopped gracefully")
}
