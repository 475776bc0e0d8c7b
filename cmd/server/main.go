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

	"github.com/timmy/confingest/internal/api"
	"github.com/timmy/confingest/internal/app"
	"github.com/timmy/confingest/internal/config"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/service"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer func() { _ = logger.Sync() }()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	pool := service.NewPool(a.Orchestrator, a.Metrics, service.PoolConfig{
		Workers:   cfg.Worker.Workers,
		QueueSize: cfg.Worker.QueueSize,
	})
	pool.Start(ctx)

	reaper := service.NewReaper(a.Jobs, a.Orchestrator, pool, cfg.Worker.StaleAfter, cfg.Worker.ReapInterval)
	go reaper.Run(ctx)

	// Pick up archives that were stored while the server was down.
	resumeStored(ctx, a, pool, cfg.Worker.QueueSize)

	router := api.SetupRouter(api.Deps{
		Jobs:        a.Jobs,
		Queue:       pool,
		DB:          a.SQL,
		Metrics:     a.Metrics,
		MetricsPath: cfg.Metrics.Path,
		Logger:      appLogger,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Server.Port,
			"mode":    cfg.Server.Mode,
			"workers": cfg.Worker.Workers,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// In-flight attempts are cancelled; their heartbeats stop and the
	// reaper of the next process recovers them.
	cancel()
	pool.Stop()

	appLogger.Info("Server exited")
}

func resumeStored(ctx context.Context, a *app.App, pool *service.Pool, limit int) {
	jobs, err := a.Jobs.ListByState(ctx, domain.JobStateStored, limit)
	if err != nil {
		logger.GetDefault().WithError(err).Warn("Failed to list stored jobs")
		return
	}
	for _, job := range jobs {
		if err := pool.Enqueue(job.ID); err != nil {
			logger.GetDefault().WithError(err).WithField("job_id", job.ID).Warn("Failed to enqueue stored job")
			return
		}
	}
	if len(jobs) > 0 {
		logger.GetDefault().WithField("count", len(jobs)).Info("Resumed stored jobs")
	}
}
