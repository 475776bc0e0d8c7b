// Package app wires the configured collaborators shared by the server and
// the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/config"
	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/metrics"
	"github.com/timmy/confingest/internal/repository"
	"github.com/timmy/confingest/internal/service"
	"github.com/timmy/confingest/internal/storage"
	"gorm.io/gorm"
)

// App holds the process-wide dependencies.
type App struct {
	Config       *config.Config
	DB           *gorm.DB
	SQL          *sql.DB
	Jobs         *repository.JobRepository
	Writer       *repository.BatchWriter
	Storage      storage.ObjectStorage
	Metrics      *metrics.Metrics
	Orchestrator *service.Orchestrator
}

// New opens the database and blob store and builds the orchestrator.
// Parameters:
//   - ctx: used for startup checks against the blob store.
//   - cfg: loaded and validated configuration.
// Returns:
//   - *App: wired dependencies; Close releases them.
//   - error: non-nil if the database or storage cannot be initialised.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	blobs, err := storage.NewStorage(cfg.GetStorageConfig())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if s3, ok := blobs.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.GetDefault().WithError(err).Warn("Storage bucket check failed")
		}
	}

	m := metrics.New(cfg.Metrics.Enabled)
	jobs := repository.NewJobRepository(db)
	writer := repository.NewBatchWriter(db, cfg.Database.BatchSize)

	retry := service.DefaultRetryPolicy()
	if len(cfg.Worker.Backoff) > 0 {
		retry.Backoff = cfg.Worker.Backoff
	}
	retry.Jitter = cfg.Worker.Jitter

	orch := service.NewOrchestrator(
		jobs,
		writer,
		blobs,
		archive.NewExtractor(cfg.Extract.WorkDir, cfg.Extract.Limits()),
		nil,
		m,
		service.OrchestratorConfig{
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			JobTimeout:        cfg.Worker.JobTimeout,
			Retry:             retry,
		},
	)

	return &App{
		Config:       cfg,
		DB:           db,
		SQL:          sqlDB,
		Jobs:         jobs,
		Writer:       writer,
		Storage:      blobs,
		Metrics:      m,
		Orchestrator: orch,
	}, nil
}

// Close releases the database connection pool.
func (a *App) Close() error {
	return a.SQL.Close()
}
