package main

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/jobs"
	"github.com/yourusername/paper-batch/internal/pdf"
	"github.com/yourusername/paper-batch/internal/storage"
)

const defaultExpireMinutes = 10

// application は API サーバーが共有するコンポーネントをまとめます。
type application struct {
	scheduler *batch.Scheduler
	pdf       *pdf.Service
	handlers  *jobs.Handlers
	redis     *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*application, error) {
	ttl := jobTTL(cfg)

	workspace, err := storage.NewLocal(cfg.WorkDir, ttl)
	if err != nil {
		return nil, err
	}
	pdfService, err := pdf.NewService(cfg, workspace, logger)
	if err != nil {
		return nil, err
	}

	scheduler := batch.New(
		batch.WithMaxConcurrent(cfg.BatchMaxConcurrent),
		batch.WithLogger(logger),
		batch.WithContext(ctx),
	)
	scheduler.Subscribe(batch.Callbacks{
		OnJobFailed: func(j batch.Job) {
			logger.WithField("job", j.ID).WithError(j.Err).Warn("job failed")
		},
		OnAllComplete: func(s batch.Stats) {
			logger.WithFields(logrus.Fields{
				"total":     s.Total,
				"completed": s.Completed,
				"failed":    s.Failed,
			}).Info("batch completed")
		},
	})

	app := &application{scheduler: scheduler, pdf: pdfService}

	store, err := app.setupStore(ctx, cfg, ttl, logger)
	if err != nil {
		return nil, err
	}
	if store != nil {
		scheduler.Subscribe(jobs.NewRecorder(store, cfg.JobResultBaseURL, logger))
	}
	app.handlers = jobs.NewHandlers(scheduler, store, pdfService, cfg.JobResultBaseURL, logger)
	return app, nil
}

// setupStore は JOB_REDIS_URL が設定されている場合にジョブ記録用の Store を作成します。
func (a *application) setupStore(ctx context.Context, cfg *config.Config, ttl time.Duration, logger logrus.FieldLogger) (*jobs.Store, error) {
	if cfg.JobRedisURL == "" {
		logger.Info("JOB_REDIS_URL is not set; job records are kept in memory only")
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.JobRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JOB_REDIS_URL: %w", err)
	}

	a.redis = redis.NewClient(opt)
	store := jobs.NewStore(a.redis, ttl)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store, nil
}

func (a *application) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func jobTTL(cfg *config.Config) time.Duration {
	minutes := cfg.JobExpireMinutes
	if minutes <= 0 {
		minutes = defaultExpireMinutes
	}
	return time.Duration(minutes) * time.Minute
}
