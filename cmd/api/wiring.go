package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/database"
	"github.com/aiprojectops/youtube-shorts-generator/internal/generation"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metadata"
	"github.com/aiprojectops/youtube-shorts-generator/internal/notify"
	"github.com/aiprojectops/youtube-shorts-generator/internal/postprocess"
	"github.com/aiprojectops/youtube-shorts-generator/internal/queue"
	"github.com/aiprojectops/youtube-shorts-generator/internal/scheduler"
	"github.com/aiprojectops/youtube-shorts-generator/internal/store"
	"github.com/aiprojectops/youtube-shorts-generator/internal/upload"
)

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// openStore connects the configured queue store and registers its health
// check
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, checks map[string]HealthCheck, closers *[]io.Closer) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := store.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client)
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		return store.NewRedisStore(client, cfg.Redis.KeyPrefix, logger), nil

	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, closeFunc(db.Close))
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		checks["database"] = db.Health
		return store.NewPostgresStore(db.Pool, logger), nil

	default:
		return store.NewFileStore(cfg.Store.Dir, logger)
	}
}

// buildDispatcher wires every enabled notification channel
func buildDispatcher(cfg *config.Config, logger *logging.Logger, closers *[]io.Closer) (*notify.Dispatcher, error) {
	var notifiers []notify.Notifier

	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if cfg.Notify.AMQP.Enabled {
		a, err := notify.DialAMQP(cfg.Notify.AMQP)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, a)
		notifiers = append(notifiers, a)
	}
	if cfg.Notify.SMS.Enabled {
		s, err := notify.NewSMS(cfg.Notify.SMS)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, s)
	}

	d := notify.NewDispatcher(cfg.Notify.Timeout, logger, notifiers...)
	logger.WithField("channels", d.Len()).Info("Batch notifications configured")
	return d, nil
}

func buildUploader(cfg *config.Config, logger *logging.Logger) (scheduler.Uploader, error) {
	switch cfg.Upload.Backend {
	case "objectstore":
		return upload.NewObjectStore(cfg.Storage, logger)
	default:
		return upload.NewYouTube(cfg.YouTube, logger)
	}
}

// buildScheduler creates the pipeline collaborators and the scheduler
func buildScheduler(cfg *config.Config, manager *queue.Manager, logger *logging.Logger) (*scheduler.Scheduler, error) {
	gen, err := generation.NewClient(cfg.Generation, logger)
	if err != nil {
		return nil, fmt.Errorf("generation client: %w", err)
	}

	uploader, err := buildUploader(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("uploader: %w", err)
	}

	post, err := postprocess.NewFFmpeg(cfg.PostProcess, logger)
	if err != nil {
		return nil, fmt.Errorf("post-processor: %w", err)
	}
	opts := []scheduler.Option{scheduler.WithPostProcessor(post)}

	if cfg.Metadata.Enabled {
		writer, err := metadata.NewWriter(cfg.Metadata, logger)
		if err != nil {
			return nil, fmt.Errorf("metadata writer: %w", err)
		}
		opts = append(opts, scheduler.WithMetadataWriter(writer))
	}

	return scheduler.New(scheduler.Config{
		Interval:           cfg.Scheduler.Interval,
		GenerationLeadTime: cfg.Scheduler.GenerationLeadTime,
		MaxConcurrentUsers: cfg.Scheduler.MaxConcurrentUsers,
		RemoveAfterUpload:  cfg.Scheduler.RemoveAfterUpload,
	}, manager, gen, uploader, logger, opts...), nil
}
