package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quintic/buxbot/internal/blob/s3"
	"github.com/quintic/buxbot/internal/cache/redis"
	"github.com/quintic/buxbot/internal/config"
	"github.com/quintic/buxbot/internal/domain"
	"github.com/quintic/buxbot/internal/metrics"
	"github.com/quintic/buxbot/internal/notify"
)

// Dependencies bundles the optional infrastructure the app wires around the
// trading core. Any of the fields may be nil when the corresponding feature
// is not configured.
type Dependencies struct {
	QuoteCache domain.QuoteCache
	SignalBus  domain.SignalBus
	BusChannel string

	BlobWriter domain.BlobWriter

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire constructs the configured dependency implementations and returns
// them together with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
	}

	// --- Redis telemetry mirror (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.BusChannel = cfg.Redis.Channel
	}

	// --- Market-data capture (optional) ---
	if cfg.Capture.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Capture.Endpoint,
			Region:         cfg.Capture.Region,
			Bucket:         cfg.Capture.Bucket,
			AccessKey:      cfg.Capture.AccessKey,
			SecretKey:      cfg.Capture.SecretKey,
			UseSSL:         cfg.Capture.UseSSL,
			ForcePathStyle: cfg.Capture.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("capture bucket not reachable, capture may fail",
				slog.String("bucket", cfg.Capture.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Operator notifications (optional) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, logger)

	return deps, cleanup, nil
}
