// Package app wires the trading client together: the BUX platform clients,
// the lifecycle engine, the quote feed, and the optional telemetry
// (metrics, Redis mirror, quote capture, notifications).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quintic/buxbot/internal/config"
	"github.com/quintic/buxbot/internal/domain"
	"github.com/quintic/buxbot/internal/engine"
	"github.com/quintic/buxbot/internal/feed"
	"github.com/quintic/buxbot/internal/gateway"
	"github.com/quintic/buxbot/internal/platform/bux"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the feed and telemetry goroutines, and
// blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	trades := make([]domain.TradeConfig, 0, len(a.cfg.Trades))
	for _, t := range a.cfg.Trades {
		trades = append(trades, t.ToDomain())
	}

	broker := bux.NewClient(a.cfg.Broker.URL, a.cfg.Broker.Token, a.cfg.Broker.Timeout.Duration)
	gw := gateway.New(broker, a.logger)

	events := make(chan domain.LifecycleEvent, 64)
	eng := engine.New(trades, gw, events, a.logger)

	quotes := make(chan domain.QuoteEvent, 256)
	handler := func(ctx context.Context, ev domain.QuoteEvent) {
		deps.Metrics.Quotes.WithLabelValues(string(ev.Kind)).Inc()
		eng.HandleQuote(ctx, ev)
		if deps.QuoteCache != nil && ev.IsQuote() {
			// Mirroring must not block the read loop; drop under pressure.
			select {
			case quotes <- ev:
			default:
			}
		}
	}

	var rawTap bux.RawFrameHandler
	var recorder *feed.Recorder
	if deps.BlobWriter != nil {
		recorder = feed.NewRecorder(deps.BlobWriter, a.cfg.Capture.Prefix, a.cfg.Capture.FlushInterval.Duration, a.logger)
		rawTap = recorder.Record
	}

	quoteFeed := feed.New(a.cfg.Feed.URL, a.cfg.Feed.Token, eng.ActiveProducts, handler, rawTap, a.logger)
	eng.SetUnsubscriber(quoteFeed)

	// A clean feed exit (every position closed) must still stop the
	// telemetry goroutines, so it cancels the group context itself.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := quoteFeed.Run(ctx)
		if err == nil {
			a.logger.Info("all positions closed, feed finished")
			cancel()
		}
		return err
	})

	g.Go(func() error {
		return a.runTelemetry(ctx, deps, events, quotes)
	})

	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}

	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return a.serveMetrics(ctx, deps)
		})
	}

	a.logger.InfoContext(ctx, "trading client started",
		slog.Int("trades", len(trades)),
		slog.String("feed_url", a.cfg.Feed.URL),
	)

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serveMetrics runs the Prometheus endpoint until ctx is cancelled.
func (a *App) serveMetrics(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", deps.Metrics.Handler())

	srv := &http.Server{
		Addr:    a.cfg.Metrics.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.logger.Info("metrics listening", slog.String("addr", a.cfg.Metrics.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: metrics server: %w", err)
	}
}
