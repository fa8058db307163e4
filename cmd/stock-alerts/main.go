// Command stock-alerts consumes low-stock alerts and relays them to a
// Telegram chat.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/agromarket/internal/alerts"
	"github.com/xenking/agromarket/internal/notify/dedup"
	"github.com/xenking/agromarket/internal/notify/rabbitmq"
	"github.com/xenking/agromarket/internal/notify/telegram"
	"github.com/xenking/agromarket/pkg/health"
	"github.com/xenking/agromarket/pkg/httpmiddleware"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(ctx, lg, m, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	healthSvc := health.New()
	healthSvc.Register("goroutines", health.Liveness, time.Second, health.GoroutineProbe(10000))

	var seen alerts.Deduper
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		seen = dedup.New(rdb, "shop:alerts:", cfg.DedupTTL)
		healthSvc.Register("redis", health.Readiness, 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	} else {
		lg.Warn("Duplicate suppression disabled: no Redis URL configured")
	}

	chat := telegram.New(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
	relay := alerts.NewRelay(chat, seen)
	consumer := &rabbitmq.Consumer{
		URL:      cfg.AMQPURL,
		Queue:    cfg.Queue,
		Handler:  relay.Handle,
		Prefetch: cfg.Prefetch,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveHandler)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyHandler)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("stock-alerts", httpmiddleware.MakeRouteFinder(mux), m),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()
	healthSvc.SetReady(true)

	lg.Info("Relaying low-stock alerts", zap.String("queue", cfg.Queue), zap.String("health_addr", cfg.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "health server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
