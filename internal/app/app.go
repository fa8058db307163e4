package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/agromarket/internal/auth"
	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/handler"
	"github.com/xenking/agromarket/internal/notify"
	"github.com/xenking/agromarket/internal/notify/mailer"
	"github.com/xenking/agromarket/internal/notify/rabbitmq"
	"github.com/xenking/agromarket/pkg/health"
	"github.com/xenking/agromarket/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Health check service.
	healthSvc := health.New()
	if st.pinger != nil {
		healthSvc.Register("postgres", health.Readiness, 5*time.Second, health.PingProbe(st.pinger))
	}
	healthSvc.Register("goroutines", health.Liveness, time.Second, health.GoroutineProbe(10000))

	// Notification transports. A missing URL disables the transport, the
	// dispatcher then drops events of that kind.
	var alerts notify.LowStockPublisher
	if cfg.Notify.AMQPURL != "" {
		pub := rabbitmq.NewPublisher(cfg.Notify.AMQPURL, cfg.Notify.LowStockQueue)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close AMQP publisher", zap.Error(err))
			}
		}()
		alerts = pub
		healthSvc.Register("rabbitmq", health.Advisory, 5*time.Second, health.PingProbe(pub))
	} else {
		lg.Warn("Low-stock alerts disabled: no AMQP URL configured")
	}
	var mail notify.ConfirmationSender
	if cfg.Notify.OrderSummaryURL != "" {
		mail = mailer.New(cfg.Notify.OrderSummaryURL, cfg.Notify.RequestTimeout)
	} else {
		lg.Warn("Order confirmations disabled: no order summary URL configured")
	}

	dispatcher, err := notify.NewDispatcher(alerts, mail, notify.Options{
		MaxAttempts:    cfg.Notify.MaxAttempts,
		RetryInterval:  cfg.Notify.RetryInterval,
		AttemptTimeout: cfg.Notify.RequestTimeout,
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}

	// Domain services.
	ledger := stock.NewLedger(st.stock, dispatcher, cfg.Stock.LowThreshold)
	lg.Info("Stock ledger ready", zap.Int("low_stock_threshold", ledger.Threshold()))
	orderService, err := order.NewService(st.store, st.orders, st.users, ledger, dispatcher,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	cartService := cart.NewService(st.carts, st.products, ledger)
	addressService := address.NewService(st.addresses)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	// HTTP handlers.
	api := http.NewServeMux()
	handler.New(st.products, cartService, addressService, orderService).Register(api, verifier.Require)
	routeFinder := httpmiddleware.MakeRouteFinder(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveHandler)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyHandler)
	mux.Handle("/api/", api)

	middlewares := []httpmiddleware.Middleware{
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("shop-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins:          cfg.CORS.Origins,
			Headers:          []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
			Expose:           []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
	}
	if cfg.RateLimit.Max > 0 {
		middlewares = append(middlewares, httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}))
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpmiddleware.Wrap(mux, middlewares...),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}

		// In-flight requests may have queued notifications until the very end.
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Notify.DrainTimeout)
		defer cancelDrain()
		if err := dispatcher.Close(drainCtx); err != nil {
			lg.Warn("Pending notifications abandoned", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}
