// Package notify delivers shop events to their transports in the background.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/domain/notify"
)

const instrumentationName = "github.com/xenking/agromarket/internal/notify"

// Event kinds, used as the "kind" metric attribute.
const (
	KindLowStock     = "low_stock"
	KindConfirmation = "order_confirmation"
)

// LowStockPublisher delivers a low-stock alert to the queue.
type LowStockPublisher interface {
	PublishLowStock(ctx context.Context, e notify.LowStock) error
}

// ConfirmationSender delivers an order confirmation to the purchaser.
type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, to notify.Recipient, summary notify.OrderSummary) error
}

// Options configures a Dispatcher.
type Options struct {
	// MaxAttempts bounds deliveries per event. Defaults to 3.
	MaxAttempts int
	// RetryInterval separates attempts. Defaults to 5s.
	RetryInterval time.Duration
	// AttemptTimeout bounds a single attempt. Defaults to 10s.
	AttemptTimeout time.Duration

	MeterProvider metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
}

var _ notify.Notifier = (*Dispatcher)(nil)

// Dispatcher implements notify.Notifier. Every event is delivered on its own
// goroutine, detached from the caller's cancellation; callers never block on
// or observe delivery.
type Dispatcher struct {
	alerts LowStockPublisher
	mail   ConfirmationSender
	opts   Options

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
	once   sync.Once

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewDispatcher creates a Dispatcher. A nil transport drops events of its
// kind.
func NewDispatcher(alerts LowStockPublisher, mail ConfirmationSender, opts Options) (*Dispatcher, error) {
	opts.setDefaults()
	d := &Dispatcher{
		alerts: alerts,
		mail:   mail,
		opts:   opts,
		stop:   make(chan struct{}),
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if d.delivered, err = meter.Int64Counter("shop.notifications.delivered",
		metric.WithDescription("Notifications delivered, by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "create delivered counter")
	}
	if d.dropped, err = meter.Int64Counter("shop.notifications.dropped",
		metric.WithDescription("Notifications given up on, by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "create dropped counter")
	}
	return d, nil
}

// PublishLowStock queues a low-stock alert.
func (d *Dispatcher) PublishLowStock(ctx context.Context, e notify.LowStock) {
	lg := zctx.From(ctx).With(zap.String("product_id", e.ProductID), zap.Int("remaining", e.Remaining))
	if d.alerts == nil {
		lg.Debug("Low stock alert discarded: no publisher configured")
		return
	}
	d.emit(ctx, lg, KindLowStock, func(ctx context.Context) error {
		return d.alerts.PublishLowStock(ctx, e)
	})
}

// SendOrderConfirmation queues an order confirmation.
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, to notify.Recipient, summary notify.OrderSummary) {
	lg := zctx.From(ctx).With(zap.String("order_id", summary.OrderID))
	if d.mail == nil {
		lg.Debug("Order confirmation discarded: no sender configured")
		return
	}
	d.emit(ctx, lg, KindConfirmation, func(ctx context.Context) error {
		return d.mail.SendOrderConfirmation(ctx, to, summary)
	})
}

func (d *Dispatcher) emit(ctx context.Context, lg *zap.Logger, kind string, deliver func(ctx context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		lg.Warn("Notification dropped: dispatcher closed", zap.String("kind", kind))
		d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, lg, kind, deliver)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, lg *zap.Logger, kind string, deliver func(ctx context.Context) error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
		err := deliver(actx)
		cancel()
		if err == nil {
			d.delivered.Add(ctx, 1, attrs)
			lg.Debug("Notification delivered", zap.String("kind", kind), zap.Int("attempt", attempt))
			return
		}
		if attempt >= d.opts.MaxAttempts {
			lg.Error("Notification dropped",
				zap.String("kind", kind),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			d.dropped.Add(ctx, 1, attrs)
			return
		}
		lg.Warn("Notification attempt failed",
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", d.opts.RetryInterval),
			zap.Error(err),
		)

		timer := time.NewTimer(d.opts.RetryInterval)
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			lg.Warn("Notification dropped: shutdown during retry", zap.String("kind", kind))
			d.dropped.Add(ctx, 1, attrs)
			return
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries. When ctx
// expires first, pending retries are abandoned and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.once.Do(func() { close(d.stop) })
		<-done
		return ctx.Err()
	}
}
