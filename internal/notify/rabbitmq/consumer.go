package rabbitmq

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/domain/notify"
)

const defaultHandleTimeout = 30 * time.Second

// HandlerFunc processes a single alert. A non-nil error requeues the delivery.
type HandlerFunc func(ctx context.Context, e notify.LowStock) error

// Acknowledger is the subset of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer reads low-stock alerts with manual acknowledgement.
type Consumer struct {
	URL     string
	Queue   string
	Handler HandlerFunc

	Prefetch       int
	HandleTimeout  time.Duration
	ReconnectDelay time.Duration
}

// Run consumes until ctx is done, reconnecting after ReconnectDelay whenever
// the connection is lost.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Handler == nil {
		return errors.New("handler is required")
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}

	lg := zctx.From(ctx).With(zap.String("queue", c.Queue))
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		lg.Warn("Consumer disconnected, reconnecting",
			zap.Duration("delay", c.ReconnectDelay),
			zap.Error(err),
		)
		timer := time.NewTimer(c.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	if err := declareQueue(ch, c.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	deliveries, err := ch.Consume(
		c.Queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	zctx.From(ctx).Info("Waiting for low stock alerts", zap.String("queue", c.Queue))
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handle(ctx, d.Body, d)
		}
	}
}

// Handle decodes body and settles it: malformed messages are dropped,
// handler failures requeued, successes acknowledged.
func (c *Consumer) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	lg := zctx.From(ctx)

	e, err := DecodeLowStock(body)
	if err != nil {
		lg.Error("Dropping malformed alert", zap.ByteString("body", body), zap.Error(err))
		if err := ack.Nack(false, false); err != nil {
			lg.Warn("Nack failed", zap.Error(err))
		}
		return
	}

	lg = lg.With(zap.String("product_id", e.ProductID), zap.Int("stock", e.Remaining))
	timeout := c.HandleTimeout
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	err = c.Handler(zctx.Base(hctx, lg), e)
	cancel()
	if err != nil {
		lg.Warn("Alert handling failed, requeueing", zap.Error(err))
		if err := ack.Nack(false, true); err != nil {
			lg.Warn("Nack failed", zap.Error(err))
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		lg.Warn("Ack failed", zap.Error(err))
		return
	}
	lg.Info("Low stock alert processed")
}
