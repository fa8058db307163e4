// Package alerts relays low-stock alerts from the queue to a chat.
package alerts

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/domain/notify"
	"github.com/xenking/agromarket/internal/notify/telegram"
)

// Sender delivers a formatted chat message.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

// Deduper runs fn at most once per key.
type Deduper interface {
	Once(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error)
}

// Relay forwards each distinct alert to the chat once.
type Relay struct {
	chat  Sender
	dedup Deduper
	now   func() time.Time
}

// NewRelay creates a Relay. A nil dedup forwards every delivery.
func NewRelay(chat Sender, dedup Deduper) *Relay {
	return &Relay{chat: chat, dedup: dedup, now: time.Now}
}

// Key identifies an alert. Redeliveries of the same product at the same level
// share a key; a further decrement produces a new one.
func Key(e notify.LowStock) string {
	return e.ProductID + ":" + strconv.Itoa(e.Remaining)
}

// Handle sends the chat message for e. An error asks for redelivery.
func (r *Relay) Handle(ctx context.Context, e notify.LowStock) error {
	send := func(ctx context.Context) error {
		if err := r.chat.SendMessage(ctx, telegram.LowStockMessage(e, r.now())); err != nil {
			return errors.Wrap(err, "send chat message")
		}
		return nil
	}
	if r.dedup == nil {
		return send(ctx)
	}

	ran, err := r.dedup.Once(ctx, Key(e), send)
	if err != nil {
		return err
	}
	lg := zctx.From(ctx)
	if !ran {
		lg.Debug("Skipping duplicate alert", zap.String("product_id", e.ProductID), zap.Int("remaining", e.Remaining))
		return nil
	}
	lg.Info("Alert relayed", zap.String("product_id", e.ProductID), zap.Int("remaining", e.Remaining))
	return nil
}
