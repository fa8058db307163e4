// Package notify defines the events the shop emits to external consumers and
// the fire-and-forget port used to emit them.
//
// Emitting never reports failure to the caller: implementations deliver in the
// background and log what they could not deliver.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LowStock signals that a product's on-hand quantity dropped to or below the
// low-stock threshold.
type LowStock struct {
	ProductID string
	Name      string
	Remaining int
}

// Recipient is the purchaser an order confirmation is addressed to.
type Recipient struct {
	Name  string
	Email string
}

// OrderSummary describes a committed order for the purchaser.
type OrderSummary struct {
	OrderID   string
	Status    string
	Total     decimal.Decimal
	CreatedAt time.Time
	Lines     []SummaryLine
}

// SummaryLine is a single product of an OrderSummary.
type SummaryLine struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// Notifier emits shop events to external consumers.
type Notifier interface {
	PublishLowStock(ctx context.Context, e LowStock)
	SendOrderConfirmation(ctx context.Context, to Recipient, summary OrderSummary)
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishLowStock(context.Context, LowStock) {}

func (Nop) SendOrderConfirmation(context.Context, Recipient, OrderSummary) {}
