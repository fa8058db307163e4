// Package stock owns the authoritative per-product quantity on hand.
//
// All mutation funnels through Ledger.Decrement, which relies on the
// repository's single-row compare-and-decrement for atomicity across
// concurrent transactions. Low-stock alerts are produced by Signal once the
// surrounding transaction has committed, so a rolled back decrement never
// reaches a consumer.
package stock

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/agromarket/internal/domain/notify"
)

// DefaultLowThreshold is the on-hand quantity at or below which a decrement
// produces a low-stock alert.
const DefaultLowThreshold = 40

// ErrInvalidAmount is returned for non-positive quantities.
var ErrInvalidAmount = errors.New("quantity must be greater than 0")

// InsufficientStockError indicates that a product has fewer units on hand than
// requested.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("only %d items available for %s", e.Available, name)
}

// Level is the on-hand quantity of a product at a point in time.
type Level struct {
	ProductID string
	Name      string
	OnHand    int
}

// Availability is the result of a read-only stock check.
type Availability struct {
	Available bool
	OnHand    int
}

// Movement records a committed-or-pending decrement.
type Movement struct {
	ProductID string
	Name      string
	Quantity  int
	Remaining int
	// Low is set when Remaining is at or below the ledger threshold.
	Low bool
}

// Repository is the storage port of the ledger. Implementations may be bound
// to a transaction.
type Repository interface {
	// Level returns the current on-hand quantity, or product.ErrNotFound.
	Level(ctx context.Context, productID string) (Level, error)
	// Decrement atomically subtracts amount when at least amount units are on
	// hand and returns the new level. It returns *InsufficientStockError and
	// leaves the row untouched otherwise.
	Decrement(ctx context.Context, productID string, amount int) (Level, error)
}

// Alerter receives low-stock alerts.
type Alerter interface {
	PublishLowStock(ctx context.Context, e notify.LowStock)
}

// Ledger exposes availability checks and atomic decrements.
type Ledger struct {
	repo      Repository
	alerts    Alerter
	threshold int
}

// NewLedger creates a Ledger over repo. A non-positive threshold selects
// DefaultLowThreshold.
func NewLedger(repo Repository, alerts Alerter, threshold int) *Ledger {
	if threshold <= 0 {
		threshold = DefaultLowThreshold
	}
	if alerts == nil {
		alerts = notify.Nop{}
	}
	return &Ledger{
		repo:      repo,
		alerts:    alerts,
		threshold: threshold,
	}
}

// With returns a copy of the ledger operating on repo, typically a
// transaction-scoped repository.
func (l *Ledger) With(repo Repository) *Ledger {
	c := *l
	c.repo = repo
	return &c
}

// Threshold returns the low-stock threshold.
func (l *Ledger) Threshold() int { return l.threshold }

// CheckAvailability reports whether quantity units of the product are on hand.
func (l *Ledger) CheckAvailability(ctx context.Context, productID string, quantity int) (Availability, error) {
	lvl, err := l.repo.Level(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		Available: quantity <= lvl.OnHand,
		OnHand:    lvl.OnHand,
	}, nil
}

// Decrement subtracts amount units of the product. The stock is left
// unchanged on any error.
func (l *Ledger) Decrement(ctx context.Context, productID string, amount int) (Movement, error) {
	if amount <= 0 {
		return Movement{}, ErrInvalidAmount
	}
	lvl, err := l.repo.Decrement(ctx, productID, amount)
	if err != nil {
		return Movement{}, err
	}
	return Movement{
		ProductID: productID,
		Name:      lvl.Name,
		Quantity:  amount,
		Remaining: lvl.OnHand,
		Low:       lvl.OnHand <= l.threshold,
	}, nil
}

// Signal emits a low-stock alert for every low movement and returns how many
// were emitted. Call it only after the decrements are durable.
func (l *Ledger) Signal(ctx context.Context, movements ...Movement) int {
	var n int
	for _, m := range movements {
		if !m.Low {
			continue
		}
		l.alerts.PublishLowStock(ctx, notify.LowStock{
			ProductID: m.ProductID,
			Name:      m.Name,
			Remaining: m.Remaining,
		})
		n++
	}
	return n
}
