package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses. PlaceOrder only ever creates pending orders.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Sentinel errors for order operations.
var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNotFound  = errors.New("order not found")
)

// ProductNotFoundError indicates a cart line references a product that no
// longer exists.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// TransactionError wraps a failure to begin or commit the order transaction.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Order is a placed order. It is immutable once created.
type Order struct {
	ID        string
	UserID    string
	AddressID string
	Total     decimal.Decimal
	Status    Status
	CreatedAt time.Time
	Lines     []Line
	// Shipping is filled by read queries only.
	Shipping *Shipping
}

// Line is a product of an order with the unit price captured at order time.
type Line struct {
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

// Subtotal returns Price x Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Shipping is the address an order ships to.
type Shipping struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order header.
	Create(ctx context.Context, o *Order) error
	AddLine(ctx context.Context, orderID string, l Line) error
	// ListByUser returns the orders of the user newest first, without lines.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Get returns an order of the user with its lines, or ErrNotFound.
	Get(ctx context.Context, userID, orderID string) (*Order, error)
}

// Store opens transactions over the shop storage.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single unit of work. Every repository it hands out operates inside
// the transaction; nothing is visible to other transactions before Commit.
// Rollback after Commit is a no-op.
type Tx interface {
	Carts() cart.Repository
	Products() product.Repository
	Stock() stock.Repository
	Orders() Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
