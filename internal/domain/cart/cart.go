package cart

import (
	"context"
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart operations.
var (
	ErrNotFound         = errors.New("cart not found")
	ErrLineNotFound     = errors.New("item not found in cart")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrQuantityTooLarge = errors.New("quantity is too large")
)

// MaxQuantity is the largest quantity a single cart line can request. It
// matches the INTEGER column that stores line quantities.
const MaxQuantity = math.MaxInt32

// OutOfStockError indicates that the requested quantity exceeds the stock on
// hand at the time of the check.
type OutOfStockError struct {
	ProductID string
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("only %d items available", e.Available)
}

// Line is a product and the quantity of it staged in a cart.
type Line struct {
	ProductID string
	Quantity  int
}

// ViewLine is a cart line priced at the current catalog price.
type ViewLine struct {
	ProductID string
	Name      string
	ImageURL  string
	Quantity  int
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
}

// View is the priced projection of a cart.
type View struct {
	CartID    string
	Lines     []ViewLine
	Total     decimal.Decimal
	ItemCount int
}

// Repository defines persistence operations for carts and their lines.
type Repository interface {
	// FindByUser returns the cart of the user, or ErrNotFound.
	FindByUser(ctx context.Context, userID string) (string, error)
	// GetOrCreate returns the cart of the user, creating an empty one first
	// when the user has none.
	GetOrCreate(ctx context.Context, userID string) (string, error)
	Lines(ctx context.Context, cartID string) ([]Line, error)
	// Line returns a single line, or ErrLineNotFound.
	Line(ctx context.Context, cartID, productID string) (Line, error)
	// AddQuantity inserts the line or adds quantity to the existing one.
	AddQuantity(ctx context.Context, cartID, productID string, quantity int) error
	// SetQuantity overwrites the quantity of an existing line. It reports
	// false when the line does not exist.
	SetQuantity(ctx context.Context, cartID, productID string, quantity int) (bool, error)
	// RemoveLine deletes a line and reports whether it existed.
	RemoveLine(ctx context.Context, cartID, productID string) (bool, error)
	Clear(ctx context.Context, cartID string) error
}
