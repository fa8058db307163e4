package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
)

// Service implements the cart store. Stock checks are optimistic: nothing is
// reserved, the order placement has the final word.
type Service struct {
	carts    Repository
	products product.Repository
	ledger   *stock.Ledger
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository, ledger *stock.Ledger) *Service {
	return &Service{
		carts:    carts,
		products: products,
		ledger:   ledger,
	}
}

// GetOrCreate returns the cart of the user, creating it on first access.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (string, error) {
	id, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "get or create cart")
	}
	return id, nil
}

// AddLine adds quantity units of the product to the cart. The resulting line
// quantity must not exceed the stock on hand.
func (s *Service) AddLine(ctx context.Context, cartID, productID string, quantity int) error {
	switch {
	case quantity <= 0:
		return ErrInvalidQuantity
	case quantity > MaxQuantity:
		return ErrQuantityTooLarge
	}

	current := 0
	line, err := s.carts.Line(ctx, cartID, productID)
	switch {
	case err == nil:
		current = line.Quantity
	case errors.Is(err, ErrLineNotFound):
	default:
		return errors.Wrap(err, "get cart line")
	}

	if err := s.checkStock(ctx, productID, current, quantity); err != nil {
		return err
	}
	if err := s.carts.AddQuantity(ctx, cartID, productID, quantity); err != nil {
		return errors.Wrap(err, "add cart line")
	}
	return nil
}

// UpdateLine overwrites the quantity of an existing line. A zero quantity
// removes the line.
func (s *Service) UpdateLine(ctx context.Context, cartID, productID string, quantity int) error {
	switch {
	case quantity < 0:
		return ErrInvalidQuantity
	case quantity > MaxQuantity:
		return ErrQuantityTooLarge
	case quantity == 0:
		removed, err := s.RemoveLine(ctx, cartID, productID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrLineNotFound
		}
		return nil
	}

	if err := s.checkStock(ctx, productID, 0, quantity); err != nil {
		return err
	}
	found, err := s.carts.SetQuantity(ctx, cartID, productID, quantity)
	if err != nil {
		return errors.Wrap(err, "update cart line")
	}
	if !found {
		return ErrLineNotFound
	}
	return nil
}

// RemoveLine deletes the line of the product and reports whether it existed.
func (s *Service) RemoveLine(ctx context.Context, cartID, productID string) (bool, error) {
	removed, err := s.carts.RemoveLine(ctx, cartID, productID)
	if err != nil {
		return false, errors.Wrap(err, "remove cart line")
	}
	return removed, nil
}

// Clear deletes every line of the cart.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	if err := s.carts.Clear(ctx, cartID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// View prices the cart at the current catalog prices. The total may differ
// from a later order total if prices change before checkout.
func (s *Service) View(ctx context.Context, cartID string) (*View, error) {
	lines, err := s.carts.Lines(ctx, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart lines")
	}

	view := &View{
		CartID: cartID,
		Lines:  make([]ViewLine, 0, len(lines)),
		Total:  decimal.Zero,
	}
	if len(lines) == 0 {
		return view, nil
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			// Product left the catalog; the line is skipped from the
			// projection and rejected at checkout.
			continue
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		view.Lines = append(view.Lines, ViewLine{
			ProductID: p.ID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Quantity:  l.Quantity,
			Price:     p.Price,
			Subtotal:  subtotal,
		})
		view.Total = view.Total.Add(subtotal)
		view.ItemCount += l.Quantity
	}
	return view, nil
}

// checkStock verifies that quantity more units fit on top of the held units
// already in the line. The sum is never computed so it cannot wrap.
func (s *Service) checkStock(ctx context.Context, productID string, held, quantity int) error {
	avail, err := s.ledger.CheckAvailability(ctx, productID, quantity)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "check stock")
	}
	if !avail.Available || quantity > avail.OnHand-held {
		return &OutOfStockError{ProductID: productID, Available: avail.OnHand}
	}
	return nil
}
