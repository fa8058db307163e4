package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/product"
)

const (
	findCartByUserSQL = `SELECT id FROM carts WHERE user_id = $1`

	getOrCreateCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`

	listCartLinesSQL = `SELECT product_id, quantity FROM cart_items
		WHERE cart_id = $1 ORDER BY product_id`

	getCartLineSQL = `SELECT product_id, quantity FROM cart_items
		WHERE cart_id = $1 AND product_id = $2`

	addCartQuantitySQL = `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	setCartQuantitySQL = `UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2`

	removeCartLineSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`
)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db dbtx
}

func (r *CartRepository) FindByUser(ctx context.Context, userID string) (string, error) {
	var id string
	if err := r.db.QueryRow(ctx, findCartByUserSQL, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", cart.ErrNotFound
		}
		return "", errors.Wrapf(err, "find cart of user %q", userID)
	}
	return id, nil
}

// GetOrCreate relies on the unique user_id constraint so concurrent first
// accesses converge on a single cart.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (string, error) {
	var id string
	if err := r.db.QueryRow(ctx, getOrCreateCartSQL, uuid.New().String(), userID).Scan(&id); err != nil {
		return "", errors.Wrapf(err, "get or create cart of user %q", userID)
	}
	return id, nil
}

func (r *CartRepository) Lines(ctx context.Context, cartID string) ([]cart.Line, error) {
	rows, err := r.db.Query(ctx, listCartLinesSQL, cartID)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of cart %q", cartID)
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of cart %q", cartID)
	}
	return lines, nil
}

func (r *CartRepository) Line(ctx context.Context, cartID, productID string) (cart.Line, error) {
	rows, err := r.db.Query(ctx, getCartLineSQL, cartID, productID)
	if err != nil {
		return cart.Line{}, errors.Wrap(err, "get cart line")
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Line{}, cart.ErrLineNotFound
		}
		return cart.Line{}, errors.Wrap(err, "get cart line")
	}
	return l, nil
}

func (r *CartRepository) AddQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	if _, err := r.db.Exec(ctx, addCartQuantitySQL, cartID, productID, quantity); err != nil {
		if isForeignKeyViolation(err) {
			return product.ErrNotFound
		}
		return errors.Wrap(err, "add cart quantity")
	}
	return nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, cartID, productID string, quantity int) (bool, error) {
	tag, err := r.db.Exec(ctx, setCartQuantitySQL, cartID, productID, quantity)
	if err != nil {
		return false, errors.Wrap(err, "set cart quantity")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CartRepository) RemoveLine(ctx context.Context, cartID, productID string) (bool, error) {
	tag, err := r.db.Exec(ctx, removeCartLineSQL, cartID, productID)
	if err != nil {
		return false, errors.Wrap(err, "remove cart line")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	if _, err := r.db.Exec(ctx, clearCartSQL, cartID); err != nil {
		return errors.Wrapf(err, "clear cart %q", cartID)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l   cart.Line
		qty int32
	)
	err := row.Scan(&l.ProductID, &qty)
	l.Quantity = int(qty)
	return l, err
}
