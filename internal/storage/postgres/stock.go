package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
)

const (
	getStockLevelSQL = `SELECT name, stock FROM products WHERE id = $1`

	// The predicate is re-evaluated against the latest committed row after
	// waiting on a concurrent writer, so stock never goes negative.
	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
		RETURNING name, stock`
)

// StockRepository implements stock.Repository backed by PostgreSQL.
type StockRepository struct {
	db dbtx
}

func (r *StockRepository) Level(ctx context.Context, productID string) (stock.Level, error) {
	lvl := stock.Level{ProductID: productID}
	var onHand int32
	if err := r.db.QueryRow(ctx, getStockLevelSQL, productID).Scan(&lvl.Name, &onHand); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, product.ErrNotFound
		}
		return stock.Level{}, errors.Wrapf(err, "get stock of %q", productID)
	}
	lvl.OnHand = int(onHand)
	return lvl, nil
}

// Decrement subtracts amount in a single conditional UPDATE. When no row is
// updated the current level decides between not found and insufficient stock.
func (r *StockRepository) Decrement(ctx context.Context, productID string, amount int) (stock.Level, error) {
	lvl := stock.Level{ProductID: productID}
	var onHand int32
	err := r.db.QueryRow(ctx, decrementStockSQL, productID, amount).Scan(&lvl.Name, &onHand)
	switch {
	case err == nil:
		lvl.OnHand = int(onHand)
		return lvl, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return stock.Level{}, errors.Wrapf(err, "decrement stock of %q", productID)
	}

	cur, err := r.Level(ctx, productID)
	if err != nil {
		return stock.Level{}, err
	}
	return stock.Level{}, &stock.InsufficientStockError{
		ProductID: productID,
		Name:      cur.Name,
		Available: cur.OnHand,
	}
}
