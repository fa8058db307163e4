package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, address_id, total, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

	// Default name of the orders.address_id foreign key.
	orderAddressFKey = "orders_address_id_fkey"

	addOrderLineSQL = `INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)`

	orderColumns = `o.id, o.user_id, COALESCE(o.address_id, ''), o.total, o.status, o.created_at,
		a.street, a.city, a.postal_code, a.country`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN addresses a ON a.id = o.address_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC, o.id`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders o LEFT JOIN addresses a ON a.id = o.address_id
		WHERE o.id = $1 AND o.user_id = $2`

	listOrderLinesSQL = `SELECT i.product_id, p.name, i.quantity, i.price
		FROM order_items i JOIN products p ON p.id = i.product_id
		WHERE i.order_id = $1
		ORDER BY i.product_id`
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db dbtx
}

// Create persists the order header. Lines are added with AddLine.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.db.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.AddressID, o.Total, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		if violatesForeignKey(err, orderAddressFKey) {
			// The address was deleted after the ownership check.
			return address.ErrNotFound
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) AddLine(ctx context.Context, orderID string, l order.Line) error {
	_, err := r.db.Exec(ctx, addOrderLineSQL, orderID, l.ProductID, l.Quantity, l.Price)
	if err != nil {
		return errors.Wrapf(err, "add line %q to order %q", l.ProductID, orderID)
	}
	return nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of user %q", userID)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of user %q", userID)
	}
	return orders, nil
}

func (r *OrderRepository) Get(ctx context.Context, userID, orderID string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, getOrderSQL, orderID, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", orderID)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", orderID)
	}

	rows, err = r.db.Query(ctx, listOrderLinesSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of order %q", orderID)
	}
	o.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var (
			l   order.Line
			qty int32
		)
		err := row.Scan(&l.ProductID, &l.ProductName, &qty, &l.Price)
		l.Quantity = int(qty)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of order %q", orderID)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		status                            string
		createdAt                         time.Time
		street, city, postalCode, country *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.AddressID, &o.Total, &status, &createdAt,
		&street, &city, &postalCode, &country,
	)
	o.Status = order.Status(status)
	o.CreatedAt = createdAt.UTC()
	if street != nil {
		o.Shipping = &order.Shipping{
			Street:     *street,
			City:       deref(city),
			PostalCode: deref(postalCode),
			Country:    deref(country),
		}
	}
	return o, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
