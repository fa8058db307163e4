package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/address"
)

const (
	addressColumns = `id, user_id, street, city, postal_code, country, is_default, created_at`

	listAddressesSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE user_id = $1 ORDER BY created_at, id`

	getAddressSQL = `SELECT ` + addressColumns + ` FROM addresses
		WHERE id = $1 AND user_id = $2`

	// Serializes address changes of one user on the owning row.
	lockUserSQL = `SELECT id FROM users WHERE id = $1 FOR UPDATE`

	countAddressesSQL = `SELECT COUNT(*) FROM addresses WHERE user_id = $1`

	clearDefaultAddressSQL = `UPDATE addresses SET is_default = FALSE WHERE user_id = $1 AND is_default`

	insertAddressSQL = `INSERT INTO addresses (id, user_id, street, city, postal_code, country, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	setDefaultAddressSQL = `UPDATE addresses SET is_default = TRUE WHERE id = $1 AND user_id = $2`

	deleteAddressSQL = `DELETE FROM addresses WHERE id = $1 AND user_id = $2 RETURNING is_default`

	promoteAddressSQL = `UPDATE addresses SET is_default = TRUE
		WHERE id = (SELECT id FROM addresses WHERE user_id = $1 ORDER BY created_at, id LIMIT 1)`
)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	db dbtx
}

func (r *AddressRepository) List(ctx context.Context, userID string) ([]address.Address, error) {
	rows, err := r.db.Query(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list addresses of user %q", userID)
	}
	list, err := pgx.CollectRows(rows, scanAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "list addresses of user %q", userID)
	}
	return list, nil
}

func (r *AddressRepository) Get(ctx context.Context, userID, id string) (*address.Address, error) {
	rows, err := r.db.Query(ctx, getAddressSQL, id, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	return &a, nil
}

func (r *AddressRepository) Add(ctx context.Context, a *address.Address) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserSQL, a.UserID); err != nil {
			return errors.Wrap(err, "lock user")
		}
		var n int64
		if err := tx.QueryRow(ctx, countAddressesSQL, a.UserID).Scan(&n); err != nil {
			return errors.Wrap(err, "count addresses")
		}
		if n == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			if _, err := tx.Exec(ctx, clearDefaultAddressSQL, a.UserID); err != nil {
				return errors.Wrap(err, "clear default address")
			}
		}
		err := tx.QueryRow(ctx, insertAddressSQL,
			a.ID, a.UserID, a.Street, a.City, a.PostalCode, a.Country, a.IsDefault,
		).Scan(&a.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert address")
		}
		a.CreatedAt = a.CreatedAt.UTC()
		return nil
	})
}

func (r *AddressRepository) SetDefault(ctx context.Context, userID, id string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserSQL, userID); err != nil {
			return errors.Wrap(err, "lock user")
		}
		if _, err := tx.Exec(ctx, clearDefaultAddressSQL, userID); err != nil {
			return errors.Wrap(err, "clear default address")
		}
		tag, err := tx.Exec(ctx, setDefaultAddressSQL, id, userID)
		if err != nil {
			return errors.Wrap(err, "set default address")
		}
		if tag.RowsAffected() == 0 {
			return address.ErrNotFound
		}
		return nil
	})
}

func (r *AddressRepository) Delete(ctx context.Context, userID, id string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserSQL, userID); err != nil {
			return errors.Wrap(err, "lock user")
		}
		if _, err := r.getIn(ctx, tx, userID, id); err != nil {
			return err
		}
		var n int64
		if err := tx.QueryRow(ctx, countAddressesSQL, userID).Scan(&n); err != nil {
			return errors.Wrap(err, "count addresses")
		}
		if n <= 1 {
			return address.ErrLastAddress
		}

		var wasDefault bool
		if err := tx.QueryRow(ctx, deleteAddressSQL, id, userID).Scan(&wasDefault); err != nil {
			return errors.Wrap(err, "delete address")
		}
		if !wasDefault {
			return nil
		}
		if _, err := tx.Exec(ctx, promoteAddressSQL, userID); err != nil {
			return errors.Wrap(err, "promote default address")
		}
		return nil
	})
}

func (r *AddressRepository) getIn(ctx context.Context, tx pgx.Tx, userID, id string) (*address.Address, error) {
	return (&AddressRepository{db: tx}).Get(ctx, userID, id)
}

func scanAddress(row pgx.CollectableRow) (address.Address, error) {
	var a address.Address
	err := row.Scan(&a.ID, &a.UserID, &a.Street, &a.City, &a.PostalCode, &a.Country, &a.IsDefault, &a.CreatedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}
