package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/user"
)

const (
	getUserContactSQL = `SELECT id, username, email, first_name, last_name FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, username, email, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name`
)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	db dbtx
}

func (r *UserRepository) Contact(ctx context.Context, id string) (*user.Contact, error) {
	var c user.Contact
	err := r.db.QueryRow(ctx, getUserContactSQL, id).Scan(
		&c.ID, &c.Username, &c.Email, &c.FirstName, &c.LastName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get contact of user %q", id)
	}
	return &c, nil
}

// Put inserts or replaces a user.
func (r *UserRepository) Put(ctx context.Context, c user.Contact) error {
	_, err := r.db.Exec(ctx, upsertUserSQL, c.ID, c.Username, c.Email, c.FirstName, c.LastName)
	if err != nil {
		return errors.Wrapf(err, "put user %q", c.ID)
	}
	return nil
}
