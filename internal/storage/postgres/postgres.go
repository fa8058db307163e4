// Package postgres implements the shop storage ports on PostgreSQL.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/agromarket/db"
	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
)

const foreignKeyViolation = "23503"

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository
// works standalone or inside an order transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// violatesForeignKey reports whether err is a violation of the named
// foreign key constraint.
func violatesForeignKey(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation && pgErr.ConstraintName == constraint
}

var _ order.Store = (*Store)(nil)

// Store opens order transactions and hands out pool-backed repositories.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Begin starts a READ COMMITTED transaction. Concurrent decrements of the same
// product serialize on its row lock.
func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) Products() *ProductRepository  { return &ProductRepository{db: s.pool} }
func (s *Store) Carts() *CartRepository        { return &CartRepository{db: s.pool} }
func (s *Store) Stock() *StockRepository       { return &StockRepository{db: s.pool} }
func (s *Store) Orders() *OrderRepository      { return &OrderRepository{db: s.pool} }
func (s *Store) Users() *UserRepository        { return &UserRepository{db: s.pool} }
func (s *Store) Addresses() *AddressRepository { return &AddressRepository{db: s.pool} }

var _ order.Tx = (*Tx)(nil)

// Tx is an order transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Carts() cart.Repository       { return &CartRepository{db: t.tx} }
func (t *Tx) Products() product.Repository { return &ProductRepository{db: t.tx} }
func (t *Tx) Stock() stock.Repository      { return &StockRepository{db: t.tx} }
func (t *Tx) Orders() order.Repository     { return &OrderRepository{db: t.tx} }

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ cart.Repository    = (*CartRepository)(nil)
	_ stock.Repository   = (*StockRepository)(nil)
	_ order.Repository   = (*OrderRepository)(nil)
	_ user.Repository    = (*UserRepository)(nil)
	_ address.Repository = (*AddressRepository)(nil)
)
