package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
	"github.com/xenking/agromarket/internal/seed"
	"github.com/xenking/agromarket/internal/storage/memory"
	"github.com/xenking/agromarket/internal/storage/postgres"
	"github.com/xenking/agromarket/pkg/health"
)

// storage is the selected backend seen through the domain ports.
type storage struct {
	store     order.Store
	products  product.Repository
	carts     cart.Repository
	stock     stock.Repository
	orders    order.Repository
	users     user.Repository
	addresses address.Repository

	// pinger is nil for backends without a connection to check.
	pinger health.Pinger
	close  func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	if cfg.Storage == StorageMemory {
		return openMemory(ctx, lg)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	s := postgres.NewStore(pool)
	return &storage{
		store:     s,
		products:  s.Products(),
		carts:     s.Carts(),
		stock:     s.Stock(),
		orders:    s.Orders(),
		users:     s.Users(),
		addresses: s.Addresses(),
		pinger:    pool,
		close:     pool.Close,
	}, nil
}

// openMemory returns a process-local store loaded with the demo fixtures.
func openMemory(ctx context.Context, lg *zap.Logger) (*storage, error) {
	s := memory.New()
	sink := seed.Sink{
		PutCategory: func(_ context.Context, c product.Category) error { s.PutCategory(c); return nil },
		PutProduct:  func(_ context.Context, p product.Product) error { s.PutProduct(p); return nil },
		PutUser:     func(_ context.Context, c user.Contact) error { s.PutUser(c); return nil },
		Addresses:   address.NewService(s.Addresses()),
	}
	if err := seed.Apply(ctx, sink, seed.Demo()); err != nil {
		return nil, errors.Wrap(err, "load demo data")
	}
	lg.Warn("Using in-memory storage with demo data, nothing is persisted")

	return &storage{
		store:     s,
		products:  s.Products(),
		carts:     s.Carts(),
		stock:     s.Stock(),
		orders:    s.Orders(),
		users:     s.Users(),
		addresses: s.Addresses(),
		close:     func() {},
	}, nil
}
