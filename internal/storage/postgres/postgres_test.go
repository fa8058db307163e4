//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/notify"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

type fixture struct {
	store  *Store
	svc    *order.Service
	carts  *cart.Service
	addrID string
}

func newFixture(t *testing.T, pool *pgxpool.Pool, userID string) *fixture {
	t.Helper()
	ctx := context.Background()
	s := NewStore(pool)

	require.NoError(t, s.Users().Put(ctx, user.Contact{
		ID: userID, Username: userID, Email: userID + "@example.com",
	}))
	addrs := address.NewService(s.Addresses())
	a, err := addrs.Add(ctx, userID, address.Address{
		Street: "Calle Mayor 1", City: "Madrid", PostalCode: "28013", Country: "ES",
	})
	require.NoError(t, err)

	ledger := stock.NewLedger(s.Stock(), nil, 0)
	svc, err := order.NewService(s, s.Orders(), s.Users(), ledger, notify.Nop{})
	require.NoError(t, err)
	return &fixture{
		store:  s,
		svc:    svc,
		carts:  cart.NewService(s.Carts(), s.Products(), ledger),
		addrID: a.ID,
	}
}

func putProduct(t *testing.T, s *Store, id, price string, onHand int) {
	t.Helper()
	require.NoError(t, s.Products().Put(context.Background(), product.Product{
		ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), Stock: onHand,
	}))
}

func TestPlaceOrder(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t, pool, "u-success")
		putProduct(t, f.store, "p1", "12.50", 10)
		putProduct(t, f.store, "p2", "10.75", 3)

		cartID, err := f.carts.GetOrCreate(ctx, "u-success")
		require.NoError(t, err)
		require.NoError(t, f.carts.AddLine(ctx, cartID, "p1", 2))
		require.NoError(t, f.carts.AddLine(ctx, cartID, "p2", 1))

		o, err := f.svc.PlaceOrder(ctx, "u-success", f.addrID)
		require.NoError(t, err)
		assert.Equal(t, "35.75", o.Total.StringFixed(2))

		got, err := f.svc.Get(ctx, "u-success", o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPending, got.Status)
		assert.Len(t, got.Lines, 2)
		require.NotNil(t, got.Shipping)
		assert.Equal(t, "Madrid", got.Shipping.City)

		lvl, err := f.store.Stock().Level(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 8, lvl.OnHand)

		lines, err := f.store.Carts().Lines(ctx, cartID)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("InsufficientStockRollsBack", func(t *testing.T) {
		f := newFixture(t, pool, "u-short")
		putProduct(t, f.store, "p3", "5.00", 10)
		putProduct(t, f.store, "p4", "5.00", 1)

		cartID, err := f.carts.GetOrCreate(ctx, "u-short")
		require.NoError(t, err)
		require.NoError(t, f.carts.AddLine(ctx, cartID, "p3", 2))
		require.NoError(t, f.carts.AddLine(ctx, cartID, "p4", 1))
		// Another buyer takes the last unit after it was staged.
		_, err = f.store.Stock().Decrement(ctx, "p4", 1)
		require.NoError(t, err)

		_, err = f.svc.PlaceOrder(ctx, "u-short", f.addrID)
		var insufficient *stock.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, 0, insufficient.Available)

		lvl, err := f.store.Stock().Level(ctx, "p3")
		require.NoError(t, err)
		assert.Equal(t, 10, lvl.OnHand)

		lines, err := f.store.Carts().Lines(ctx, cartID)
		require.NoError(t, err)
		assert.Len(t, lines, 2)

		orders, err := f.svc.List(ctx, "u-short")
		require.NoError(t, err)
		assert.Empty(t, orders)
	})

	t.Run("AddressDeletedBeforeCheckout", func(t *testing.T) {
		f := newFixture(t, pool, "u-moved")
		putProduct(t, f.store, "p5", "3.00", 10)

		cartID, err := f.carts.GetOrCreate(ctx, "u-moved")
		require.NoError(t, err)
		require.NoError(t, f.carts.AddLine(ctx, cartID, "p5", 2))

		_, err = f.svc.PlaceOrder(ctx, "u-moved", "addr-gone")
		require.ErrorIs(t, err, address.ErrNotFound)

		lvl, err := f.store.Stock().Level(ctx, "p5")
		require.NoError(t, err)
		assert.Equal(t, 10, lvl.OnHand)

		lines, err := f.store.Carts().Lines(ctx, cartID)
		require.NoError(t, err)
		assert.Len(t, lines, 1)
	})

	t.Run("LastUnitRace", func(t *testing.T) {
		putProduct(t, NewStore(pool), "last", "9.99", 1)

		const buyers = 8
		fixtures := make([]*fixture, buyers)
		for i := range fixtures {
			userID := fmt.Sprintf("u-race-%d", i)
			fixtures[i] = newFixture(t, pool, userID)
			cartID, err := fixtures[i].carts.GetOrCreate(ctx, userID)
			require.NoError(t, err)
			require.NoError(t, fixtures[i].carts.AddLine(ctx, cartID, "last", 1))
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i, f := range fixtures {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.PlaceOrder(ctx, fmt.Sprintf("u-race-%d", i), f.addrID)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				var insufficient *stock.InsufficientStockError
				assert.ErrorAs(t, err, &insufficient)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		lvl, err := NewStore(pool).Stock().Level(ctx, "last")
		require.NoError(t, err)
		assert.Equal(t, 0, lvl.OnHand)
	})
}

func TestAddressDefaults(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	s := NewStore(pool)
	require.NoError(t, s.Users().Put(ctx, user.Contact{ID: "u1", Username: "u1", Email: "u1@example.com"}))
	svc := address.NewService(s.Addresses())

	in := address.Address{Street: "a", City: "b", PostalCode: "c", Country: "d"}
	first, err := svc.Add(ctx, "u1", in)
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.Add(ctx, "u1", in)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	require.NoError(t, svc.SetDefault(ctx, "u1", second.ID))
	require.NoError(t, svc.Delete(ctx, "u1", second.ID))

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)

	assert.ErrorIs(t, svc.Delete(ctx, "u1", first.ID), address.ErrLastAddress)
	assert.ErrorIs(t, svc.SetDefault(ctx, "u1", "missing"), address.ErrNotFound)
}
