package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/user"
	"github.com/xenking/agromarket/internal/storage/memory"
)

const fixture = `{
	"categories": [{"id": "frutas", "name": "Frutas"}],
	"products": [
		{"id": "pera", "name": "Pera", "price": 2.5, "stock": 41, "categoryId": "frutas"},
		{"id": "kiwi", "name": "Kiwi", "price": "0.95", "stock": 7, "categoryId": "frutas", "extra": true}
	],
	"users": [{
		"id": "u1", "username": "ana", "email": "ana@example.com",
		"addresses": [
			{"street": "A 1", "city": "Madrid", "postalCode": "28001", "country": "ES"},
			{"street": "B 2", "city": "Bilbao", "postalCode": "48001", "country": "ES"}
		]
	}]
}`

func TestDecode(t *testing.T) {
	d, err := Decode([]byte(fixture))
	require.NoError(t, err)

	require.Len(t, d.Products, 2)
	assert.Equal(t, "2.5", d.Products[0].Price.String())
	assert.Equal(t, "0.95", d.Products[1].Price.String())
	assert.Equal(t, 7, d.Products[1].Stock)

	require.Len(t, d.Users, 1)
	require.Len(t, d.Users[0].Addresses, 2)
	assert.True(t, d.Users[0].Addresses[0].IsDefault)
	assert.False(t, d.Users[0].Addresses[1].IsDefault)
}

func TestDecode_Invalid(t *testing.T) {
	for name, data := range map[string]string{
		"Malformed":     `{"products": [`,
		"MissingID":     `{"products": [{"name": "x", "price": 1, "stock": 1}]}`,
		"NegativeStock": `{"products": [{"id": "x", "name": "x", "price": 1, "stock": -1}]}`,
		"BadPrice":      `{"products": [{"id": "x", "name": "x", "price": "abc", "stock": 1}]}`,
		"AnonymousUser": `{"users": [{"email": "a@b"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestDemo(t *testing.T) {
	d := Demo()
	assert.NotEmpty(t, d.Categories)
	assert.NotEmpty(t, d.Products)
	assert.NotEmpty(t, d.Users)
}

func TestLoadFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(fixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	d, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, d.Products, 2)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addresses := address.NewService(store.Addresses())
	sink := Sink{
		PutCategory: func(_ context.Context, c product.Category) error { store.PutCategory(c); return nil },
		PutProduct:  func(_ context.Context, p product.Product) error { store.PutProduct(p); return nil },
		PutUser:     func(_ context.Context, c user.Contact) error { store.PutUser(c); return nil },
		Addresses:   addresses,
	}
	d, err := Decode([]byte(fixture))
	require.NoError(t, err)

	// Applying twice must not duplicate the address book.
	require.NoError(t, Apply(ctx, sink, d))
	require.NoError(t, Apply(ctx, sink, d))

	p, err := store.Products().GetByID(ctx, "pera")
	require.NoError(t, err)
	assert.Equal(t, 41, p.Stock)

	list, err := addresses.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].IsDefault)
	assert.Equal(t, "Madrid", list[0].City)
}
