package address_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/storage/memory"
)

var home = address.Address{Street: " Calle Mayor 1 ", City: "Madrid", PostalCode: "28013", Country: "ES"}

func defaults(list []address.Address) []string {
	var ids []string
	for _, a := range list {
		if a.IsDefault {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func TestService_Add(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(memory.New().Addresses())

	first, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)
	assert.True(t, first.IsDefault, "first address becomes the default")
	assert.Equal(t, "Calle Mayor 1", first.Street)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	third := home
	third.IsDefault = true
	added, err := svc.Add(ctx, "u1", third)
	require.NoError(t, err)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{added.ID}, defaults(list))

	_, err = svc.Add(ctx, "u1", address.Address{Street: "x", City: " ", PostalCode: "1", Country: "ES"})
	require.ErrorIs(t, err, address.ErrMissingFields)
}

func TestService_SetDefault(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(memory.New().Addresses())
	a, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)
	b, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)

	require.NoError(t, svc.SetDefault(ctx, "u1", b.ID))
	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, defaults(list))

	require.ErrorIs(t, svc.SetDefault(ctx, "u2", a.ID), address.ErrNotFound)
	require.ErrorIs(t, svc.SetDefault(ctx, "u1", "missing"), address.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(memory.New().Addresses())
	a, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)
	b, err := svc.Add(ctx, "u1", home)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "u2", a.ID), address.ErrNotFound)

	// Deleting the default promotes the remaining address.
	require.NoError(t, svc.Delete(ctx, "u1", a.ID))
	got, err := svc.Get(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	require.ErrorIs(t, svc.Delete(ctx, "u1", b.ID), address.ErrLastAddress)
	_, err = svc.Get(ctx, "u1", a.ID)
	require.ErrorIs(t, err, address.ErrNotFound)
}
