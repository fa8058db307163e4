package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/agromarket/internal/auth"
	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/notify"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
	"github.com/xenking/agromarket/internal/storage/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	lowStock []notify.LowStock
	orders   []notify.OrderSummary
}

func (n *recordingNotifier) PublishLowStock(_ context.Context, e notify.LowStock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowStock = append(n.lowStock, e)
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, _ notify.Recipient, s notify.OrderSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, s)
}

type testServer struct {
	store    *memory.Store
	notifier *recordingNotifier
	verifier *auth.Verifier
	mux      *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	store.PutCategory(product.Category{ID: "cat-fruit", Name: "Fruta"})
	store.PutCategory(product.Category{ID: "cat-veg", Name: "Verdura"})
	store.PutProduct(product.Product{
		ID: "p-apple", Name: "Manzana", Description: "Manzana roja",
		Price: decimal.RequireFromString("10.50"), Stock: 10, CategoryID: "cat-fruit",
	})
	store.PutProduct(product.Product{
		ID: "p-carrot", Name: "Zanahoria", Description: "Zanahoria fresca",
		Price: decimal.RequireFromString("4.75"), Stock: 50, CategoryID: "cat-veg",
	})
	store.PutUser(user.Contact{ID: "u1", Username: "ana", Email: "ana@example.com", FirstName: "Ana"})
	store.PutUser(user.Contact{ID: "u2", Username: "luis", Email: "luis@example.com"})

	n := &recordingNotifier{}
	ledger := stock.NewLedger(store.Stock(), n, stock.DefaultLowThreshold)
	orders, err := order.NewService(store, store.Orders(), store.Users(), ledger, n)
	require.NoError(t, err)

	v, err := auth.NewVerifier("handler-test-secret", "")
	require.NoError(t, err)

	h := New(
		store.Products(),
		cart.NewService(store.Carts(), store.Products(), ledger),
		address.NewService(store.Addresses()),
		orders,
	)
	mux := http.NewServeMux()
	h.Register(mux, v.Require)

	return &testServer{store: store, notifier: n, verifier: v, mux: mux}
}

func (s *testServer) do(t *testing.T, userID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		token, err := s.verifier.Issue(userID, nil, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addAddress(t *testing.T, userID, city string) string {
	t.Helper()
	rec := s.do(t, userID, http.MethodPost, "/api/addresses",
		`{"street":"Calle Mayor 1","city":"`+city+`","postalCode":"28013","country":"ES"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return fields(t, rec.Body.Bytes())["id"]
}

// fields returns the top-level members of a JSON object, strings unquoted.
func fields(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.String {
			v, err := d.Str()
			out[string(key)] = v
			return err
		}
		raw, err := d.Raw()
		out[string(key)] = raw.String()
		return err
	})
	require.NoError(t, err)
	return out
}

func TestCatalog(t *testing.T) {
	s := newTestServer(t)

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, "", http.MethodGet, "/api/products", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[
			{"id":"p-apple","name":"Manzana","description":"Manzana roja","price":10.50,"stock":10,"categoryId":"cat-fruit","imageUrl":""},
			{"id":"p-carrot","name":"Zanahoria","description":"Zanahoria fresca","price":4.75,"stock":50,"categoryId":"cat-veg","imageUrl":""}
		]`, rec.Body.String())
	})
	t.Run("Search", func(t *testing.T) {
		rec := s.do(t, "", http.MethodGet, "/api/products?q=fresca", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"p-carrot"`)
		assert.NotContains(t, rec.Body.String(), `"p-apple"`)
	})
	t.Run("Category", func(t *testing.T) {
		rec := s.do(t, "", http.MethodGet, "/api/categories/cat-fruit/products", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"p-apple"`)
		assert.NotContains(t, rec.Body.String(), `"p-carrot"`)
	})
	t.Run("Categories", func(t *testing.T) {
		rec := s.do(t, "", http.MethodGet, "/api/categories", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"id":"cat-fruit","name":"Fruta"},{"id":"cat-veg","name":"Verdura"}]`, rec.Body.String())
	})
	t.Run("NotFound", func(t *testing.T) {
		rec := s.do(t, "", http.MethodGet, "/api/products/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"code":404,"message":"product not found"}`, rec.Body.String())
	})
}

func TestCart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "", http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-apple","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"message":"Product added to cart"}`, rec.Body.String())

	rec = s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-carrot","quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := fields(t, rec.Body.Bytes())
	assert.Equal(t, "35.25", got["total"])
	assert.Equal(t, "5", got["itemCount"])

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
		wantMsg  string
	}{
		{
			name:   "AddBeyondStock",
			method: http.MethodPost, target: "/api/cart",
			body:     `{"productId":"p-apple","quantity":9}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "only 10 items available",
		},
		{
			name:   "ZeroQuantity",
			method: http.MethodPost, target: "/api/cart",
			body:     `{"productId":"p-apple","quantity":0}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "quantity must be greater than 0",
		},
		{
			name:   "HugeQuantity",
			method: http.MethodPost, target: "/api/cart",
			body:     `{"productId":"p-apple","quantity":9223372036854775807}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "invalid request body",
		},
		{
			name:   "UnknownProduct",
			method: http.MethodPost, target: "/api/cart",
			body:     `{"productId":"nope","quantity":1}`,
			wantCode: http.StatusNotFound,
			wantMsg:  "product not found",
		},
		{
			name:   "MalformedBody",
			method: http.MethodPost, target: "/api/cart",
			body:     `{"productId":`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "invalid request body",
		},
		{
			name:   "UpdateMissingLine",
			method: http.MethodPut, target: "/api/cart",
			body:     `{"productId":"p-nope","quantity":1}`,
			wantCode: http.StatusNotFound,
			wantMsg:  "product not found",
		},
		{
			name:   "RemoveMissingLine",
			method: http.MethodDelete, target: "/api/cart/p-nope",
			wantCode: http.StatusNotFound,
			wantMsg:  "item not found in cart",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "u1", tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, fields(t, rec.Body.Bytes())["message"])
		})
	}

	t.Run("Update", func(t *testing.T) {
		rec := s.do(t, "u1", http.MethodPut, "/api/cart", `{"productId":"p-apple","quantity":1}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.Equal(t, "24.75", fields(t, rec.Body.Bytes())["total"])
	})
	t.Run("UpdateToZeroRemoves", func(t *testing.T) {
		rec := s.do(t, "u1", http.MethodPut, "/api/cart", `{"productId":"p-apple","quantity":0}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.NotContains(t, rec.Body.String(), "p-apple")
	})
	t.Run("Remove", func(t *testing.T) {
		rec := s.do(t, "u1", http.MethodDelete, "/api/cart/p-carrot", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.Equal(t, "0.00", fields(t, rec.Body.Bytes())["total"])
	})
	t.Run("Clear", func(t *testing.T) {
		rec := s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-carrot","quantity":1}`)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = s.do(t, "u1", http.MethodDelete, "/api/cart", "")
		require.Equal(t, http.StatusOK, rec.Code)
		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.Equal(t, "0", fields(t, rec.Body.Bytes())["itemCount"])
	})
}

func TestAddresses(t *testing.T) {
	s := newTestServer(t)

	first := s.addAddress(t, "u1", "Madrid")
	second := s.addAddress(t, "u1", "Sevilla")

	rec := s.do(t, "u1", http.MethodGet, "/api/addresses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"city":"Madrid","postalCode":"28013","country":"ES","isDefault":true`)
	assert.Contains(t, rec.Body.String(), `"city":"Sevilla","postalCode":"28013","country":"ES","isDefault":false`)

	rec = s.do(t, "u1", http.MethodPost, "/api/addresses", `{"street":"","city":"Madrid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "u2", http.MethodPut, "/api/addresses/"+second+"/default", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, "u1", http.MethodPut, "/api/addresses/"+second+"/default", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, "u1", http.MethodDelete, "/api/addresses/"+second, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list, err := s.store.Addresses().List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first, list[0].ID)
	assert.True(t, list[0].IsDefault)

	rec = s.do(t, "u1", http.MethodDelete, "/api/addresses/"+first, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot delete the only address", fields(t, rec.Body.Bytes())["message"])
}

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		s := newTestServer(t)
		addr := s.addAddress(t, "u1", "Madrid")
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-apple","quantity":2}`)
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-carrot","quantity":3}`)

		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{"addressId":"`+addr+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		got := fields(t, rec.Body.Bytes())
		assert.Equal(t, "35.25", got["total"])
		assert.Equal(t, "pending", got["status"])
		orderID := got["orderId"]
		require.NotEmpty(t, orderID)

		apple, err := s.store.Products().GetByID(ctx, "p-apple")
		require.NoError(t, err)
		assert.Equal(t, 8, apple.Stock)
		carrot, err := s.store.Products().GetByID(ctx, "p-carrot")
		require.NoError(t, err)
		assert.Equal(t, 47, carrot.Stock)

		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.Equal(t, "0", fields(t, rec.Body.Bytes())["itemCount"])

		// Only the apple crossed the threshold.
		require.Len(t, s.notifier.lowStock, 1)
		assert.Equal(t, notify.LowStock{ProductID: "p-apple", Name: "Manzana", Remaining: 8}, s.notifier.lowStock[0])
		require.Len(t, s.notifier.orders, 1)
		assert.Equal(t, orderID, s.notifier.orders[0].OrderID)

		rec = s.do(t, "u1", http.MethodGet, "/api/orders/"+orderID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `"shipping":{"street":"Calle Mayor 1","city":"Madrid"`)
		assert.Contains(t, body, `{"productId":"p-apple","name":"Manzana","quantity":2,"price":10.50,"subtotal":21.00}`)
		assert.Contains(t, body, `{"productId":"p-carrot","name":"Zanahoria","quantity":3,"price":4.75,"subtotal":14.25}`)

		rec = s.do(t, "u1", http.MethodGet, "/api/orders", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), orderID)

		rec = s.do(t, "u2", http.MethodGet, "/api/orders/"+orderID, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InsufficientStockLeavesEverything", func(t *testing.T) {
		s := newTestServer(t)
		addr := s.addAddress(t, "u1", "Madrid")
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-carrot","quantity":5}`)
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-apple","quantity":10}`)

		// Another buyer takes apples between cart and checkout.
		_, err := s.store.Stock().Decrement(ctx, "p-apple", 5)
		require.NoError(t, err)

		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{"addressId":"`+addr+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "only 5 items available for Manzana", fields(t, rec.Body.Bytes())["message"])

		carrot, err := s.store.Products().GetByID(ctx, "p-carrot")
		require.NoError(t, err)
		assert.Equal(t, 50, carrot.Stock)
		rec = s.do(t, "u1", http.MethodGet, "/api/cart", "")
		assert.Equal(t, "15", fields(t, rec.Body.Bytes())["itemCount"])
		rec = s.do(t, "u1", http.MethodGet, "/api/orders", "")
		assert.JSONEq(t, `[]`, rec.Body.String())
		assert.Empty(t, s.notifier.lowStock)
		assert.Empty(t, s.notifier.orders)
	})

	t.Run("EmptyCart", func(t *testing.T) {
		s := newTestServer(t)
		addr := s.addAddress(t, "u1", "Madrid")
		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{"addressId":"`+addr+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"code":400,"message":"cart is empty"}`, rec.Body.String())
	})

	t.Run("ForeignAddress", func(t *testing.T) {
		s := newTestServer(t)
		addr := s.addAddress(t, "u2", "Bilbao")
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-apple","quantity":1}`)
		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{"addressId":"`+addr+`"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"code":404,"message":"address not found"}`, rec.Body.String())
	})

	t.Run("MissingAddress", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ProductRemovedFromCatalog", func(t *testing.T) {
		s := newTestServer(t)
		addr := s.addAddress(t, "u1", "Madrid")
		s.do(t, "u1", http.MethodPost, "/api/cart", `{"productId":"p-apple","quantity":1}`)
		s.store.DeleteProduct("p-apple")

		rec := s.do(t, "u1", http.MethodPost, "/api/orders", `{"addressId":"`+addr+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"code":400,"message":"product p-apple not found"}`, rec.Body.String())
	})
}
