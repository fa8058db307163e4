// Package handler implements the shop HTTP API.
package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/auth"
	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// Handler serves the catalog, cart, address book and order endpoints.
type Handler struct {
	catalog   product.Repository
	carts     *cart.Service
	addresses *address.Service
	orders    *order.Service
}

// New creates a Handler.
func New(catalog product.Repository, carts *cart.Service, addresses *address.Service, orders *order.Service) *Handler {
	return &Handler{
		catalog:   catalog,
		carts:     carts,
		addresses: addresses,
		orders:    orders,
	}
}

// Register mounts the API on mux. Everything except the catalog goes through
// requireAuth.
func (h *Handler) Register(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.HandleFunc("GET /api/categories", h.listCategories)
	mux.HandleFunc("GET /api/categories/{id}/products", h.listCategoryProducts)

	private := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(fn))
	}
	private("GET /api/cart", h.getCart)
	private("POST /api/cart", h.addToCart)
	private("PUT /api/cart", h.updateCart)
	private("DELETE /api/cart", h.clearCart)
	private("DELETE /api/cart/{productId}", h.removeFromCart)

	private("GET /api/addresses", h.listAddresses)
	private("POST /api/addresses", h.addAddress)
	private("PUT /api/addresses/{id}/default", h.setDefaultAddress)
	private("DELETE /api/addresses/{id}", h.deleteAddress)

	private("GET /api/orders", h.listOrders)
	private("POST /api/orders", h.placeOrder)
	private("GET /api/orders/{id}", h.getOrder)
}

func userID(r *http.Request) (string, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

// withUser resolves the caller or answers 401.
func withUser(fn func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		fn(w, r, uid)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errInvalidBody, err.Error())
	}
	return data, nil
}

// fail maps a domain error to a status. Unexpected errors are logged and
// answered with a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		productNotFound *order.ProductNotFoundError
		insufficient    *stock.InsufficientStockError
		outOfStock      *cart.OutOfStockError
	)
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.As(err, &productNotFound),
		errors.As(err, &insufficient),
		errors.As(err, &outOfStock):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errInvalidBody),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrQuantityTooLarge),
		errors.Is(err, stock.ErrInvalidAmount),
		errors.Is(err, address.ErrMissingFields),
		errors.Is(err, address.ErrLastAddress):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, address.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, rootMessage(err))
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage returns the message of the sentinel at the bottom of the chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// money writes d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
