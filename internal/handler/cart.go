package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/agromarket/internal/domain/cart"
)

type cartLineRequest struct {
	ProductID string
	Quantity  int
}

func decodeCartLine(data []byte) (cartLineRequest, error) {
	var req cartLineRequest
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			v, err := d.Str()
			req.ProductID = v
			return err
		case "quantity":
			v, err := d.Int()
			req.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, errors.Wrap(errInvalidBody, err.Error())
	}
	if req.ProductID == "" {
		return req, errors.Wrap(errInvalidBody, "productId is required")
	}
	if req.Quantity > cart.MaxQuantity {
		return req, errors.Wrap(errInvalidBody, "quantity is too large")
	}
	return req, nil
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		cartID, err := h.carts.GetOrCreate(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		view, err := h.carts.View(r.Context(), cartID)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, view) })
	})(w, r)
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, "Product added to cart", h.carts.AddLine)
}

// updateCart overwrites a line quantity; zero removes the line.
func (h *Handler) updateCart(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, "Cart updated", h.carts.UpdateLine)
}

func (h *Handler) mutateLine(
	w http.ResponseWriter,
	r *http.Request,
	msg string,
	apply func(ctx context.Context, cartID, productID string, quantity int) error,
) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		data, err := readBody(w, r)
		if err != nil {
			fail(w, r, err)
			return
		}
		req, err := decodeCartLine(data)
		if err != nil {
			fail(w, r, err)
			return
		}
		cartID, err := h.carts.GetOrCreate(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		if err := apply(r.Context(), cartID, req.ProductID, req.Quantity); err != nil {
			fail(w, r, err)
			return
		}
		writeOK(w, msg)
	})(w, r)
}

func (h *Handler) removeFromCart(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		cartID, err := h.carts.GetOrCreate(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		removed, err := h.carts.RemoveLine(r.Context(), cartID, r.PathValue("productId"))
		if err != nil {
			fail(w, r, err)
			return
		}
		if !removed {
			fail(w, r, cart.ErrLineNotFound)
			return
		}
		writeOK(w, "Product removed from cart")
	})(w, r)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		cartID, err := h.carts.GetOrCreate(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		if err := h.carts.Clear(r.Context(), cartID); err != nil {
			fail(w, r, err)
			return
		}
		writeOK(w, "Cart cleared")
	})(w, r)
}

func encodeCart(e *jx.Encoder, v *cart.View) {
	e.ObjStart()
	e.FieldStart("cartId")
	e.Str(v.CartID)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range v.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("imageUrl")
		e.Str(l.ImageURL)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		money(e, l.Price)
		e.FieldStart("subtotal")
		money(e, l.Subtotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	money(e, v.Total)
	e.FieldStart("itemCount")
	e.Int(v.ItemCount)
	e.ObjEnd()
}
