package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/agromarket/internal/domain/order"
)

func decodeAddressID(data []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "addressId" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	})
	if err != nil {
		return "", errors.Wrap(errInvalidBody, err.Error())
	}
	if id == "" {
		return "", errors.Wrap(errInvalidBody, "addressId is required")
	}
	return id, nil
}

// placeOrder serves POST /api/orders. The shipping address must belong to the
// caller.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		data, err := readBody(w, r)
		if err != nil {
			fail(w, r, err)
			return
		}
		addressID, err := decodeAddressID(data)
		if err != nil {
			fail(w, r, err)
			return
		}
		if _, err := h.addresses.Get(r.Context(), uid, addressID); err != nil {
			fail(w, r, err)
			return
		}

		o, err := h.orders.PlaceOrder(r.Context(), uid, addressID)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("orderId")
			e.Str(o.ID)
			e.FieldStart("total")
			money(e, o.Total)
			e.FieldStart("status")
			e.Str(string(o.Status))
			e.FieldStart("createdAt")
			timestamp(e, o.CreatedAt)
			e.ObjEnd()
		})
	})(w, r)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		list, err := h.orders.List(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.ArrStart()
			for _, o := range list {
				encodeOrder(e, o)
			}
			e.ArrEnd()
		})
	})(w, r)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		o, err := h.orders.Get(r.Context(), uid, r.PathValue("id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
	})(w, r)
}

// encodeOrder writes the order header, its shipping address when known and
// its lines when loaded.
func encodeOrder(e *jx.Encoder, o order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("total")
	money(e, o.Total)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("createdAt")
	timestamp(e, o.CreatedAt)
	e.FieldStart("shipping")
	if s := o.Shipping; s != nil {
		e.ObjStart()
		e.FieldStart("street")
		e.Str(s.Street)
		e.FieldStart("city")
		e.Str(s.City)
		e.FieldStart("postalCode")
		e.Str(s.PostalCode)
		e.FieldStart("country")
		e.Str(s.Country)
		e.ObjEnd()
	} else {
		e.Null()
	}
	if o.Lines != nil {
		e.FieldStart("items")
		e.ArrStart()
		for _, l := range o.Lines {
			e.ObjStart()
			e.FieldStart("productId")
			e.Str(l.ProductID)
			e.FieldStart("name")
			e.Str(l.ProductName)
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			e.FieldStart("price")
			money(e, l.Price)
			e.FieldStart("subtotal")
			money(e, l.Subtotal())
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}
