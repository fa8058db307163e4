package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/agromarket/internal/domain/address"
)

func decodeAddress(data []byte) (address.Address, error) {
	var a address.Address
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "street":
			a.Street, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "postalCode":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		case "isDefault":
			a.IsDefault, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return a, errors.Wrap(errInvalidBody, err.Error())
	}
	return a, nil
}

func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		list, err := h.addresses.List(r.Context(), uid)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.ArrStart()
			for _, a := range list {
				encodeAddress(e, a)
			}
			e.ArrEnd()
		})
	})(w, r)
}

func (h *Handler) addAddress(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		data, err := readBody(w, r)
		if err != nil {
			fail(w, r, err)
			return
		}
		in, err := decodeAddress(data)
		if err != nil {
			fail(w, r, err)
			return
		}
		a, err := h.addresses.Add(r.Context(), uid, in)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeAddress(e, *a) })
	})(w, r)
}

func (h *Handler) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		if err := h.addresses.SetDefault(r.Context(), uid, r.PathValue("id")); err != nil {
			fail(w, r, err)
			return
		}
		writeOK(w, "Default address updated")
	})(w, r)
}

func (h *Handler) deleteAddress(w http.ResponseWriter, r *http.Request) {
	withUser(func(w http.ResponseWriter, r *http.Request, uid string) {
		if err := h.addresses.Delete(r.Context(), uid, r.PathValue("id")); err != nil {
			fail(w, r, err)
			return
		}
		writeOK(w, "Address deleted")
	})(w, r)
}

func encodeAddress(e *jx.Encoder, a address.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(a.ID)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("isDefault")
	e.Bool(a.IsDefault)
	if !a.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		timestamp(e, a.CreatedAt)
	}
	e.ObjEnd()
}
