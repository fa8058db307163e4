package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/agromarket/internal/domain/product"
)

// listProducts serves GET /api/products. The optional "category" and "q"
// query parameters filter by category and by a name/description match.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var (
		list []product.Product
		err  error
	)
	q := r.URL.Query()
	switch {
	case strings.TrimSpace(q.Get("q")) != "":
		list, err = h.catalog.Search(r.Context(), strings.TrimSpace(q.Get("q")))
	case q.Get("category") != "":
		list, err = h.catalog.ListByCategory(r.Context(), q.Get("category"))
	default:
		list, err = h.catalog.List(r.Context())
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeProducts(w, list)
}

func (h *Handler) listCategoryProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListByCategory(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeProducts(w, list)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.Categories(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, c := range list {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(c.ID)
			e.FieldStart("name")
			e.Str(c.Name)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func writeProducts(w http.ResponseWriter, list []product.Product) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range list {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	money(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("categoryId")
	e.Str(p.CategoryID)
	e.FieldStart("imageUrl")
	e.Str(p.ImageURL)
	e.ObjEnd()
}
