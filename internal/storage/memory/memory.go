// Package memory implements the shop storage ports in process.
//
// Transactions are serializable: Begin takes the store lock, works on a copy
// of the data and Commit swaps the copy in. Calls made outside a transaction
// take the lock for the duration of the call.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/order"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
)

// ErrTxDone is returned when a finished transaction is used.
var ErrTxDone = errors.New("transaction already finished")

type orderRecord struct {
	o   order.Order
	seq int64
}

type addressRecord struct {
	a   address.Address
	seq int64
}

type state struct {
	users      map[string]user.Contact
	categories map[string]product.Category
	products   map[string]product.Product
	carts      map[string]string         // user id -> cart id
	lines      map[string]map[string]int // cart id -> product id -> quantity
	orders     map[string]orderRecord
	addresses  map[string]addressRecord
	seq        int64
}

func newState() *state {
	return &state{
		users:      map[string]user.Contact{},
		categories: map[string]product.Category{},
		products:   map[string]product.Product{},
		carts:      map[string]string{},
		lines:      map[string]map[string]int{},
		orders:     map[string]orderRecord{},
		addresses:  map[string]addressRecord{},
	}
}

func (st *state) clone() *state {
	c := newState()
	c.seq = st.seq
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.categories {
		c.categories[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = v
	}
	for k, v := range st.lines {
		m := make(map[string]int, len(v))
		for p, q := range v {
			m[p] = q
		}
		c.lines[k] = m
	}
	for k, v := range st.orders {
		v.o.Lines = append([]order.Line(nil), v.o.Lines...)
		c.orders[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	return c
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// Store is an in-memory shop storage.
type Store struct {
	sem  chan struct{}
	data *state
}

var _ order.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		sem:  make(chan struct{}, 1),
		data: newState(),
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.sem }

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	return &Tx{s: s, st: s.data.clone()}, nil
}

// Products returns the catalog repository.
func (s *Store) Products() product.Repository { return productRepo{repo{s: s}} }

// Carts returns the cart repository.
func (s *Store) Carts() cart.Repository { return cartRepo{repo{s: s}} }

// Stock returns the stock repository.
func (s *Store) Stock() stock.Repository { return stockRepo{repo{s: s}} }

// Orders returns the order repository.
func (s *Store) Orders() order.Repository { return orderRepo{repo{s: s}} }

// Users returns the user repository.
func (s *Store) Users() user.Repository { return userRepo{repo{s: s}} }

// Addresses returns the address repository.
func (s *Store) Addresses() address.Repository { return addressRepo{repo{s: s}} }

// PutUser inserts or replaces a user.
func (s *Store) PutUser(c user.Contact) {
	s.sem <- struct{}{}
	defer s.release()
	s.data.users[c.ID] = c
}

// PutCategory inserts or replaces a category.
func (s *Store) PutCategory(c product.Category) {
	s.sem <- struct{}{}
	defer s.release()
	s.data.categories[c.ID] = c
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.sem <- struct{}{}
	defer s.release()
	s.data.products[p.ID] = p
}

// DeleteProduct removes a product from the catalog.
func (s *Store) DeleteProduct(id string) {
	s.sem <- struct{}{}
	defer s.release()
	delete(s.data.products, id)
}

// Tx is an open transaction.
type Tx struct {
	s    *Store
	st   *state
	done bool
}

var _ order.Tx = (*Tx)(nil)

func (t *Tx) Carts() cart.Repository       { return cartRepo{repo{s: t.s, tx: t}} }
func (t *Tx) Products() product.Repository { return productRepo{repo{s: t.s, tx: t}} }
func (t *Tx) Stock() stock.Repository      { return stockRepo{repo{s: t.s, tx: t}} }
func (t *Tx) Orders() order.Repository     { return orderRepo{repo{s: t.s, tx: t}} }

// Commit publishes the changes. A cancelled ctx rolls the transaction back.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.s.release()
	if err := ctx.Err(); err != nil {
		return err
	}
	t.s.data = t.st
	return nil
}

// Rollback discards the changes. It is a no-op on a finished transaction.
func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.release()
	return nil
}

type repo struct {
	s  *Store
	tx *Tx
}

func (r repo) do(ctx context.Context, fn func(st *state) error) error {
	if r.tx != nil {
		if r.tx.done {
			return ErrTxDone
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(r.tx.st)
	}
	if err := r.s.acquire(ctx); err != nil {
		return err
	}
	defer r.s.release()
	return fn(r.s.data)
}

type productRepo struct{ repo }

func sortProducts(list []product.Product) []product.Product {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (r productRepo) filter(ctx context.Context, keep func(product.Product) bool) ([]product.Product, error) {
	var out []product.Product
	err := r.do(ctx, func(st *state) error {
		for _, p := range st.products {
			if keep(p) {
				out = append(out, p)
			}
		}
		return nil
	})
	return sortProducts(out), err
}

func (r productRepo) List(ctx context.Context) ([]product.Product, error) {
	return r.filter(ctx, func(product.Product) bool { return true })
}

func (r productRepo) ListByCategory(ctx context.Context, categoryID string) ([]product.Product, error) {
	return r.filter(ctx, func(p product.Product) bool { return p.CategoryID == categoryID })
}

func (r productRepo) Search(ctx context.Context, term string) ([]product.Product, error) {
	term = strings.ToLower(term)
	return r.filter(ctx, func(p product.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Description), term)
	})
}

func (r productRepo) Categories(ctx context.Context) ([]product.Category, error) {
	var out []product.Category
	err := r.do(ctx, func(st *state) error {
		for _, c := range st.categories {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r productRepo) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := r.do(ctx, func(st *state) error {
		v, ok := st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		p = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r productRepo) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.filter(ctx, func(p product.Product) bool {
		_, ok := want[p.ID]
		return ok
	})
}

type cartRepo struct{ repo }

func (r cartRepo) FindByUser(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.do(ctx, func(st *state) error {
		v, ok := st.carts[userID]
		if !ok {
			return cart.ErrNotFound
		}
		id = v
		return nil
	})
	return id, err
}

func (r cartRepo) GetOrCreate(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.do(ctx, func(st *state) error {
		if v, ok := st.carts[userID]; ok {
			id = v
			return nil
		}
		id = uuid.New().String()
		st.carts[userID] = id
		st.lines[id] = map[string]int{}
		return nil
	})
	return id, err
}

func (r cartRepo) Lines(ctx context.Context, cartID string) ([]cart.Line, error) {
	var out []cart.Line
	err := r.do(ctx, func(st *state) error {
		for p, q := range st.lines[cartID] {
			out = append(out, cart.Line{ProductID: p, Quantity: q})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, err
}

func (r cartRepo) Line(ctx context.Context, cartID, productID string) (cart.Line, error) {
	var l cart.Line
	err := r.do(ctx, func(st *state) error {
		q, ok := st.lines[cartID][productID]
		if !ok {
			return cart.ErrLineNotFound
		}
		l = cart.Line{ProductID: productID, Quantity: q}
		return nil
	})
	return l, err
}

func (r cartRepo) AddQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	return r.do(ctx, func(st *state) error {
		if _, ok := st.products[productID]; !ok {
			return product.ErrNotFound
		}
		if st.lines[cartID] == nil {
			st.lines[cartID] = map[string]int{}
		}
		st.lines[cartID][productID] += quantity
		return nil
	})
}

func (r cartRepo) SetQuantity(ctx context.Context, cartID, productID string, quantity int) (bool, error) {
	var found bool
	err := r.do(ctx, func(st *state) error {
		if _, ok := st.lines[cartID][productID]; !ok {
			return nil
		}
		found = true
		st.lines[cartID][productID] = quantity
		return nil
	})
	return found, err
}

func (r cartRepo) RemoveLine(ctx context.Context, cartID, productID string) (bool, error) {
	var found bool
	err := r.do(ctx, func(st *state) error {
		_, found = st.lines[cartID][productID]
		delete(st.lines[cartID], productID)
		return nil
	})
	return found, err
}

func (r cartRepo) Clear(ctx context.Context, cartID string) error {
	return r.do(ctx, func(st *state) error {
		if _, ok := st.lines[cartID]; ok {
			st.lines[cartID] = map[string]int{}
		}
		return nil
	})
}

type stockRepo struct{ repo }

func (r stockRepo) Level(ctx context.Context, productID string) (stock.Level, error) {
	var lvl stock.Level
	err := r.do(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return product.ErrNotFound
		}
		lvl = stock.Level{ProductID: p.ID, Name: p.Name, OnHand: p.Stock}
		return nil
	})
	return lvl, err
}

func (r stockRepo) Decrement(ctx context.Context, productID string, amount int) (stock.Level, error) {
	var lvl stock.Level
	err := r.do(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return product.ErrNotFound
		}
		if p.Stock < amount {
			return &stock.InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: p.Stock}
		}
		p.Stock -= amount
		st.products[productID] = p
		lvl = stock.Level{ProductID: p.ID, Name: p.Name, OnHand: p.Stock}
		return nil
	})
	return lvl, err
}

type orderRepo struct{ repo }

func (r orderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.do(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
		header := *o
		header.Lines = nil
		header.Shipping = nil
		st.orders[o.ID] = orderRecord{o: header, seq: st.next()}
		return nil
	})
}

func (r orderRepo) AddLine(ctx context.Context, orderID string, l order.Line) error {
	return r.do(ctx, func(st *state) error {
		rec, ok := st.orders[orderID]
		if !ok {
			return order.ErrNotFound
		}
		rec.o.Lines = append(rec.o.Lines, l)
		st.orders[orderID] = rec
		return nil
	})
}

func shippingOf(st *state, addressID string) *order.Shipping {
	rec, ok := st.addresses[addressID]
	if !ok {
		return nil
	}
	return &order.Shipping{
		Street:     rec.a.Street,
		City:       rec.a.City,
		PostalCode: rec.a.PostalCode,
		Country:    rec.a.Country,
	}
}

func (r orderRepo) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	var recs []orderRecord
	err := r.do(ctx, func(st *state) error {
		for _, rec := range st.orders {
			if rec.o.UserID != userID {
				continue
			}
			rec.o.Lines = nil
			rec.o.Shipping = shippingOf(st, rec.o.AddressID)
			recs = append(recs, rec)
		}
		return nil
	})
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	out := make([]order.Order, len(recs))
	for i, rec := range recs {
		out[i] = rec.o
	}
	return out, err
}

func (r orderRepo) Get(ctx context.Context, userID, orderID string) (*order.Order, error) {
	var o order.Order
	err := r.do(ctx, func(st *state) error {
		rec, ok := st.orders[orderID]
		if !ok || rec.o.UserID != userID {
			return order.ErrNotFound
		}
		o = rec.o
		o.Lines = append([]order.Line(nil), rec.o.Lines...)
		o.Shipping = shippingOf(st, o.AddressID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type userRepo struct{ repo }

func (r userRepo) Contact(ctx context.Context, id string) (*user.Contact, error) {
	var c user.Contact
	err := r.do(ctx, func(st *state) error {
		v, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		c = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type addressRepo struct{ repo }

func userAddresses(st *state, userID string) []addressRecord {
	var out []addressRecord
	for _, rec := range st.addresses {
		if rec.a.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r addressRepo) List(ctx context.Context, userID string) ([]address.Address, error) {
	var out []address.Address
	err := r.do(ctx, func(st *state) error {
		for _, rec := range userAddresses(st, userID) {
			out = append(out, rec.a)
		}
		return nil
	})
	return out, err
}

func (r addressRepo) Get(ctx context.Context, userID, id string) (*address.Address, error) {
	var a address.Address
	err := r.do(ctx, func(st *state) error {
		rec, ok := st.addresses[id]
		if !ok || rec.a.UserID != userID {
			return address.ErrNotFound
		}
		a = rec.a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r addressRepo) Add(ctx context.Context, a *address.Address) error {
	return r.do(ctx, func(st *state) error {
		existing := userAddresses(st, a.UserID)
		if len(existing) == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			for _, rec := range existing {
				rec.a.IsDefault = false
				st.addresses[rec.a.ID] = rec
			}
		}
		a.CreatedAt = time.Now().UTC()
		st.addresses[a.ID] = addressRecord{a: *a, seq: st.next()}
		return nil
	})
}

func (r addressRepo) SetDefault(ctx context.Context, userID, id string) error {
	return r.do(ctx, func(st *state) error {
		target, ok := st.addresses[id]
		if !ok || target.a.UserID != userID {
			return address.ErrNotFound
		}
		for _, rec := range userAddresses(st, userID) {
			rec.a.IsDefault = rec.a.ID == id
			st.addresses[rec.a.ID] = rec
		}
		return nil
	})
}

func (r addressRepo) Delete(ctx context.Context, userID, id string) error {
	return r.do(ctx, func(st *state) error {
		target, ok := st.addresses[id]
		if !ok || target.a.UserID != userID {
			return address.ErrNotFound
		}
		all := userAddresses(st, userID)
		if len(all) <= 1 {
			return address.ErrLastAddress
		}
		delete(st.addresses, id)
		if !target.a.IsDefault {
			return nil
		}
		for _, rec := range all {
			if rec.a.ID == id {
				continue
			}
			rec.a.IsDefault = true
			st.addresses[rec.a.ID] = rec
			return nil
		}
		return nil
	})
}
