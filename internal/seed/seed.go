// Package seed loads catalog, user and address fixtures into a store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/user"
)

// Data is a fixture set.
type Data struct {
	Categories []product.Category
	Products   []product.Product
	Users      []User
}

// User is a fixture user and its address book. The first address becomes the
// default.
type User struct {
	user.Contact
	Addresses []address.Address
}

// Sink receives fixtures. Every function must be idempotent.
type Sink struct {
	PutCategory func(ctx context.Context, c product.Category) error
	PutProduct  func(ctx context.Context, p product.Product) error
	PutUser     func(ctx context.Context, c user.Contact) error

	// Addresses is used to skip users that already have an address book.
	Addresses *address.Service
}

// Apply writes d into s in dependency order.
func Apply(ctx context.Context, s Sink, d *Data) error {
	for _, c := range d.Categories {
		if err := s.PutCategory(ctx, c); err != nil {
			return errors.Wrapf(err, "put category %s", c.ID)
		}
	}
	for _, p := range d.Products {
		if err := s.PutProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "put product %s", p.ID)
		}
	}
	for _, u := range d.Users {
		if err := s.PutUser(ctx, u.Contact); err != nil {
			return errors.Wrapf(err, "put user %s", u.ID)
		}
		existing, err := s.Addresses.List(ctx, u.ID)
		if err != nil {
			return errors.Wrapf(err, "list addresses of %s", u.ID)
		}
		if len(existing) > 0 {
			continue
		}
		for _, a := range u.Addresses {
			if _, err := s.Addresses.Add(ctx, u.ID, a); err != nil {
				return errors.Wrapf(err, "add address of %s", u.ID)
			}
		}
	}
	return nil
}

//go:embed demo.json
var demo []byte

// Demo returns the built-in demo fixtures.
func Demo() *Data {
	d, err := Decode(demo)
	if err != nil {
		panic(err)
	}
	return d
}

// LoadFile reads fixtures from a JSON file. Files ending in .gz are
// decompressed first.
func LoadFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return Decode(data)
}

// Decode parses fixtures of the form
//
//	{"categories":[...],"products":[...],"users":[...]}
func Decode(data []byte) (*Data, error) {
	var out Data
	err := jx.DecodeBytes(bytes.TrimSpace(data)).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				var c product.Category
				if err := decodeFields(d, map[string]*string{"id": &c.ID, "name": &c.Name}); err != nil {
					return err
				}
				out.Categories = append(out.Categories, c)
				return nil
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return err
				}
				out.Products = append(out.Products, p)
				return nil
			})
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				if err != nil {
					return err
				}
				out.Users = append(out.Users, u)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode fixtures")
	}
	return &out, nil
}

// decodeFields reads an object whose members are all strings.
func decodeFields(d *jx.Decoder, fields map[string]*string) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		dst, ok := fields[string(key)]
		if !ok {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "categoryId":
			p.CategoryID, err = d.Str()
		case "imageUrl":
			p.ImageURL, err = d.Str()
		case "stock":
			p.Stock, err = d.Int()
		case "price":
			p.Price, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.ID == "" || p.Name == "" {
		return p, errors.New("product id and name are required")
	}
	if p.Price.IsNegative() || p.Stock < 0 {
		return p, errors.Errorf("product %s: negative price or stock", p.ID)
	}
	return p, nil
}

// decodeDecimal accepts both a JSON number and a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	} else {
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %q", raw)
	}
	return v, nil
}

func decodeUser(d *jx.Decoder) (User, error) {
	var u User
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			u.ID, err = d.Str()
		case "username":
			u.Username, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "firstName":
			u.FirstName, err = d.Str()
		case "lastName":
			u.LastName, err = d.Str()
		case "addresses":
			err = d.Arr(func(d *jx.Decoder) error {
				var a address.Address
				if err := decodeFields(d, map[string]*string{
					"street":     &a.Street,
					"city":       &a.City,
					"postalCode": &a.PostalCode,
					"country":    &a.Country,
				}); err != nil {
					return err
				}
				a.IsDefault = len(u.Addresses) == 0
				u.Addresses = append(u.Addresses, a)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return u, err
	}
	if u.ID == "" || u.Username == "" {
		return u, errors.New("user id and username are required")
	}
	return u, nil
}
