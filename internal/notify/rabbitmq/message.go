// Package rabbitmq carries low-stock alerts over an AMQP 0.9.1 queue.
package rabbitmq

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/agromarket/internal/domain/notify"
)

// DefaultQueue is the durable queue low-stock alerts are published to.
const DefaultQueue = "low_stock_alerts"

// EncodeLowStock renders the alert as {"productId","name","stock"}.
func EncodeLowStock(e notify.LowStock) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("productId")
	enc.Str(e.ProductID)
	enc.FieldStart("name")
	enc.Str(e.Name)
	enc.FieldStart("stock")
	enc.Int(e.Remaining)
	enc.ObjEnd()
	return enc.Bytes()
}

// DecodeLowStock parses an alert body. The legacy "id" key is accepted for
// the product id.
func DecodeLowStock(data []byte) (notify.LowStock, error) {
	var (
		e        notify.LowStock
		hasStock bool
	)
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId", "id":
			v, err := decodeID(d)
			if err != nil {
				return errors.Wrapf(err, "decode %s", key)
			}
			if v != "" {
				e.ProductID = v
			}
		case "name":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "decode name")
			}
			e.Name = v
		case "stock":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "decode stock")
			}
			e.Remaining = v
			hasStock = true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return notify.LowStock{}, err
	}
	if e.ProductID == "" || !hasStock {
		return notify.LowStock{}, errors.New("productId and stock are required")
	}
	return e, nil
}

// decodeID accepts both string and numeric identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}
