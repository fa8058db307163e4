// Package mailer submits order confirmations to the order summary e-mail
// service.
package mailer

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/agromarket/internal/domain/notify"
)

// Client posts order summaries to a single endpoint.
type Client struct {
	url  string
	http *resty.Client
}

// New creates a Client posting to url. Outbound requests are traced.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := resty.NewWithClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{url: url, http: r}
}

// SendOrderConfirmation posts the summary. Any non-2xx response is an error.
func (c *Client) SendOrderConfirmation(ctx context.Context, to notify.Recipient, s notify.OrderSummary) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(EncodeConfirmation(to, s)).
		Post(c.url)
	if err != nil {
		return errors.Wrap(err, "post order summary")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("order summary service responded %s", resp.Status())
	}
	return nil
}

// EncodeConfirmation renders the body expected by the e-mail service:
//
//	{"usuario":{"nombre","email"},
//	 "pedido":{"id","fecha","estado","total","productos":[{"nombre","cantidad","precio"}]}}
func EncodeConfirmation(to notify.Recipient, s notify.OrderSummary) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("usuario")
	e.ObjStart()
	e.FieldStart("nombre")
	e.Str(to.Name)
	e.FieldStart("email")
	e.Str(to.Email)
	e.ObjEnd()

	e.FieldStart("pedido")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.OrderID)
	e.FieldStart("fecha")
	e.Str(s.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("estado")
	e.Str(s.Status)
	e.FieldStart("total")
	e.Raw([]byte(s.Total.StringFixed(2)))
	e.FieldStart("productos")
	e.ArrStart()
	for _, l := range s.Lines {
		e.ObjStart()
		e.FieldStart("nombre")
		e.Str(l.Name)
		e.FieldStart("cantidad")
		e.Int(l.Quantity)
		e.FieldStart("precio")
		e.Raw([]byte(l.Price.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	e.ObjEnd()
	return e.Bytes()
}
