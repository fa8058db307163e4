// Package telegram sends chat messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/agromarket/internal/domain/notify"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client posts messages to a single chat.
type Client struct {
	chatID string
	http   *resty.Client
}

// New creates a Client for the bot token and chat. An empty baseURL selects
// DefaultBaseURL.
func New(baseURL, token, chatID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := resty.NewWithClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}).
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + token).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{chatID: chatID, http: r}
}

// SendMessage sends a Markdown formatted message.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	var body jx.Encoder
	body.ObjStart()
	body.FieldStart("chat_id")
	body.Str(c.chatID)
	body.FieldStart("text")
	body.Str(text)
	body.FieldStart("parse_mode")
	body.Str("Markdown")
	body.ObjEnd()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body.Bytes()).
		Post("/sendMessage")
	if err != nil {
		return errors.Wrap(err, "send message")
	}

	ok, description, err := decodeResult(resp.Body())
	if err != nil && resp.IsSuccess() {
		return errors.Wrap(err, "decode response")
	}
	if !resp.IsSuccess() || !ok {
		if description == "" {
			description = resp.Status()
		}
		return errors.Errorf("telegram: %s", description)
	}
	return nil
}

func decodeResult(data []byte) (ok bool, description string, _ error) {
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "ok":
			v, err := d.Bool()
			ok = v
			return err
		case "description":
			v, err := d.Str()
			description = v
			return err
		default:
			return d.Skip()
		}
	})
	return ok, description, err
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// LowStockMessage formats the chat message announcing a low-stock product.
func LowStockMessage(e notify.LowStock, at time.Time) string {
	var b strings.Builder
	b.WriteString("👋 *Un saludo desde ConectAgro*\n")
	fmt.Fprintf(&b, "¡Buenas noticias! Aún quedan algunas unidades del Producto: *%s* (ID: %s) 😁.\n",
		markdownEscaper.Replace(e.Name), markdownEscaper.Replace(e.ProductID))
	fmt.Fprintf(&b, "📦 Solo quedan *%d* en stock.\n", e.Remaining)
	b.WriteString("¡Apresúrate antes de que se agoten! 🔥\n\n")
	fmt.Fprintf(&b, "⏰ Fecha: %s\n\n", at.Format("02/01/2006, 15:04:05"))
	b.WriteString("ConectAgro Productos Frescos del Campo 🌱")
	return b.String()
}
