package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/domain/cart"
	"github.com/xenking/agromarket/internal/domain/notify"
	"github.com/xenking/agromarket/internal/domain/product"
	"github.com/xenking/agromarket/internal/domain/stock"
	"github.com/xenking/agromarket/internal/domain/user"
)

const (
	instrumentationName = "github.com/xenking/agromarket/internal/domain/order"

	rollbackTimeout = 5 * time.Second
	contactTimeout  = 5 * time.Second
)

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithClock overrides the clock used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates order placement and serves order history.
type Service struct {
	store    Store
	orders   Repository
	users    user.Repository
	ledger   *stock.Ledger
	notifier notify.Notifier
	now      func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	rejected       metric.Int64Counter
}

// NewService creates an order Service. ledger supplies the low-stock
// threshold and alert sink; its repository is replaced by the transaction's
// within PlaceOrder.
func NewService(
	store Store,
	orders Repository,
	users user.Repository,
	ledger *stock.Ledger,
	notifier notify.Notifier,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		store:          store,
		orders:         orders,
		users:          users,
		ledger:         ledger,
		notifier:       notifier,
		now:            time.Now,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.rejected, err = meter.Int64Counter("shop.orders.rejected",
		metric.WithDescription("Order placements that failed, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "create rejected counter")
	}
	return s, nil
}

// PlaceOrder converts the cart of the user into an order shipping to
// addressID. The order header, its lines, the stock decrements and the
// emptied cart are committed atomically; on any error nothing is persisted.
//
// Low-stock alerts and the order confirmation are emitted only after the
// commit and never affect the result.
func (s *Service) PlaceOrder(ctx context.Context, userID, addressID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(attribute.String("shop.user_id", userID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "place order")
			s.rejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", rejectReason(rerr)),
			))
		}
		span.End()
	}()

	o, movements, err := s.commitOrder(ctx, userID, addressID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("shop.order_id", o.ID))
	s.placed.Add(ctx, 1)

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.Stringer("total", o.Total),
		zap.Int("lines", len(o.Lines)),
	)

	if n := s.ledger.Signal(ctx, movements...); n > 0 {
		lg.Info("Low stock alerts emitted", zap.String("order_id", o.ID), zap.Int("count", n))
	}
	s.confirm(ctx, userID, o)

	return o, nil
}

// commitOrder runs the transactional part of PlaceOrder.
func (s *Service) commitOrder(ctx context.Context, userID, addressID string) (*Order, []stock.Movement, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, &TransactionError{Op: "begin", Err: err}
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		// Detached from ctx so a cancelled request still releases the
		// transaction.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if err := tx.Rollback(rctx); err != nil {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(err))
		}
	}()

	o, movements, err := s.build(ctx, tx, userID, addressID)
	if err != nil {
		return nil, nil, err
	}

	finished = true
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, &TransactionError{Op: "commit", Err: err}
	}
	return o, movements, nil
}

// build performs every step of the order inside tx, in order: resolve the
// cart, load its lines, price and validate, insert the header, insert lines
// while decrementing stock, clear the cart.
func (s *Service) build(ctx context.Context, tx Tx, userID, addressID string) (*Order, []stock.Movement, error) {
	cartID, err := tx.Carts().FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, nil, ErrEmptyCart
		}
		return nil, nil, errors.Wrap(err, "find cart")
	}

	items, err := tx.Carts().Lines(ctx, cartID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list cart lines")
	}
	if len(items) == 0 {
		return nil, nil, ErrEmptyCart
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	fetched, err := tx.Products().GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Prices observed here are the ones captured on the order lines.
	lines := make([]Line, len(items))
	total := decimal.Zero
	for i, item := range items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if item.Quantity > p.Stock {
			return nil, nil, &stock.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Available: p.Stock,
			}
		}
		lines[i] = Line{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			Price:       p.Price,
		}
		total = total.Add(lines[i].Subtotal())
	}

	o := &Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		AddressID: addressID,
		Total:     total,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
		Lines:     lines,
	}
	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, nil, errors.Wrap(err, "create order")
	}

	ledger := s.ledger.With(tx.Stock())
	movements := make([]stock.Movement, 0, len(lines))
	for _, l := range lines {
		if err := tx.Orders().AddLine(ctx, o.ID, l); err != nil {
			return nil, nil, errors.Wrapf(err, "add order line %s", l.ProductID)
		}
		m, err := ledger.Decrement(ctx, l.ProductID, l.Quantity)
		if err != nil {
			var insufficient *stock.InsufficientStockError
			switch {
			case errors.As(err, &insufficient):
				return nil, nil, err
			case errors.Is(err, product.ErrNotFound):
				return nil, nil, &ProductNotFoundError{ProductID: l.ProductID}
			}
			return nil, nil, errors.Wrapf(err, "decrement stock %s", l.ProductID)
		}
		movements = append(movements, m)
	}

	if err := tx.Carts().Clear(ctx, cartID); err != nil {
		return nil, nil, errors.Wrap(err, "clear cart")
	}
	return o, movements, nil
}

// confirm hands the order confirmation to the notifier. Failures are logged
// only: the order is already committed.
func (s *Service) confirm(ctx context.Context, userID string, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), contactTimeout)
	defer cancel()
	c, err := s.users.Contact(cctx, userID)
	if err != nil {
		lg.Warn("Order confirmation skipped: contact lookup failed", zap.Error(err))
		return
	}
	if c.Email == "" {
		lg.Warn("Order confirmation skipped: no email on file")
		return
	}

	summary := notify.OrderSummary{
		OrderID:   o.ID,
		Status:    string(o.Status),
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
		Lines:     make([]notify.SummaryLine, len(o.Lines)),
	}
	for i, l := range o.Lines {
		summary.Lines[i] = notify.SummaryLine{
			ProductID: l.ProductID,
			Name:      l.ProductName,
			Quantity:  l.Quantity,
			Price:     l.Price,
		}
	}
	s.notifier.SendOrderConfirmation(ctx, notify.Recipient{
		Name:  c.DisplayName(),
		Email: c.Email,
	}, summary)
}

// List returns the orders of the user, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns an order of the user with its lines.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

func rejectReason(err error) string {
	var (
		pnf *ProductNotFoundError
		ins *stock.InsufficientStockError
		txe *TransactionError
	)
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &pnf):
		return "product_not_found"
	case errors.As(err, &ins):
		return "insufficient_stock"
	case errors.As(err, &txe):
		return "transaction"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
