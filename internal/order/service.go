package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/catalog"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid: true,
	},
	StatusPaid: {
		StatusShipped: true,
	},
	StatusShipped: {},
}

var (
	ErrStatusRequired          = apperr.New(apperr.ErrValidation, "status is required")
	ErrInvalidStatus           = apperr.New(apperr.ErrValidation, "unknown order status")
	ErrInvalidStatusTransition = apperr.New(apperr.ErrConflict, "invalid order status transition")
	ErrCustomerNameRequired    = apperr.New(apperr.ErrValidation, "customer name is required")
	ErrInvalidEmail            = apperr.New(apperr.ErrValidation, "a valid customer email is required")
	ErrInvalidNFCLink          = apperr.New(apperr.ErrValidation, "nfc link must be an absolute http(s) url")
	ErrOrderAlreadyPaid        = apperr.New(apperr.ErrConflict, "order for this checkout attempt is already paid")
	ErrBaseURLMissing          = apperr.New(apperr.ErrConfiguration, "application base url is not configured")
)

// PaymentGateway is the hosted checkout provider as seen by the order
// lifecycle.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

type Service interface {
	CreateOrder(ctx context.Context, lines []CartLine, customer CustomerInfo, custom Customization) (*Order, error)
	RequestPaymentSession(ctx context.Context, o *Order) (*payment.CheckoutSession, error)
	Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	ReconcilePaymentEvent(ctx context.Context, payload []byte, signature string) error
	ApplyPaymentEvent(ctx context.Context, ev payment.Event) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*Confirmation, error)
	GetInvoiceOrder(ctx context.Context, sessionID string) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) (*Page, error)
	ExportOrders(ctx context.Context, f ListFilter) ([]Order, error)
	SetStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*Order, error)
	Stats(ctx context.Context) (*Stats, error)
}

type Deps struct {
	Repo     Repository
	Retries  RetryRepository
	Payments PaymentGateway
	Catalog  *catalog.Catalog
	BaseURL  string
	Retry    RetryPolicy
	Now      func() time.Time
}

type service struct {
	repo     Repository
	retries  RetryRepository
	payments PaymentGateway
	catalog  *catalog.Catalog
	baseURL  string
	retry    RetryPolicy
	now      func() time.Time
}

func NewService(deps Deps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     deps.Repo,
		retries:  deps.Retries,
		payments: deps.Payments,
		catalog:  deps.Catalog,
		baseURL:  strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/"),
		retry:    deps.Retry,
		now:      now,
	}
}

var validate = validator.New()

const estimatedDeliveryBusinessDays = 5

func (s *service) CreateOrder(ctx context.Context, lines []CartLine, customer CustomerInfo, custom Customization) (*Order, error) {
	return s.createOrder(ctx, CheckoutInput{Lines: lines, Customer: customer, Customization: custom})
}

func (s *service) createOrder(ctx context.Context, in CheckoutInput) (*Order, error) {
	name := in.Customer.Name()
	if name == "" {
		return nil, ErrCustomerNameRequired
	}

	email := strings.TrimSpace(in.Customer.Email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}

	nfcLink := strings.TrimSpace(in.Customization.NFCLink)
	if !isHTTPURL(nfcLink) {
		return nil, ErrInvalidNFCLink
	}

	lines := make([]CartLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		if strings.TrimSpace(l.ProductID) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		lines = []CartLine{{ProductID: catalog.DefaultProductID, Quantity: 1}}
	}

	o := &Order{
		Currency:       DefaultCurrency,
		Status:         StatusPending,
		CustomerName:   name,
		CustomerEmail:  email,
		Address:        in.Customer.FullAddress(),
		NFCLink:        nfcLink,
		NFCNameOnCard:  strings.TrimSpace(in.Customization.NameOnCard),
		LogoURL:        strings.TrimSpace(in.Customization.LogoURL),
		LogoScale:      in.Customization.LogoScale,
		LogoColor:      strings.TrimSpace(in.Customization.LogoColor),
		SecondaryText:  strings.TrimSpace(in.Customization.SecondaryText),
		Support:        strings.ToUpper(strings.TrimSpace(in.Customization.Support)),
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
		Amount:         decimal.Zero,
	}
	if o.Support == "" {
		o.Support = DefaultSupport
	}

	for _, l := range lines {
		product := s.catalog.Resolve(l.ProductID)
		if _, err := s.catalog.PriceRef(product); err != nil {
			log.Error().Err(err).Str("product_id", product.ID).Msg("service: product has no payment price configured")
			return nil, fmt.Errorf("service: cannot sell product %s: %w", product.ID, err)
		}

		qty := ClampQuantity(l.Quantity)
		o.Items = append(o.Items, OrderItem{
			ProductID:  product.ID,
			CardType:   product.CardType,
			UnitAmount: product.UnitPrice,
			Quantity:   qty,
		})
		o.Amount = o.Amount.Add(product.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
		o.Quantity += qty
	}
	o.CardType = o.Items[0].CardType

	if _, err := s.repo.CreateOrder(ctx, o); err != nil {
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Stringer("amount", o.Amount).
		Int("quantity", o.Quantity).
		Msg("service: order created")

	return o, nil
}

func isHTTPURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *service) RequestPaymentSession(ctx context.Context, o *Order) (*payment.CheckoutSession, error) {
	if s.baseURL == "" {
		return nil, ErrBaseURLMissing
	}

	req := payment.CheckoutRequest{
		OrderID:       o.ID.String(),
		CustomerEmail: o.CustomerEmail,
		SuccessURL:    s.baseURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.baseURL + "/",
		Metadata: map[string]string{
			"orderId":      o.ID.String(),
			"nfcLink":      o.NFCLink,
			"customerName": o.CustomerName,
			"quantity":     strconv.Itoa(o.Quantity),
			"support":      o.Support,
		},
	}
	for _, item := range o.Items {
		ref, err := s.catalog.PriceRef(s.catalog.Resolve(item.ProductID))
		if err != nil {
			return nil, fmt.Errorf("service: cannot request payment for order %s: %w", o.ID, err)
		}
		req.LineItems = append(req.LineItems, payment.LineItem{PriceRef: ref, Quantity: item.Quantity})
	}

	sess, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: payment session was not created, order stays pending")
		return nil, fmt.Errorf("service: failed to create payment session: %w", err)
	}

	if err := s.repo.SetStripeSessionID(ctx, o.ID, sess.ID); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("session_id", sess.ID).Msg("service: failed to store payment session id")
		return nil, fmt.Errorf("service: failed to store payment session: %w", err)
	}
	o.StripeSessionID = sess.ID

	log.Info().Stringer("order_id", o.ID).Str("session_id", sess.ID).Msg("service: payment session created")
	return sess, nil
}

// Checkout creates the order and opens its payment session. With an
// idempotency key, a repeated attempt reuses the pending order created by
// the first one instead of inserting a new row.
func (s *service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	o, err := s.findDraft(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if o == nil {
		o, err = s.createOrder(ctx, in)
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			o, err = s.findDraft(ctx, in.IdempotencyKey)
			if err == nil && o == nil {
				err = fmt.Errorf("service: checkout attempt %q disappeared: %w", in.IdempotencyKey, ErrOrderNotFound)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	sess, err := s.RequestPaymentSession(ctx, o)
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{URL: sess.URL, OrderID: o.ID, StripeSessionID: sess.ID}, nil
}

func (s *service) findDraft(ctx context.Context, key string) (*Order, error) {
	if key == "" {
		return nil, nil
	}

	o, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to look up checkout attempt: %w", err)
	}
	if o.Status != StatusPending {
		log.Warn().Stringer("order_id", o.ID).Stringer("status", o.Status).Msg("service: checkout retried for an order that is no longer pending")
		return nil, ErrOrderAlreadyPaid
	}

	log.Info().Stringer("order_id", o.ID).Msg("service: reusing pending order for repeated checkout attempt")
	return o, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return o, nil
}

func (s *service) orderBySession(ctx context.Context, sessionID string) (*Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Validation("session id is required")
	}

	o, err := s.repo.GetOrderBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by session: %w", err)
	}
	return o, nil
}

// GetInvoiceOrder returns the full order behind a checkout session, with
// the billing address the confirmation view leaves out.
func (s *service) GetInvoiceOrder(ctx context.Context, sessionID string) (*Order, error) {
	return s.orderBySession(ctx, sessionID)
}

func (s *service) GetOrderBySession(ctx context.Context, sessionID string) (*Confirmation, error) {
	o, err := s.orderBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Confirmation{
		ID:                o.ID,
		Status:            o.Status,
		Amount:            o.Amount,
		Currency:          o.Currency,
		CustomerName:      o.CustomerName,
		CustomerEmail:     o.CustomerEmail,
		NFCLink:           o.NFCLink,
		NFCNameOnCard:     o.NFCNameOnCard,
		Support:           o.Support,
		LogoURL:           o.LogoURL,
		LogoScale:         o.LogoScale,
		LogoColor:         o.LogoColor,
		SecondaryText:     o.SecondaryText,
		Quantity:          o.Quantity,
		Items:             o.Items,
		StripeSessionID:   o.StripeSessionID,
		CreatedAt:         o.CreatedAt,
		EstimatedDelivery: AddBusinessDays(o.CreatedAt, estimatedDeliveryBusinessDays),
	}, nil
}

func (s *service) ListOrders(ctx context.Context, f ListFilter) (*Page, error) {
	f = f.Normalize()
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}

	q := ListQuery{Filter: f, Window: f.Window(s.now())}

	total, err := s.repo.CountOrders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("service: failed to count orders: %w", err)
	}

	totalPages := TotalPages(total, f.PageSize)
	if f.Page > totalPages {
		f.Page = totalPages
	}
	q.Filter = f
	q.Offset = (f.Page - 1) * f.PageSize
	q.Limit = f.PageSize

	orders, err := s.repo.ListOrders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	return &Page{
		Items:      orders,
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: totalPages,
		Filter:     f,
	}, nil
}

// ExportOrders returns up to MaxExportRows PAID orders with their items,
// whatever status the filter asks for.
func (s *service) ExportOrders(ctx context.Context, f ListFilter) ([]Order, error) {
	f = f.Normalize()
	f.Status = StatusPaid

	orders, err := s.repo.ListOrders(ctx, ListQuery{
		Filter:    f,
		Window:    f.Window(s.now()),
		Limit:     MaxExportRows,
		WithItems: true,
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to export orders: %w", err)
	}

	log.Info().Int("rows", len(orders)).Msg("service: orders exported")
	return orders, nil
}

func (s *service) SetStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*Order, error) {
	newStatus, err := ParseStatus(rawStatus)
	if err != nil {
		log.Warn().Stringer("order_id", id).Str("status", rawStatus).Msg("service: rejected status value")
		return nil, err
	}

	current, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Stringer("new_status", newStatus).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	if current.Status == newStatus {
		log.Info().Stringer("order_id", id).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return current, nil
	}

	if !allowedTransitions[current.Status][newStatus] {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
	}

	if err := s.repo.UpdateStatus(ctx, id, current.Status, newStatus); err != nil {
		if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Stringer("new_status", newStatus).Msg("service: order changed before status update")
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	updated, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reload order after status update: %w", err)
	}
	return updated, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("service: failed to compute order stats: %w", err)
	}
	return st, nil
}
