package order

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusShipped Status = "SHIPPED"
)

func (s Status) String() string {
	return string(s)
}

// ParseStatus trims and upper-cases raw and checks it names a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case "":
		return "", ErrStatusRequired
	case StatusPending, StatusPaid, StatusShipped:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

const (
	DefaultCurrency = "eur"
	DefaultSupport  = "WHITE"
)

type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"orderId"`
	ProductID  string          `json:"productId"`
	CardType   string          `json:"cardType"`
	UnitAmount decimal.Decimal `json:"unitAmount"`
	Quantity   int             `json:"quantity"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Order is one checkout attempt. Optional text columns are stored as NULL
// and surface here as empty strings.
type Order struct {
	ID              uuid.UUID           `json:"id"`
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	Status          Status              `json:"status"`
	CustomerName    string              `json:"customerName"`
	CustomerEmail   string              `json:"customerEmail"`
	Address         string              `json:"address,omitempty"`
	CardType        string              `json:"cardType"`
	NFCLink         string              `json:"nfcLink"`
	NFCNameOnCard   string              `json:"nfcNameOnCard,omitempty"`
	LogoURL         string              `json:"logoUrl,omitempty"`
	LogoScale       decimal.NullDecimal `json:"logoScale"`
	LogoColor       string              `json:"logoColor,omitempty"`
	SecondaryText   string              `json:"secondaryText,omitempty"`
	Support         string              `json:"support"`
	Quantity        int                 `json:"quantity"`
	StripeSessionID string              `json:"stripeSessionId,omitempty"`
	IdempotencyKey  string              `json:"-"`
	Items           []OrderItem         `json:"items,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// CartLine is a requested product and a raw quantity; the quantity is
// clamped when the order is built.
type CartLine struct {
	ProductID string
	Quantity  float64
}

type CustomerInfo struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Address    string
	PostalCode string
	City       string
	Country    string
}

// Name joins first and last name the way the order stores it.
func (c CustomerInfo) Name() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// FullAddress joins the non-empty address parts with ", ".
func (c CustomerInfo) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Address, c.PostalCode, c.City, c.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Customization struct {
	NFCLink       string
	NameOnCard    string
	LogoURL       string
	LogoScale     decimal.NullDecimal
	LogoColor     string
	SecondaryText string
	Support       string
}

type CheckoutInput struct {
	Lines          []CartLine
	Customer       CustomerInfo
	Customization  Customization
	IdempotencyKey string
}

type CheckoutResult struct {
	URL             string    `json:"url"`
	OrderID         uuid.UUID `json:"orderId"`
	StripeSessionID string    `json:"stripeSessionId"`
}

// PaymentUpdate carries the authoritative values of a completed payment.
// Empty fields leave the stored value untouched.
type PaymentUpdate struct {
	SessionID     string
	CustomerEmail string
	CustomerName  string
	NFCLink       string
	Amount        decimal.NullDecimal
}

// Confirmation is the public view of an order on the success page.
type Confirmation struct {
	ID                uuid.UUID           `json:"id"`
	Status            Status              `json:"status"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	CustomerName      string              `json:"customerName"`
	CustomerEmail     string              `json:"customerEmail"`
	NFCLink           string              `json:"nfcLink"`
	NFCNameOnCard     string              `json:"nfcNameOnCard"`
	Support           string              `json:"support"`
	LogoURL           string              `json:"logoUrl,omitempty"`
	LogoScale         decimal.NullDecimal `json:"logoScale"`
	LogoColor         string              `json:"logoColor,omitempty"`
	SecondaryText     string              `json:"secondaryText,omitempty"`
	Quantity          int                 `json:"quantity"`
	Items             []OrderItem         `json:"items"`
	StripeSessionID   string              `json:"stripeSessionId"`
	CreatedAt         time.Time           `json:"createdAt"`
	EstimatedDelivery time.Time           `json:"estimatedDelivery"`
}

type Page struct {
	Items      []Order    `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalPages int        `json:"totalPages"`
	Filter     ListFilter `json:"filter"`
}

type CardTypeCount struct {
	CardType string `json:"cardType"`
	Quantity int    `json:"quantity"`
}

type PeriodStats struct {
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Stats struct {
	CountByStatus map[Status]int  `json:"countByStatus"`
	TotalOrders   int             `json:"totalOrders"`
	PaidRevenue   decimal.Decimal `json:"paidRevenue"`
	Last30Days    PeriodStats     `json:"last30Days"`
	Previous30    PeriodStats     `json:"previous30Days"`
	TopCardTypes  []CardTypeCount `json:"topCardTypes"`
}
