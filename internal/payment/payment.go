// Package payment talks to the hosted checkout provider: it opens checkout
// sessions and turns signed webhook deliveries into provider-neutral events.
package payment

import (
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
)

// EventCheckoutCompleted is the only event type that moves an order.
const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrWebhookSecretMissing = apperr.New(apperr.ErrConfiguration, "webhook secret is not configured")
	ErrSecretKeyMissing     = apperr.New(apperr.ErrConfiguration, "payment provider secret key is not configured")
	ErrInvalidSignature     = apperr.New(apperr.ErrAuthentication, "invalid webhook signature")
	ErrMalformedEvent       = apperr.New(apperr.ErrValidation, "malformed webhook event")
	ErrMissingCheckoutURL   = apperr.New(apperr.ErrPaymentProvider, "payment provider returned no checkout url")
)

type LineItem struct {
	PriceRef string
	Quantity int
}

type CheckoutRequest struct {
	OrderID       string
	CustomerEmail string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Event is a verified webhook delivery reduced to what reconciliation needs.
// AmountTotal is in minor units (cents) and nil when the provider sent none.
type Event struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	SessionID     string `json:"sessionId,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	AmountTotal   *int64 `json:"amountTotal,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	NFCLink       string `json:"nfcLink,omitempty"`
}
