package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
)

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeGateway struct {
	sessions      sessionCreator
	webhookSecret string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	var sessions sessionCreator
	if cfg.SecretKey != "" {
		sessions = &checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}
	}
	return newStripeGateway(sessions, cfg.WebhookSecret)
}

func newStripeGateway(sessions sessionCreator, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if g.sessions == nil {
		return nil, ErrSecretKeyMissing
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(req.CustomerEmail),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceRef),
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			log.Error().
				Str("order_id", req.OrderID).
				Str("stripe_type", string(stripeErr.Type)).
				Str("stripe_code", string(stripeErr.Code)).
				Str("stripe_message", stripeErr.Msg).
				Msg("payment: checkout session rejected")
			return nil, apperr.PaymentProvider("failed to create checkout session: %s", stripeErr.Msg)
		}
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("payment: checkout session request failed")
		return nil, apperr.PaymentProvider("failed to create checkout session: %v", err)
	}

	if sess == nil || sess.URL == "" {
		return nil, ErrMissingCheckoutURL
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseEvent verifies signature against payload and decodes the delivery.
// Events other than checkout completion come back with only ID and Type set.
// ErrMalformedEvent is only returned for deliveries whose signature is valid.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}

	if err := webhook.ValidatePayload(payload, signature, g.webhookSecret); err != nil {
		log.Warn().Err(err).Msg("payment: webhook signature verification failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}

	if evt.Data == nil {
		return nil, ErrMalformedEvent
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out.SessionID = sess.ID
	out.OrderID = firstNonEmpty(sess.Metadata["orderId"], sess.ClientReferenceID)
	out.CustomerName = sess.Metadata["customerName"]
	out.NFCLink = sess.Metadata["nfcLink"]
	out.CustomerEmail = sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	if hasAmountTotal(evt.Data.Raw) {
		amount := sess.AmountTotal
		out.AmountTotal = &amount
	}

	return out, nil
}

// hasAmountTotal tells a zero amount apart from a missing one.
func hasAmountTotal(raw json.RawMessage) bool {
	var present struct {
		AmountTotal *json.Number `json:"amount_total"`
	}
	if err := json.Unmarshal(raw, &present); err != nil || present.AmountTotal == nil {
		return false
	}
	_, err := strconv.ParseInt(present.AmountTotal.String(), 10, 64)
	return err == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
