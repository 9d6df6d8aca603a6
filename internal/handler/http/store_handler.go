package http

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/catalog"
	"github.com/vasiliy-maslov/nfc-card-store/internal/invoice"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

// maxWebhookBody bounds the payload read before the signature is checked.
const maxWebhookBody = 256 << 10

// Quantity accepts a JSON number or a numeric string. Anything else decodes
// to NaN and is later clamped to 1.
type Quantity float64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*q = Quantity(math.NaN())
		return nil
	}
	*q = Quantity(v)
	return nil
}

type CartItemRequest struct {
	ProductID string   `json:"productId" validate:"max=32"`
	Quantity  Quantity `json:"quantity"`
}

type CheckoutRequest struct {
	FirstName      string              `json:"firstName" validate:"max=100"`
	LastName       string              `json:"lastName" validate:"max=100"`
	Email          string              `json:"email" validate:"required,max=254"`
	Phone          string              `json:"phone" validate:"max=40"`
	Address        string              `json:"address" validate:"max=300"`
	PostalCode     string              `json:"postalCode" validate:"max=20"`
	City           string              `json:"city" validate:"max=100"`
	Country        string              `json:"country" validate:"max=100"`
	CardName       string              `json:"cardName" validate:"max=100"`
	NFCLink        string              `json:"nfcLink" validate:"required,max=2048"`
	Support        string              `json:"support" validate:"max=20"`
	LogoURL        string              `json:"logoUrl" validate:"max=2048"`
	LogoScale      decimal.NullDecimal `json:"logoScale"`
	LogoColor      string              `json:"logoColor" validate:"max=20"`
	SecondaryText  string              `json:"secondaryText" validate:"max=200"`
	ProductID      string              `json:"productId" validate:"max=32"`
	Quantity       *Quantity           `json:"quantity"`
	Items          []CartItemRequest   `json:"items" validate:"max=20,dive"`
	IdempotencyKey string              `json:"idempotencyKey" validate:"max=200"`

	// Preview-only fields sent by the storefront form. They are not stored.
	CardMessage  string `json:"cardMessage" validate:"max=500"`
	SupportColor string `json:"supportColor" validate:"max=20"`
	TextColor    string `json:"textColor" validate:"max=20"`

	// Amount is accepted and ignored; totals come from the catalog.
	Amount *float64 `json:"amount,omitempty"`
}

// lines prefers the items list and falls back to the single product
// fields.
func (r CheckoutRequest) lines() []order.CartLine {
	if len(r.Items) > 0 {
		lines := make([]order.CartLine, 0, len(r.Items))
		for _, item := range r.Items {
			lines = append(lines, order.CartLine{ProductID: item.ProductID, Quantity: float64(item.Quantity)})
		}
		return lines
	}
	if strings.TrimSpace(r.ProductID) == "" {
		return nil
	}
	qty := 1.0
	if r.Quantity != nil {
		qty = float64(*r.Quantity)
	}
	return []order.CartLine{{ProductID: r.ProductID, Quantity: qty}}
}

func (r CheckoutRequest) input() order.CheckoutInput {
	return order.CheckoutInput{
		Lines: r.lines(),
		Customer: order.CustomerInfo{
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Email:      r.Email,
			Phone:      r.Phone,
			Address:    r.Address,
			PostalCode: r.PostalCode,
			City:       r.City,
			Country:    r.Country,
		},
		Customization: order.Customization{
			NFCLink:       r.NFCLink,
			NameOnCard:    r.CardName,
			LogoURL:       r.LogoURL,
			LogoScale:     r.LogoScale,
			LogoColor:     r.LogoColor,
			SecondaryText: r.SecondaryText,
			Support:       r.Support,
		},
		IdempotencyKey: r.IdempotencyKey,
	}
}

type ProductResponse struct {
	catalog.Product
	Available bool `json:"available"`
}

// StoreHandler serves the public storefront: catalog, checkout, payment
// webhook and order confirmation.
type StoreHandler struct {
	service  order.Service
	catalog  *catalog.Catalog
	invoices *invoice.Renderer
	validate *validator.Validate
}

func NewStoreHandler(service order.Service, c *catalog.Catalog, invoices *invoice.Renderer) *StoreHandler {
	return &StoreHandler{
		service:  service,
		catalog:  c,
		invoices: invoices,
		validate: newValidator(),
	}
}

func (h *StoreHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/products", h.handleListProducts)
	router.Post("/api/checkout", h.handleCheckout)
	router.Post("/api/webhook/stripe", h.handleStripeWebhook)
	router.Get("/api/orders/{sessionId}", h.handleGetConfirmation)
	router.Get("/api/orders/{sessionId}/invoice", h.handleGetInvoice)
}

func (h *StoreHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.Products()
	response := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		_, err := h.catalog.PriceRef(p)
		response = append(response, ProductResponse{Product: p, Available: !catalog.IsPriceNotConfigured(err)})
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *StoreHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	result, err := h.service.Checkout(r.Context(), requestPayload.input())
	if err != nil {
		log.Error().Err(err).Msg("Failed to checkout via service")

		clientMessage := "Failed to start checkout"
		if errors.Is(err, catalog.ErrPriceNotConfigured) {
			clientMessage = "Product is not available for sale yet"
		}
		respondWithServiceError(w, err, clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *StoreHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// Redelivery would carry the same body, so the event is dropped here.
			log.Error().Int64("limit_bytes", tooLarge.Limit).Msg("Webhook body exceeds limit, acknowledging without processing")
			respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	err = h.service.ReconcilePaymentEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if apperr.Kind(err) == apperr.ErrAuthentication {
			log.Warn().Err(err).Msg("Rejected webhook delivery")
			respondWithError(w, http.StatusBadRequest, "Webhook signature verification failed")
			return
		}
		log.Error().Err(err).Msg("Failed to process webhook delivery")
		respondWithError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *StoreHandler) handleGetConfirmation(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))

	confirmation, err := h.service.GetOrderBySession(r.Context(), sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to get order by session via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, confirmation)
}

func (h *StoreHandler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))

	foundOrder, err := h.service.GetInvoiceOrder(r.Context(), sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to get order for invoice")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	var body bytes.Buffer
	if err := h.invoices.Render(&body, foundOrder); err != nil {
		log.Error().Err(err).Stringer("order_id", foundOrder.ID).Msg("Failed to render invoice")
		respondWithError(w, http.StatusInternalServerError, "Failed to render invoice")
		return
	}

	w.Header().Set("Content-Type", invoice.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+invoice.Filename(foundOrder)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := body.WriteTo(w); err != nil {
		log.Error().Err(err).Msg("Failed to write invoice response")
	}
}
