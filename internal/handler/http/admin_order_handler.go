package http

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/export"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type OrderResponse struct {
	Order *order.Order `json:"order"`
}

// AdminOrderHandler serves the back-office order routes. Callers must be
// mounted behind an admin role check.
type AdminOrderHandler struct {
	service  order.Service
	validate *validator.Validate
	now      func() time.Time
}

func NewAdminOrderHandler(service order.Service) *AdminOrderHandler {
	return &AdminOrderHandler{
		service:  service,
		validate: newValidator(),
		now:      time.Now,
	}
}

func (h *AdminOrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/export", h.handleExportCSV)
	router.Get("/orders/export-xlsx", h.handleExportXLSX)
	router.Get("/orders/stats", h.handleStats)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Patch("/orders/{id}", h.handleUpdateOrderStatus)
}

func filterFromQuery(values url.Values) order.ListFilter {
	atoi := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(values.Get(key)))
		if err != nil {
			return 0
		}
		return n
	}

	return order.ListFilter{
		Query:    values.Get("q"),
		CardType: values.Get("cardType"),
		Status:   order.Status(values.Get("status")),
		Period:   values.Get("period"),
		Start:    values.Get("start"),
		End:      values.Get("end"),
		Sort:     values.Get("sort"),
		Dir:      values.Get("dir"),
		Page:     atoi("page"),
		PageSize: atoi("pageSize"),
	}
}

func (h *AdminOrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListOrders(r.Context(), filterFromQuery(r.URL.Query()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, page)
}

func (h *AdminOrderHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "csv", export.CSVContentType, export.WriteCSV)
}

func (h *AdminOrderHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", export.XLSXContentType, export.WriteXLSX)
}

func (h *AdminOrderHandler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, write func(io.Writer, []order.Order) error) {
	orders, err := h.service.ExportOrders(r.Context(), filterFromQuery(r.URL.Query()))
	if err != nil {
		log.Error().Err(err).Str("format", ext).Msg("Failed to export orders via service")
		respondWithServiceError(w, err, "Failed to export orders")
		return
	}

	var body bytes.Buffer
	if err := write(&body, orders); err != nil {
		log.Error().Err(err).Str("format", ext).Msg("Failed to encode order export")
		respondWithError(w, http.StatusInternalServerError, "Failed to export orders")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(h.now(), ext)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := body.WriteTo(w); err != nil {
		log.Error().Err(err).Msg("Failed to write export response")
	}
}

func (h *AdminOrderHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute order stats via service")
		respondWithServiceError(w, err, "Failed to load statistics")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (h *AdminOrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	foundOrder, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order by id via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, OrderResponse{Order: foundOrder})
}

func (h *AdminOrderHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updatedOrder, err := h.service.SetStatus(r.Context(), orderID, requestPayload.Status)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("status", requestPayload.Status).Msg("Failed to update order status via service")
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, OrderResponse{Order: updatedOrder})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}
