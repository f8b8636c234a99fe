package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/auth"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/order"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128

	// idempotencyPending marks a key whose order is still being created.
	idempotencyPending = "pending"
)

// IdempotencyStore remembers which order a client-supplied key produced.
type IdempotencyStore interface {
	PutIfAbsent(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte, ttl time.Duration) error
	Take(key string) ([]byte, bool, error)
}

type CreateOrderRequest struct {
	Items           []cart.Line           `json:"items" validate:"omitempty,max=100,dive"`
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
	Notes           string                `json:"notes" validate:"max=1000"`
}

type UpdateOrderStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=PENDING_PAYMENT PAID PROCESSING SHIPPED DELIVERED CANCELLED REFUNDED"`
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
	Notes          string `json:"notes" validate:"max=1000"`
	Reason         string `json:"reason" validate:"max=500"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type OrderHandler struct {
	service  order.Service
	idem     IdempotencyStore
	idemTTL  time.Duration
	validate *validator.Validate
}

// NewOrderHandler builds the order handler. idem may be nil, in which case
// the Idempotency-Key header is ignored.
func NewOrderHandler(service order.Service, idem IdempotencyStore, idemTTL time.Duration) *OrderHandler {
	return &OrderHandler{
		service:  service,
		idem:     idem,
		idemTTL:  idemTTL,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/stats", h.handleGetStats)
	router.Get("/orders/number/{orderNumber}", h.handleGetOrderByNumber)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Patch("/orders/{id}/status", h.handleUpdateOrderStatus)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var requestPayload CreateOrderRequest
	if err := decodeJSON(r, &requestPayload, false); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode create order request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, h.validate, requestPayload) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		respondWithError(w, http.StatusBadRequest, "Idempotency-Key must be at most 128 characters")
		return
	}

	var storeKey string
	if key != "" && h.idem != nil {
		storeKey = "orders:" + actor.UserID + ":" + key
		reserved, err := h.idem.PutIfAbsent(storeKey, []byte(idempotencyPending), h.idemTTL)
		if err != nil {
			log.Error().Err(err).Str("user_id", actor.UserID).Msg("handler: failed to reserve idempotency key")
			respondWithError(w, http.StatusInternalServerError, "Failed to create order")
			return
		}
		if !reserved {
			h.replayCreate(w, r, actor, storeKey)
			return
		}
	}

	created, err := h.service.CreateOrder(r.Context(), actor, order.CreateOrderInput{
		Items:           requestPayload.Items,
		ShippingAddress: requestPayload.ShippingAddress,
		Notes:           requestPayload.Notes,
	})
	if err != nil {
		if storeKey != "" {
			if _, _, takeErr := h.idem.Take(storeKey); takeErr != nil {
				log.Error().Err(takeErr).Msg("handler: failed to release idempotency key")
			}
		}
		respondWithServiceError(w, r, err, "Failed to create order")
		return
	}

	if storeKey != "" {
		if err := h.idem.Put(storeKey, []byte(created.ID.String()), h.idemTTL); err != nil {
			log.Error().Err(err).Stringer("order_id", created.ID).Msg("handler: failed to record idempotency key")
		}
	}

	respondWithJSON(w, http.StatusCreated, created)
}

// replayCreate answers a repeated create with the order the key produced.
func (h *OrderHandler) replayCreate(w http.ResponseWriter, r *http.Request, actor auth.Identity, storeKey string) {
	value, found, err := h.idem.Get(storeKey)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to read idempotency key")
		respondWithError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}
	if !found || string(value) == idempotencyPending {
		respondWithError(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
		return
	}

	orderID, err := uuid.FromString(string(value))
	if err != nil {
		log.Error().Err(err).Str("value", string(value)).Msg("handler: corrupt idempotency record")
		respondWithError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	existing, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to create order")
		return
	}

	log.Info().Stringer("order_id", orderID).Msg("handler: replayed idempotent order creation")
	respondWithJSON(w, http.StatusOK, existing)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := optionalInt(query.Get("page"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid page parameter")
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
		return
	}

	result, err := h.service.ListOrders(r.Context(), actor, order.ListFilter{
		UserID:      query.Get("user_id"),
		Status:      order.OrderStatus(strings.ToUpper(query.Get("status"))),
		OrderNumber: query.Get("order_number"),
		SortBy:      query.Get("sort_by"),
		SortDir:     query.Get("sort_dir"),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetStats(r.Context(), actor, r.URL.Query().Get("user_id"))
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to get order statistics")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		respondWithError(w, http.StatusBadRequest, "Order number cannot be empty")
		return
	}

	found, err := h.service.GetOrderByNumber(r.Context(), actor, orderNumber)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateOrderStatusRequest
	if err := decodeJSON(r, &requestPayload, false); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode status update request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, h.validate, requestPayload) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), actor, orderID, order.StatusUpdateInput{
		Status:         order.OrderStatus(requestPayload.Status),
		TrackingNumber: requestPayload.TrackingNumber,
		Notes:          requestPayload.Notes,
		Reason:         requestPayload.Reason,
	})
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload CancelOrderRequest
	if err := decodeJSON(r, &requestPayload, true); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode cancel request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, h.validate, requestPayload) {
		return
	}

	cancelled, err := h.service.CancelOrder(r.Context(), actor, orderID, requestPayload.Reason)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to cancel order")
		return
	}

	respondWithJSON(w, http.StatusOK, cancelled)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return auth.Identity{}, false
	}
	return actor, true
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("handler: failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}
