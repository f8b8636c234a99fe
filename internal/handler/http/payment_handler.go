package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/payment"
)

const (
	DefaultSignatureHeader = "x-signature"
	DefaultWebhookMaxBody  = 1 << 20
)

type InitializePaymentRequest struct {
	OrderID     string `json:"order_id" validate:"required,uuid"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url,max=2048"`
}

type PaymentHandler struct {
	service  payment.Service
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service) *PaymentHandler {
	return &PaymentHandler{service: service, validate: newValidator()}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/initialize", h.handleInitializePayment)
	router.Get("/payments/verify/{reference}", h.handleVerifyPayment)
}

func (h *PaymentHandler) handleInitializePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var requestPayload InitializePaymentRequest
	if err := decodeJSON(r, &requestPayload, false); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode initialize payment request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, h.validate, requestPayload) {
		return
	}

	result, err := h.service.InitializePayment(r.Context(), actor, payment.InitializeInput{
		OrderID:     uuid.FromStringOrNil(requestPayload.OrderID),
		CallbackURL: requestPayload.CallbackURL,
	})
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to initialize payment")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		respondWithError(w, http.StatusBadRequest, "Reference cannot be empty")
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), actor, reference)
	if err != nil {
		respondWithServiceError(w, r, err, "Failed to verify payment")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// WebhookReconciler applies a signed provider notification.
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (string, error)
}

type WebhookHandler struct {
	reconciler      WebhookReconciler
	signatureHeader string
	maxBodySize     int64
}

func NewWebhookHandler(reconciler WebhookReconciler, signatureHeader string, maxBodySize int64) *WebhookHandler {
	if signatureHeader == "" {
		signatureHeader = DefaultSignatureHeader
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultWebhookMaxBody
	}
	return &WebhookHandler{
		reconciler:      reconciler,
		signatureHeader: signatureHeader,
		maxBodySize:     maxBodySize,
	}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

// handleWebhook acknowledges every delivery it could apply or safely ignore.
// Storage failures answer 500 so the provider redelivers.
func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Webhook payload too large")
			return
		}
		log.Warn().Err(err).Msg("handler: failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	outcome, err := h.reconciler.HandleWebhook(r.Context(), body, r.Header.Get(h.signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrInvalidSignature):
			respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		case errors.Is(err, apperror.ErrInvalidRequest):
			respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		default:
			log.Error().Err(err).Str("outcome", outcome).Msg("handler: webhook processing failed")
			respondWithError(w, http.StatusInternalServerError, "Webhook processing failed")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}
