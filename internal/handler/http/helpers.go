package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError sends a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errorCode(code)})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

// respondWithServiceError maps err to a status and a client-safe message.
// Errors without a known kind are logged and hidden behind fallback.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)
	if statusCode >= http.StatusInternalServerError && statusCode != http.StatusBadGateway {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("handler: request failed")
		respondWithError(w, statusCode, fallback)
		return
	}

	log.Warn().Err(err).Str("path", r.URL.Path).Int("status", statusCode).Msg("handler: request rejected")
	respondWithJSON(w, statusCode, ErrorResponse{
		Error: apperror.Message(err, fallback),
		Code:  kindCode(err),
	})
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, apperror.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized), errors.Is(err, apperror.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrPaymentInitializationFailed), errors.Is(err, apperror.ErrPaymentVerificationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindCode(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, apperror.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperror.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, apperror.ErrPaymentInitializationFailed):
		return "payment_initialization_failed"
	case errors.Is(err, apperror.ErrPaymentVerificationFailed):
		return "payment_verification_failed"
	default:
		return errorCode(mapErrorToStatusCode(err))
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// decodeJSON decodes a single JSON object and rejects unknown fields. An
// empty body is allowed when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if allowEmpty && r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// validateRequest writes a 400 and returns false when payload fails validation.
func validateRequest(w http.ResponseWriter, validate *validator.Validate, payload any) bool {
	err := validate.Struct(payload)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: formatValidationErrors(validationErrors),
		})
		return false
	}

	log.Error().Err(err).Type("validation_error_type", err).Msg("handler: unexpected error type during validation")
	respondWithError(w, http.StatusInternalServerError, "Internal validation error")
	return false
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fieldPath(fe.Namespace())] = validationMessage(fe)
	}
	return details
}

// fieldPath drops the root struct name: "CreateOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}
