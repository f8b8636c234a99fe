package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/metrics"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Webhook outcomes, also used as metric labels.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeIgnored          = "ignored"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
)

var ErrInvalidSignature = apperror.New(apperror.ErrInvalidSignature, "invalid webhook signature")

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Status    string          `json:"status"`
	Channel   string          `json:"channel"`
	Currency  string          `json:"currency"`
	PaidAt    string          `json:"paid_at"`
	Customer  json.RawMessage `json:"customer"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Reconciler applies signed provider webhooks to local payments and orders.
type Reconciler struct {
	secret  []byte
	repo    Repository
	settler *Settler
	now     func() time.Time
}

func NewReconciler(secret string, repo Repository, settler *Settler) *Reconciler {
	return &Reconciler{
		secret:  []byte(secret),
		repo:    repo,
		settler: settler,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (r *Reconciler) VerifySignature(body []byte, signature string) bool {
	if signature == "" || len(r.secret) == 0 {
		return false
	}
	expected := Sign(r.secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// HandleWebhook checks the signature over the raw body before anything is
// parsed. Unknown events and references are accepted and ignored.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (string, error) {
	if !r.VerifySignature(body, signature) {
		log.Warn().Int("body_size", len(body)).Msg("webhook: rejected payload with invalid signature")
		metrics.RecordWebhookEvent("unknown", OutcomeRejected)
		return OutcomeRejected, ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.RecordWebhookEvent("unknown", OutcomeRejected)
		return OutcomeRejected, apperror.InvalidRequest("malformed webhook payload")
	}

	var (
		outcome string
		err     error
	)
	switch event.Event {
	case EventChargeSuccess:
		outcome, err = r.handleSuccess(ctx, body, event.Data)
	case EventChargeFailed:
		outcome, err = r.handleFailure(ctx, body, event.Data)
	default:
		log.Info().Str("event", event.Event).Msg("webhook: ignoring unhandled event")
		outcome = OutcomeIgnored
	}
	if err != nil {
		outcome = OutcomeError
	}

	metrics.RecordWebhookEvent(eventLabel(event.Event), outcome)
	return outcome, err
}

func (r *Reconciler) lookup(ctx context.Context, data WebhookData) (*Payment, error) {
	if data.Reference == "" {
		return nil, nil
	}
	p, err := r.repo.GetPaymentByReference(ctx, data.Reference)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Info().Str("reference", data.Reference).Msg("webhook: no payment for reference")
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *Reconciler) handleSuccess(ctx context.Context, body []byte, data WebhookData) (string, error) {
	p, err := r.lookup(ctx, data)
	if err != nil || p == nil {
		return OutcomeUnknownReference, err
	}
	if p.Status == StatusSuccess {
		return OutcomeDuplicate, nil
	}
	if data.Amount != 0 && data.Amount != p.Amount {
		log.Warn().Str("reference", p.Reference).Int64("expected", p.Amount).Int64("received", data.Amount).Msg("webhook: provider amount differs from payment amount")
	}

	changed, err := r.settler.Succeed(ctx, p, Outcome{
		Channel:    data.Channel,
		RawPayload: body,
		PaidAt:     r.paidAt(data.PaidAt),
	})
	if err != nil {
		return OutcomeError, err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) handleFailure(ctx context.Context, body []byte, data WebhookData) (string, error) {
	p, err := r.lookup(ctx, data)
	if err != nil || p == nil {
		return OutcomeUnknownReference, err
	}

	changed, err := r.settler.Fail(ctx, p, Outcome{Channel: data.Channel, RawPayload: body})
	if err != nil {
		return OutcomeError, err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) paidAt(raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC()
		}
	}
	return r.now()
}

// eventLabel bounds metric cardinality to the events we know.
func eventLabel(event string) string {
	switch event {
	case EventChargeSuccess, EventChargeFailed:
		return event
	default:
		return "other"
	}
}
