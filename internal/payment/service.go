// Package payment initializes provider payments for orders and reconciles
// their outcome through explicit verification and signed webhooks.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/auth"
	"github.com/vasiliy-maslov/marketplace/internal/order"
)

type Service interface {
	InitializePayment(ctx context.Context, actor auth.Identity, input InitializeInput) (*InitializeResult, error)
	VerifyPayment(ctx context.Context, actor auth.Identity, reference string) (*VerifyResult, error)
}

type Config struct {
	Provider    string
	Currency    string
	CallbackURL string
}

type paymentService struct {
	repo    Repository
	orders  Orders
	gateway Gateway
	settler *Settler
	cfg     Config
	now     func() time.Time
}

func NewPaymentService(repo Repository, orders Orders, gateway Gateway, settler *Settler, cfg Config) Service {
	return &paymentService{
		repo:    repo,
		orders:  orders,
		gateway: gateway,
		settler: settler,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewReference returns PAY-<epoch-ms>-<8 hex chars>.
func NewReference(now time.Time) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAY-%d-%s", now.UnixMilli(), strings.ToUpper(id.String()[:8])), nil
}

func (s *paymentService) InitializePayment(ctx context.Context, actor auth.Identity, input InitializeInput) (*InitializeResult, error) {
	o, err := s.orders.GetOrderByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.UserID {
		log.Warn().Stringer("order_id", o.ID).Str("user_id", actor.UserID).Msg("service: payment initialization for foreign order")
		return nil, order.ErrOrderNotFound
	}
	if o.Status != order.StatusPendingPayment {
		return nil, apperror.InvalidState("order is not awaiting payment (status %s)", o.Status)
	}
	if actor.Email == "" {
		return nil, apperror.InvalidRequest("an email address is required to pay")
	}

	now := s.now()
	reference, err := NewReference(now)
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate payment reference: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate payment ID: %w", err)
	}

	p := &Payment{
		ID:        id,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Reference: reference,
		Amount:    o.TotalAmount,
		Currency:  s.cfg.Currency,
		Provider:  s.cfg.Provider,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create payment")
		return nil, err
	}

	callbackURL := input.CallbackURL
	if callbackURL == "" {
		callbackURL = s.cfg.CallbackURL
	}

	resp, err := s.gateway.Initialize(ctx, GatewayInitializeRequest{
		Email:       actor.Email,
		Amount:      o.TotalAmount,
		Currency:    s.cfg.Currency,
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata: map[string]string{
			"order_id":     o.ID.String(),
			"order_number": o.OrderNumber,
			"user_id":      o.UserID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("reference", reference).Stringer("order_id", o.ID).Msg("service: provider rejected payment initialization")
		if _, failErr := s.settler.Fail(ctx, p, Outcome{}); failErr != nil {
			log.Error().Err(failErr).Str("reference", reference).Msg("service: could not mark payment failed after initialization error")
		}
		return nil, apperror.New(apperror.ErrPaymentInitializationFailed, "%s", providerMessage(err, "Payment initialization failed"))
	}

	log.Info().Str("reference", reference).Stringer("order_id", o.ID).Msg("service: payment initialized")
	return &InitializeResult{
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        reference,
	}, nil
}

func (s *paymentService) VerifyPayment(ctx context.Context, actor auth.Identity, reference string) (*VerifyResult, error) {
	p, err := s.repo.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(p.UserID) {
		return nil, apperror.Forbidden("not your payment")
	}

	if p.Status != StatusSuccess {
		tx, err := s.gateway.Verify(ctx, reference)
		if err != nil {
			log.Warn().Err(err).Str("reference", reference).Msg("service: payment verification failed")
			return nil, apperror.New(apperror.ErrPaymentVerificationFailed, "%s", providerMessage(err, "Payment verification failed"))
		}

		out := Outcome{Channel: tx.Channel, RawPayload: tx.Raw, PaidAt: s.now()}
		if tx.PaidAt != nil {
			out.PaidAt = tx.PaidAt.UTC()
		}
		if tx.Amount != 0 && tx.Amount != p.Amount {
			log.Warn().Str("reference", reference).Int64("expected", p.Amount).Int64("received", tx.Amount).Msg("service: provider amount differs from payment amount")
		}

		if tx.Succeeded() {
			_, err = s.settler.Succeed(ctx, p, out)
		} else {
			_, err = s.settler.Fail(ctx, p, out)
		}
		if err != nil {
			return nil, err
		}

		if p, err = s.repo.GetPaymentByReference(ctx, reference); err != nil {
			return nil, err
		}
	}

	o, err := s.orders.GetOrderByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{Payment: p, OrderStatus: o.Status.String()}, nil
}

func providerMessage(err error, fallback string) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return fallback
}
