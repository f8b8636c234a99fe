package payment

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	"github.com/vasiliy-maslov/marketplace/internal/metrics"
	"github.com/vasiliy-maslov/marketplace/internal/order"
)

// Orders is the slice of the order service that payments depend on.
type Orders interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	MarkPaid(ctx context.Context, orderID, paymentID uuid.UUID, paidAt time.Time) (bool, error)
}

// Settler applies provider outcomes to payments. Explicit verification and
// webhooks both go through it, so a reference is settled as SUCCESS and its
// order marked PAID at most once however the two race.
type Settler struct {
	repo      Repository
	orders    Orders
	tx        db.Transactor
	publisher events.Publisher
}

func NewSettler(repo Repository, orders Orders, tx db.Transactor, publisher events.Publisher) *Settler {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Settler{repo: repo, orders: orders, tx: tx, publisher: publisher}
}

// Succeed moves the payment to SUCCESS and marks its order paid in one
// transaction. It reports whether this call made the change.
func (s *Settler) Succeed(ctx context.Context, p *Payment, out Outcome) (bool, error) {
	var (
		updated   *Payment
		changed   bool
		orderPaid bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, changed, err = s.repo.CompletePayment(ctx, p.Reference, out)
		if err != nil || !changed {
			return err
		}
		orderPaid, err = s.orders.MarkPaid(ctx, updated.OrderID, updated.ID, out.PaidAt)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("reference", p.Reference).Msg("service: failed to settle successful payment")
		return false, err
	}
	if !changed {
		log.Debug().Str("reference", p.Reference).Msg("service: payment already settled")
		return false, nil
	}

	metrics.RecordPayment(StatusSuccess.String())
	log.Info().Str("reference", updated.Reference).Stringer("order_id", updated.OrderID).Bool("order_paid", orderPaid).Msg("service: payment succeeded")

	if orderPaid {
		events.Publish(ctx, s.publisher, events.Event{
			Type:      events.OrderPaid,
			OrderID:   updated.OrderID.String(),
			UserID:    updated.UserID,
			Status:    order.StatusPaid.String(),
			Reference: updated.Reference,
			Amount:    updated.Amount,
		})
	}
	return true, nil
}

// Fail records a failed charge. A payment that already succeeded is left alone.
func (s *Settler) Fail(ctx context.Context, p *Payment, out Outcome) (bool, error) {
	changed, err := s.repo.FailPayment(ctx, p.Reference, out)
	if err != nil {
		log.Error().Err(err).Str("reference", p.Reference).Msg("service: failed to record failed payment")
		return false, err
	}
	if !changed {
		return false, nil
	}

	metrics.RecordPayment(StatusFailed.String())
	log.Info().Str("reference", p.Reference).Stringer("order_id", p.OrderID).Msg("service: payment failed")
	events.Publish(ctx, s.publisher, events.Event{
		Type:      events.PaymentFailed,
		OrderID:   p.OrderID.String(),
		UserID:    p.UserID,
		Status:    StatusFailed.String(),
		Reference: p.Reference,
		Amount:    p.Amount,
	})
	return true, nil
}
