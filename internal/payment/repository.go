package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var (
	ErrPaymentNotFound    = apperror.NotFound("payment not found")
	ErrDuplicateReference = apperror.Conflict("payment reference already exists")
)

type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
	// CompletePayment sets SUCCESS unless the payment already has it. The
	// updated payment is returned only to the caller that made the change.
	CompletePayment(ctx context.Context, reference string, out Outcome) (*Payment, bool, error)
	// FailPayment sets FAILED unless the payment is already SUCCESS. The
	// provider payload is stored either way, but only a move out of PENDING
	// counts as a change.
	FailPayment(ctx context.Context, reference string, out Outcome) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const paymentColumns = `
	id, order_id, user_id, reference, amount, currency, provider, channel, status,
	raw_payload, paid_at, created_at, updated_at
`

func (r *postgresRepository) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, order_id, user_id, reference, amount, currency, provider, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.Conn(ctx, r.db).Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.UserID,
		p.Reference,
		p.Amount,
		p.Currency,
		p.Provider,
		string(p.Status),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateReference
		}
		return fmt.Errorf("repository: failed to insert payment: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetPaymentByReference(ctx context.Context, reference string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`
	p, err := scanPayment(db.Conn(ctx, r.db).QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to get payment %s: %w", reference, err)
	}
	return p, nil
}

func (r *postgresRepository) CompletePayment(ctx context.Context, reference string, out Outcome) (*Payment, bool, error) {
	query := `
		UPDATE payments
		SET status = $2,
			channel = COALESCE($3, channel),
			raw_payload = COALESCE($4, raw_payload),
			paid_at = COALESCE(paid_at, $5),
			updated_at = $6
		WHERE reference = $1 AND status <> $2
		RETURNING ` + paymentColumns

	p, err := scanPayment(db.Conn(ctx, r.db).QueryRow(ctx, query,
		reference,
		string(StatusSuccess),
		nullable(out.Channel),
		rawJSON(out.RawPayload),
		out.PaidAt,
		time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository: failed to complete payment %s: %w", reference, err)
	}
	return p, true, nil
}

func (r *postgresRepository) FailPayment(ctx context.Context, reference string, out Outcome) (bool, error) {
	// prev locks the row, so a concurrent caller re-reads the status this
	// statement wrote and does not report the change again.
	query := `
		WITH prev AS (
			SELECT id, status FROM payments WHERE reference = $1 FOR UPDATE
		)
		UPDATE payments p
		SET status = $2,
			channel = COALESCE($3, p.channel),
			raw_payload = COALESCE($4, p.raw_payload),
			updated_at = $5
		FROM prev
		WHERE p.id = prev.id AND prev.status <> $6
		RETURNING prev.status
	`
	var previous string
	err := db.Conn(ctx, r.db).QueryRow(ctx, query,
		reference,
		string(StatusFailed),
		nullable(out.Channel),
		rawJSON(out.RawPayload),
		time.Now().UTC(),
		string(StatusSuccess),
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to fail payment %s: %w", reference, err)
	}
	return Status(previous) == StatusPending, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		status string
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Reference,
		&p.Amount,
		&p.Currency,
		&p.Provider,
		&p.Channel,
		&status,
		&p.RawPayload,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rawJSON keeps an empty payload as SQL NULL.
func rawJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
