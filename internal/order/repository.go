package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var (
	ErrOrderNotFound        = apperror.NotFound("order not found")
	ErrDuplicateOrderNumber = apperror.Conflict("order number already taken, please retry")
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// UpdateOrderStatus applies change only if the order is still in
	// change.From. It reports whether a row was updated.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error)
	// MarkOrderPaid moves a PENDING_PAYMENT order to PAID and links the
	// payment. It reports whether this call performed the transition.
	MarkOrderPaid(ctx context.Context, id, paymentID uuid.UUID, paidAt time.Time) (bool, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, status, subtotal_amount, shipping_fee, discount_amount, total_amount,
	shipping_address, payment_id, tracking_number, notes, cancellation_reason,
	paid_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at
`

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) error {
	conn := db.Conn(ctx, r.db)

	queryOrder := `
		INSERT INTO orders (
			id, order_number, user_id, status, subtotal_amount, shipping_fee, discount_amount, total_amount,
			shipping_address, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := conn.Exec(ctx, queryOrder,
		o.ID,
		o.OrderNumber,
		o.UserID,
		string(o.Status),
		o.SubtotalAmount,
		o.ShippingFee,
		o.DiscountAmount,
		o.TotalAmount,
		o.ShippingAddress,
		o.Notes,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_order_number_key" {
			log.Warn().Str("order_number", o.OrderNumber).Msg("repository: order number collision")
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	queryItem := `
		INSERT INTO order_items (id, order_id, position, product_id, name_snapshot, price_snapshot, quantity, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, item := range o.Items {
		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		batch.Queue(queryItem, itemID, o.ID, i, item.ProductID, item.NameSnapshot, item.PriceSnapshot, item.Quantity, item.Subtotal)
	}

	if err := conn.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("repository: failed to insert order items for order %s: %w", o.ID, err)
	}

	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOrder(ctx, "id = $1", id)
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	return r.getOrder(ctx, "order_number = $1", orderNumber)
}

func (r *postgresRepository) getOrder(ctx context.Context, where string, arg any) (*Order, error) {
	conn := db.Conn(ctx, r.db)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	o, err := scanOrder(conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to get order: %w", err)
	}

	items, err := r.getItems(ctx, conn, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return o, nil
}

func (r *postgresRepository) getItems(ctx context.Context, conn db.Querier, orderID uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT product_id, name_snapshot, price_snapshot, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`
	rows, err := conn.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.NameSnapshot, &item.PriceSnapshot, &item.Quantity, &item.Subtotal); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3,
			paid_at = COALESCE(paid_at, $4),
			shipped_at = COALESCE(shipped_at, $5),
			delivered_at = COALESCE(delivered_at, $6),
			cancelled_at = COALESCE(cancelled_at, $7),
			tracking_number = COALESCE($8, tracking_number),
			notes = COALESCE($9, notes),
			cancellation_reason = COALESCE(cancellation_reason, $10),
			updated_at = $11
		WHERE id = $1 AND status = $2
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query,
		id,
		string(change.From),
		string(change.To),
		change.PaidAt,
		change.ShippedAt,
		change.DeliveredAt,
		change.CancelledAt,
		change.TrackingNumber,
		change.Notes,
		change.CancellationReason,
		change.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to update status of order %s: %w", id, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) MarkOrderPaid(ctx context.Context, id, paymentID uuid.UUID, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
			paid_at = COALESCE(paid_at, $4),
			payment_id = COALESCE(payment_id, $5),
			updated_at = $4
		WHERE id = $1 AND status = $3
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query,
		id,
		string(StatusPaid),
		string(StatusPendingPayment),
		paidAt,
		paymentID,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", id, err)
	}

	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o         Order
		status    string
		paymentID uuid.NullUUID
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&status,
		&o.SubtotalAmount,
		&o.ShippingFee,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.ShippingAddress,
		&paymentID,
		&o.TrackingNumber,
		&o.Notes,
		&o.CancellationReason,
		&o.PaidAt,
		&o.ShippedAt,
		&o.DeliveredAt,
		&o.CancelledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = OrderStatus(status)
	if paymentID.Valid {
		id := paymentID.UUID
		o.PaymentID = &id
	}
	return &o, nil
}
