package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var sortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"total_amount": "total_amount",
	"status":       "status",
	"order_number": "order_number",
}

// QueryRepository serves listing and aggregate reads.
type QueryRepository interface {
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int64, error)
	GetStats(ctx context.Context, userID string) ([]StatusStats, error)
}

type sqlxQueryRepository struct {
	db *sqlx.DB
}

func NewQueryRepository(db *sqlx.DB) QueryRepository {
	return &sqlxQueryRepository{db: db}
}

type orderRow struct {
	ID                 uuid.UUID     `db:"id"`
	OrderNumber        string        `db:"order_number"`
	UserID             string        `db:"user_id"`
	Status             string        `db:"status"`
	SubtotalAmount     int64         `db:"subtotal_amount"`
	ShippingFee        int64         `db:"shipping_fee"`
	DiscountAmount     int64         `db:"discount_amount"`
	TotalAmount        int64         `db:"total_amount"`
	ShippingAddress    []byte        `db:"shipping_address"`
	PaymentID          uuid.NullUUID `db:"payment_id"`
	TrackingNumber     *string       `db:"tracking_number"`
	Notes              *string       `db:"notes"`
	CancellationReason *string       `db:"cancellation_reason"`
	PaidAt             *time.Time    `db:"paid_at"`
	ShippedAt          *time.Time    `db:"shipped_at"`
	DeliveredAt        *time.Time    `db:"delivered_at"`
	CancelledAt        *time.Time    `db:"cancelled_at"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

type itemRow struct {
	OrderID uuid.UUID `db:"order_id"`
	OrderItem
}

// NormalizeFilter clamps paging and resolves sort defaults.
func NormalizeFilter(f ListFilter) ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "created_at"
	}
	if strings.ToLower(f.SortDir) == "asc" {
		f.SortDir = "asc"
	} else {
		f.SortDir = "desc"
	}
	return f
}

func buildWhere(f ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OrderNumber != "" {
		args = append(args, "%"+escapeLike(f.OrderNumber)+"%")
		clauses = append(clauses, fmt.Sprintf("order_number ILIKE $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *sqlxQueryRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int64, error) {
	f := NormalizeFilter(filter)
	where, args := buildWhere(f)

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}
	if total == 0 {
		return []Order{}, 0, nil
	}

	// sort column and direction come from a whitelist.
	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		orderColumns, where, sortColumns[f.SortBy], f.SortDir, f.SortDir, len(args)+1, len(args)+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to list orders: %w", err)
	}

	orders := make([]Order, 0, len(rows))
	ids := make([]string, 0, len(rows))
	index := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		o, err := row.toOrder()
		if err != nil {
			return nil, 0, err
		}
		index[o.ID] = len(orders)
		orders = append(orders, *o)
		ids = append(ids, o.ID.String())
	}

	if len(ids) > 0 {
		var items []itemRow
		itemsQuery := `
			SELECT order_id, product_id, name_snapshot, price_snapshot, quantity, subtotal
			FROM order_items
			WHERE order_id = ANY($1::uuid[])
			ORDER BY order_id, position
		`
		if err := r.db.SelectContext(ctx, &items, itemsQuery, ids); err != nil {
			return nil, 0, fmt.Errorf("repository: failed to list order items: %w", err)
		}
		for _, item := range items {
			if i, ok := index[item.OrderID]; ok {
				orders[i].Items = append(orders[i].Items, item.OrderItem)
			}
		}
	}

	return orders, total, nil
}

func (r *sqlxQueryRepository) GetStats(ctx context.Context, userID string) ([]StatusStats, error) {
	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total_amount
		FROM orders
	`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` GROUP BY status ORDER BY status`

	var stats []StatusStats
	if err := r.db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("repository: failed to aggregate order stats: %w", err)
	}
	return stats, nil
}

func (row orderRow) toOrder() (*Order, error) {
	o := &Order{
		ID:                 row.ID,
		OrderNumber:        row.OrderNumber,
		UserID:             row.UserID,
		Status:             OrderStatus(row.Status),
		SubtotalAmount:     row.SubtotalAmount,
		ShippingFee:        row.ShippingFee,
		DiscountAmount:     row.DiscountAmount,
		TotalAmount:        row.TotalAmount,
		TrackingNumber:     row.TrackingNumber,
		Notes:              row.Notes,
		CancellationReason: row.CancellationReason,
		PaidAt:             row.PaidAt,
		ShippedAt:          row.ShippedAt,
		DeliveredAt:        row.DeliveredAt,
		CancelledAt:        row.CancelledAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		Items:              []OrderItem{},
	}
	if row.PaymentID.Valid {
		id := row.PaymentID.UUID
		o.PaymentID = &id
	}
	if len(row.ShippingAddress) > 0 {
		if err := json.Unmarshal(row.ShippingAddress, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("repository: failed to decode shipping address of order %s: %w", row.ID, err)
		}
	}
	return o, nil
}
