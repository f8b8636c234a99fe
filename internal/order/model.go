package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
)

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	StatusPaid           OrderStatus = "PAID"
	StatusProcessing     OrderStatus = "PROCESSING"
	StatusShipped        OrderStatus = "SHIPPED"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusRefunded       OrderStatus = "REFUNDED"
)

func (os OrderStatus) String() string {
	return string(os)
}

// OrderItem is a line frozen at creation time; name and price are never
// re-read from the catalog.
type OrderItem struct {
	ProductID     uuid.UUID `json:"product_id" db:"product_id"`
	NameSnapshot  string    `json:"name" db:"name_snapshot"`
	PriceSnapshot int64     `json:"price" db:"price_snapshot"`
	Quantity      int       `json:"quantity" db:"quantity"`
	Subtotal      int64     `json:"subtotal" db:"subtotal"`
}

type ShippingAddress struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Street     string `json:"street" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	Country    string `json:"country" validate:"required,max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
}

// Order amounts are in minor currency units.
type Order struct {
	ID                 uuid.UUID       `json:"id"`
	OrderNumber        string          `json:"order_number"`
	UserID             string          `json:"user_id"`
	Items              []OrderItem     `json:"items"`
	SubtotalAmount     int64           `json:"subtotal_amount"`
	ShippingFee        int64           `json:"shipping_fee"`
	DiscountAmount     int64           `json:"discount_amount"`
	TotalAmount        int64           `json:"total_amount"`
	Status             OrderStatus     `json:"status"`
	ShippingAddress    ShippingAddress `json:"shipping_address"`
	PaymentID          *uuid.UUID      `json:"payment_id,omitempty"`
	TrackingNumber     *string         `json:"tracking_number,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	ShippedAt          *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreateOrderInput is what a caller supplies to place an order. Items is
// only used when the caller's cart is empty.
type CreateOrderInput struct {
	Items           []cart.Line
	ShippingAddress ShippingAddress
	Notes           string
}

type StatusUpdateInput struct {
	Status         OrderStatus
	TrackingNumber string
	Notes          string
	Reason         string
}

// StatusChange is one guarded write of the order row. The row is only
// updated while its status still equals From. Nil fields are left alone and
// timestamps already set are never overwritten.
type StatusChange struct {
	From               OrderStatus
	To                 OrderStatus
	PaidAt             *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	TrackingNumber     *string
	Notes              *string
	CancellationReason *string
	UpdatedAt          time.Time
}

type ListFilter struct {
	UserID      string
	Status      OrderStatus
	OrderNumber string
	SortBy      string
	SortDir     string
	Page        int
	Limit       int
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type ListResult struct {
	Items      []Order    `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type StatusStats struct {
	Status      OrderStatus `json:"status" db:"status"`
	Count       int64       `json:"count" db:"count"`
	TotalAmount int64       `json:"total_amount" db:"total_amount"`
}

type Stats struct {
	TotalOrders  int64         `json:"total_orders"`
	TotalRevenue int64         `json:"total_revenue"`
	ByStatus     []StatusStats `json:"by_status"`
}
