package payment

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string {
	return string(s)
}

// Payment is one attempt to pay an order. Amount is in minor units.
type Payment struct {
	ID         uuid.UUID  `json:"id"`
	OrderID    uuid.UUID  `json:"order_id"`
	UserID     string     `json:"user_id"`
	Reference  string     `json:"reference"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	Provider   string     `json:"provider"`
	Channel    *string    `json:"channel,omitempty"`
	Status     Status     `json:"status"`
	RawPayload []byte     `json:"-"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Outcome is a provider-confirmed result applied to a pending payment.
type Outcome struct {
	Channel    string
	RawPayload []byte
	PaidAt     time.Time
}

type InitializeInput struct {
	OrderID     uuid.UUID
	CallbackURL string
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResult struct {
	Payment     *Payment `json:"payment"`
	OrderStatus string   `json:"order_status"`
}
