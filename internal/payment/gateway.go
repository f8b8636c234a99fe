package payment

import (
	"context"
	"time"
)

// Gateway is the external payment provider.
type Gateway interface {
	Initialize(ctx context.Context, req GatewayInitializeRequest) (*GatewayInitializeResponse, error)
	Verify(ctx context.Context, reference string) (*Transaction, error)
}

type GatewayInitializeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

type GatewayInitializeResponse struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// Transaction is the provider's view of a payment.
type Transaction struct {
	Reference string
	Status    string
	Amount    int64
	Currency  string
	Channel   string
	PaidAt    *time.Time
	Raw       []byte
}

// Succeeded reports whether the provider considers the charge successful.
func (t *Transaction) Succeeded() bool {
	return t.Status == "success"
}

// ProviderError is a rejection reported by the provider. Message is safe to
// show to the caller.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "payment provider rejected the request"
	}
	return e.Message
}
