// Package paystack talks to the Paystack transaction API behind a circuit
// breaker and a client-side rate limit.
package paystack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vasiliy-maslov/marketplace/internal/metrics"
	"github.com/vasiliy-maslov/marketplace/internal/payment"
)

const (
	DefaultBaseURL = "https://api.paystack.co"

	maxResponseSize = 1 << 20
	breakerName     = "paystack"
)

type Config struct {
	BaseURL           string
	SecretKey         string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

var _ payment.Gateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	metrics.SetCircuitState(0)

	return &Client{
		baseURL:    baseURL,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			// A request the provider rejected on its merits says nothing
			// about the provider's health.
			IsSuccessful: func(err error) bool {
				var pe *payment.ProviderError
				if errors.As(err, &pe) {
					return pe.StatusCode < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("paystack: circuit breaker state changed")
				metrics.SetCircuitState(stateValue(to))
			},
		}),
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type transactionData struct {
	Reference string  `json:"reference"`
	Status    string  `json:"status"`
	Amount    int64   `json:"amount"`
	Currency  string  `json:"currency"`
	Channel   string  `json:"channel"`
	PaidAt    *string `json:"paid_at"`
}

func (c *Client) Initialize(ctx context.Context, req payment.GatewayInitializeRequest) (*payment.GatewayInitializeResponse, error) {
	body, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to encode initialize request: %w", err)
	}

	data, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var out initializeData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("paystack: failed to decode initialize response: %w", err)
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return &payment.GatewayInitializeResponse{
		AuthorizationURL: out.AuthorizationURL,
		AccessCode:       out.AccessCode,
		Reference:        out.Reference,
	}, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (*payment.Transaction, error) {
	data, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var out transactionData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("paystack: failed to decode verify response: %w", err)
	}

	tx := &payment.Transaction{
		Reference: out.Reference,
		Status:    out.Status,
		Amount:    out.Amount,
		Currency:  out.Currency,
		Channel:   out.Channel,
		Raw:       data,
	}
	if tx.Reference == "" {
		tx.Reference = reference
	}
	if out.PaidAt != nil && *out.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, *out.PaidAt); err == nil {
			t = t.UTC()
			tx.PaidAt = &t
		}
	}
	return tx, nil
}

// do sends one request and returns the data member of the response envelope.
func (c *Client) do(ctx context.Context, operation, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordGatewayRequest(operation, "rate_limited")
		return nil, fmt.Errorf("paystack: rate limiter: %w", err)
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, path, body)
	})
	switch {
	case err == nil:
		metrics.RecordGatewayRequest(operation, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordGatewayRequest(operation, "rejected")
		log.Warn().Err(err).Str("operation", operation).Msg("paystack: request short-circuited")
	default:
		metrics.RecordGatewayRequest(operation, "failure")
	}
	return data, err
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paystack: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("paystack: failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &payment.ProviderError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("paystack: failed to decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return nil, &payment.ProviderError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
