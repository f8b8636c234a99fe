package http_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/auth"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
	handler "github.com/vasiliy-maslov/marketplace/internal/handler/http"
	"github.com/vasiliy-maslov/marketplace/internal/idempotency"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/payment"
)

var (
	customer = auth.Identity{UserID: "user-1", Email: "ada@example.com", Role: auth.RoleCustomer, IsActive: true}
	admin    = auth.Identity{UserID: "admin-1", Email: "ops@example.com", Role: auth.RoleAdmin, IsActive: true}
)

type fixture struct {
	orders   *MockOrderService
	payments *MockPaymentService
	webhook  *MockReconciler
	tokens   *auth.Manager
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := auth.NewManager("handler-test-secret")
	require.NoError(t, err)
	store, err := idempotency.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		orders:   new(MockOrderService),
		payments: new(MockPaymentService),
		webhook:  new(MockReconciler),
		tokens:   tokens,
	}
	f.router = handler.Router{
		Orders:       handler.NewOrderHandler(f.orders, store, time.Hour),
		Payments:     handler.NewPaymentHandler(f.payments),
		Webhook:      handler.NewWebhookHandler(f.webhook, "x-signature", 256),
		Authenticate: tokens.Middleware,
	}.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body string, as *auth.Identity, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := f.tokens.IssueToken(*as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func sampleOrder() *order.Order {
	return &order.Order{
		ID:             uuid.Must(uuid.NewV4()),
		OrderNumber:    "ORD-1740830400000-042",
		UserID:         "user-1",
		Items:          []order.OrderItem{{ProductID: uuid.Must(uuid.NewV4()), NameSnapshot: "Mug", PriceSnapshot: 1000, Quantity: 2, Subtotal: 2000}},
		SubtotalAmount: 2000,
		ShippingFee:    150,
		TotalAmount:    2150,
		Status:         order.StatusPendingPayment,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

const createBody = `{
	"items": [{"product_id": "6f1c3a52-8f1e-4d4b-9a55-3c5bfa2a1d11", "quantity": 2}],
	"shipping_address": {"full_name": "Ada Obi", "phone": "+2348000000000", "street": "1 Marina", "city": "Lagos", "state": "Lagos", "country": "NG"},
	"notes": "leave at the door"
}`

func TestOrderHandler_CreateOrder_Success(t *testing.T) {
	f := newFixture(t)
	created := sampleOrder()

	f.orders.On("CreateOrder", mock.Anything, customer, mock.MatchedBy(func(in order.CreateOrderInput) bool {
		return len(in.Items) == 1 &&
			in.Items[0].ProductID == uuid.FromStringOrNil("6f1c3a52-8f1e-4d4b-9a55-3c5bfa2a1d11") &&
			in.Items[0].Quantity == 2 &&
			in.ShippingAddress.City == "Lagos" &&
			in.Notes == "leave at the door"
	})).Return(created, nil).Once()

	rr := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	var got order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	if diff := cmp.Diff(*created, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_ValidationFailed(t *testing.T) {
	f := newFixture(t)
	body := `{"items":[{"product_id":"6f1c3a52-8f1e-4d4b-9a55-3c5bfa2a1d11","quantity":0}],"shipping_address":{"phone":"1","street":"s","city":"c","state":"s","country":"NG"}}`

	rr := f.do(t, http.MethodPost, "/api/v1/orders", body, &customer, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp handler.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Validation failed", resp.Error)
	assert.Equal(t, "is required", resp.Details["shipping_address.full_name"])
	assert.Contains(t, resp.Details, "items[0].quantity")
	f.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderHandler_CreateOrder_UnknownField(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/orders", `{"total_amount": 1}`, &customer, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rr).Code)
}

func TestOrderHandler_CreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.orders.On("CreateOrder", mock.Anything, customer, mock.Anything).
		Return(nil, apperror.InvalidRequest("insufficient stock for product Mug")).Once()

	rr := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "insufficient stock for product Mug", resp.Error)
	assert.Equal(t, "invalid_request", resp.Code)
}

func TestOrderHandler_CreateOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	created := sampleOrder()
	headers := map[string]string{handler.IdempotencyKeyHeader: "checkout-7f3a"}

	f.orders.On("CreateOrder", mock.Anything, customer, mock.Anything).Return(created, nil).Once()
	f.orders.On("GetOrder", mock.Anything, customer, created.ID).Return(created, nil).Once()

	first := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers)
	second := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	var replayed order.Order
	require.NoError(t, json.NewDecoder(second.Body).Decode(&replayed))
	assert.Equal(t, created.ID, replayed.ID)
	f.orders.AssertNumberOfCalls(t, "CreateOrder", 1)
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_KeysAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	other := auth.Identity{UserID: "user-2", Email: "bo@example.com", Role: auth.RoleCustomer, IsActive: true}
	headers := map[string]string{handler.IdempotencyKeyHeader: "same-key"}

	f.orders.On("CreateOrder", mock.Anything, customer, mock.Anything).Return(sampleOrder(), nil).Once()
	f.orders.On("CreateOrder", mock.Anything, other, mock.Anything).Return(sampleOrder(), nil).Once()

	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/orders", createBody, &other, headers).Code)
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_FailureReleasesKey(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{handler.IdempotencyKeyHeader: "retry-me"}

	f.orders.On("CreateOrder", mock.Anything, customer, mock.Anything).
		Return(nil, apperror.InvalidRequest("cart is empty and no items were provided")).Once()
	f.orders.On("CreateOrder", mock.Anything, customer, mock.Anything).Return(sampleOrder(), nil).Once()

	first := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers)
	second := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers)

	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_KeyTooLong(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{handler.IdempotencyKeyHeader: strings.Repeat("k", 129)}

	rr := f.do(t, http.MethodPost, "/api/v1/orders", createBody, &customer, headers)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderHandler_Authentication(t *testing.T) {
	f := newFixture(t)
	inactive := customer
	inactive.IsActive = false

	t.Run("missing_token", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/v1/orders", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed_token", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/v1/orders", "", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("inactive_account", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/v1/orders", "", &inactive, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestOrderHandler_GetOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{name: "not found", err: order.ErrOrderNotFound, wantStatus: http.StatusNotFound, wantCode: "not_found", wantMsg: "order not found"},
		{name: "forbidden", err: apperror.Forbidden("not your order"), wantStatus: http.StatusForbidden, wantCode: "forbidden", wantMsg: "not your order"},
		{name: "infrastructure", err: errors.New("conn reset by peer"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error", wantMsg: "Failed to get order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := uuid.Must(uuid.NewV4())
			f.orders.On("GetOrder", mock.Anything, customer, id).Return(nil, tt.err).Once()

			rr := f.do(t, http.MethodGet, "/api/v1/orders/"+id.String(), "", &customer, nil)

			require.Equal(t, tt.wantStatus, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestOrderHandler_GetOrder_InvalidID(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", "", &customer, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderHandler_GetOrderByNumber(t *testing.T) {
	f := newFixture(t)
	o := sampleOrder()
	f.orders.On("GetOrderByNumber", mock.Anything, customer, o.OrderNumber).Return(o, nil).Once()

	rr := f.do(t, http.MethodGet, "/api/v1/orders/number/"+o.OrderNumber, "", &customer, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_ListOrders(t *testing.T) {
	f := newFixture(t)
	want := order.ListFilter{
		UserID:      "user-9",
		Status:      order.StatusPaid,
		OrderNumber: "ORD-17",
		SortBy:      "total_amount",
		SortDir:     "asc",
		Page:        2,
		Limit:       5,
	}
	f.orders.On("ListOrders", mock.Anything, admin, want).Return(&order.ListResult{
		Items:      []order.Order{*sampleOrder()},
		Pagination: order.Pagination{Page: 2, Limit: 5, Total: 6, TotalPages: 2},
	}, nil).Once()

	rr := f.do(t, http.MethodGet, "/api/v1/orders?page=2&limit=5&status=paid&user_id=user-9&order_number=ORD-17&sort_by=total_amount&sort_dir=asc", "", &admin, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var got order.ListResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got.Items, 1)
	assert.Equal(t, order.Pagination{Page: 2, Limit: 5, Total: 6, TotalPages: 2}, got.Pagination)
	f.orders.AssertExpectations(t)
}

func TestOrderHandler_ListOrders_BadPage(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/orders?page=two", "", &customer, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderHandler_GetStats(t *testing.T) {
	f := newFixture(t)
	stats := &order.Stats{
		TotalOrders:  3,
		TotalRevenue: 4300,
		ByStatus: []order.StatusStats{
			{Status: order.StatusPaid, Count: 2, TotalAmount: 4300},
			{Status: order.StatusCancelled, Count: 1, TotalAmount: 900},
		},
	}
	f.orders.On("GetStats", mock.Anything, admin, "").Return(stats, nil).Once()
	f.orders.On("GetStats", mock.Anything, customer, "").Return(nil, apperror.Forbidden("only administrators can view order statistics")).Once()

	ok := f.do(t, http.MethodGet, "/api/v1/orders/stats", "", &admin, nil)
	denied := f.do(t, http.MethodGet, "/api/v1/orders/stats", "", &customer, nil)

	require.Equal(t, http.StatusOK, ok.Code)
	var got order.Stats
	require.NoError(t, json.NewDecoder(ok.Body).Decode(&got))
	if diff := cmp.Diff(*stats, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, http.StatusForbidden, denied.Code)
}

func TestOrderHandler_UpdateOrderStatus(t *testing.T) {
	t.Run("applies_transition", func(t *testing.T) {
		f := newFixture(t)
		o := sampleOrder()
		o.Status = order.StatusShipped
		f.orders.On("UpdateOrderStatus", mock.Anything, admin, o.ID, order.StatusUpdateInput{
			Status:         order.StatusShipped,
			TrackingNumber: "TRK-1",
		}).Return(o, nil).Once()

		rr := f.do(t, http.MethodPatch, "/api/v1/orders/"+o.ID.String()+"/status", `{"status":"SHIPPED","tracking_number":"TRK-1"}`, &admin, nil)

		require.Equal(t, http.StatusOK, rr.Code)
		f.orders.AssertExpectations(t)
	})

	t.Run("illegal_transition_is_unprocessable", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.Must(uuid.NewV4())
		f.orders.On("UpdateOrderStatus", mock.Anything, admin, id, mock.Anything).
			Return(nil, apperror.InvalidTransition(order.StatusDelivered, order.StatusProcessing)).Once()

		rr := f.do(t, http.MethodPatch, "/api/v1/orders/"+id.String()+"/status", `{"status":"PROCESSING"}`, &admin, nil)

		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, "invalid_transition", resp.Code)
		assert.Equal(t, "cannot transition order from DELIVERED to PROCESSING", resp.Error)
	})

	t.Run("unknown_status_fails_validation", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.Must(uuid.NewV4())

		rr := f.do(t, http.MethodPatch, "/api/v1/orders/"+id.String()+"/status", `{"status":"LOST"}`, &admin, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		f.orders.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_CancelOrder(t *testing.T) {
	t.Run("empty_body_uses_default_reason", func(t *testing.T) {
		f := newFixture(t)
		o := sampleOrder()
		o.Status = order.StatusCancelled
		f.orders.On("CancelOrder", mock.Anything, customer, o.ID, "").Return(o, nil).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/orders/"+o.ID.String()+"/cancel", "", &customer, nil)

		require.Equal(t, http.StatusOK, rr.Code)
		f.orders.AssertExpectations(t)
	})

	t.Run("with_reason", func(t *testing.T) {
		f := newFixture(t)
		o := sampleOrder()
		f.orders.On("CancelOrder", mock.Anything, customer, o.ID, "changed my mind").Return(o, nil).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/orders/"+o.ID.String()+"/cancel", `{"reason":"changed my mind"}`, &customer, nil)

		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not_cancellable", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.Must(uuid.NewV4())
		f.orders.On("CancelOrder", mock.Anything, customer, id, "").
			Return(nil, apperror.InvalidTransition(order.StatusShipped, order.StatusCancelled)).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/orders/"+id.String()+"/cancel", "", &customer, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestPaymentHandler_InitializePayment(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.payments.On("InitializePayment", mock.Anything, customer, payment.InitializeInput{OrderID: orderID}).
			Return(&payment.InitializeResult{AuthorizationURL: "https://checkout.paystack.com/x", AccessCode: "x", Reference: "PAY-1-ABCDEF12"}, nil).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/payments/initialize", `{"order_id":"`+orderID.String()+`"}`, &customer, nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var got payment.InitializeResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "PAY-1-ABCDEF12", got.Reference)
	})

	t.Run("invalid_order_id", func(t *testing.T) {
		f := newFixture(t)

		rr := f.do(t, http.MethodPost, "/api/v1/payments/initialize", `{"order_id":"nope"}`, &customer, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("order_not_pending", func(t *testing.T) {
		f := newFixture(t)
		f.payments.On("InitializePayment", mock.Anything, customer, mock.Anything).
			Return(nil, apperror.InvalidState("order is not awaiting payment (status PAID)")).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/payments/initialize", `{"order_id":"`+orderID.String()+`"}`, &customer, nil)

		require.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "invalid_state", decodeError(t, rr).Code)
	})

	t.Run("provider_rejected", func(t *testing.T) {
		f := newFixture(t)
		f.payments.On("InitializePayment", mock.Anything, customer, mock.Anything).
			Return(nil, apperror.New(apperror.ErrPaymentInitializationFailed, "Invalid Email Address Passed")).Once()

		rr := f.do(t, http.MethodPost, "/api/v1/payments/initialize", `{"order_id":"`+orderID.String()+`"}`, &customer, nil)

		require.Equal(t, http.StatusBadGateway, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, "payment_initialization_failed", resp.Code)
		assert.Equal(t, "Invalid Email Address Passed", resp.Error)
	})
}

func TestPaymentHandler_VerifyPayment(t *testing.T) {
	f := newFixture(t)
	f.payments.On("VerifyPayment", mock.Anything, customer, "PAY-1-ABCDEF12").Return(&payment.VerifyResult{
		Payment:     &payment.Payment{Reference: "PAY-1-ABCDEF12", Status: payment.StatusSuccess, Amount: 2150},
		OrderStatus: "PAID",
	}, nil).Once()
	f.payments.On("VerifyPayment", mock.Anything, customer, "PAY-2").
		Return(nil, apperror.New(apperror.ErrPaymentVerificationFailed, "Payment verification failed")).Once()

	ok := f.do(t, http.MethodGet, "/api/v1/payments/verify/PAY-1-ABCDEF12", "", &customer, nil)
	failed := f.do(t, http.MethodGet, "/api/v1/payments/verify/PAY-2", "", &customer, nil)

	require.Equal(t, http.StatusOK, ok.Code)
	var got payment.VerifyResult
	require.NoError(t, json.NewDecoder(ok.Body).Decode(&got))
	assert.Equal(t, "PAID", got.OrderStatus)
	assert.Equal(t, payment.StatusSuccess, got.Payment.Status)
	assert.Equal(t, http.StatusBadGateway, failed.Code)
}

func TestWebhookHandler(t *testing.T) {
	body := `{"event":"charge.success","data":{"reference":"PAY-1"}}`

	tests := []struct {
		name       string
		outcome    string
		err        error
		wantStatus int
	}{
		{name: "processed", outcome: payment.OutcomeProcessed, wantStatus: http.StatusOK},
		{name: "unknown reference acknowledged", outcome: payment.OutcomeUnknownReference, wantStatus: http.StatusOK},
		{name: "bad signature", outcome: payment.OutcomeRejected, err: payment.ErrInvalidSignature, wantStatus: http.StatusUnauthorized},
		{name: "malformed payload", outcome: payment.OutcomeRejected, err: apperror.InvalidRequest("malformed webhook payload"), wantStatus: http.StatusBadRequest},
		{name: "storage failure", outcome: payment.OutcomeError, err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.webhook.On("HandleWebhook", mock.Anything, []byte(body), "abc123").Return(tt.outcome, tt.err).Once()

			rr := f.do(t, http.MethodPost, "/api/v1/payments/webhook", body, nil, map[string]string{"x-signature": "abc123"})

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				var got map[string]any
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, true, got["received"])
			}
			f.webhook.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/payments/webhook", strings.Repeat("x", 1024), nil, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	f.webhook.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		ping       func(context.Context) error
		wantStatus int
	}{
		{name: "healthy", ping: func(context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "database down", ping: func(context.Context) error { return errors.New("dial tcp: refused") }, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := handler.Router{Ping: tt.ping}.Handler()
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", bytes.NewReader(nil)))

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := handler.Router{}.Handler()
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
