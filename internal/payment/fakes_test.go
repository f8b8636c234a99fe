package payment_test

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/payment"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initialize(ctx context.Context, req payment.GatewayInitializeRequest) (*payment.GatewayInitializeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.GatewayInitializeResponse), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*payment.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

// memoryStore holds payments and orders with the same compare-and-set
// semantics as the SQL statements.
type memoryStore struct {
	mu        sync.Mutex
	payments  map[string]*payment.Payment
	orders    map[uuid.UUID]*order.Order
	paidWins  int
	createErr error
	published *recordingPublisher
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		payments:  make(map[string]*payment.Payment),
		orders:    make(map[uuid.UUID]*order.Order),
		published: &recordingPublisher{},
	}
}

func (s *memoryStore) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.payments[p.Reference]; ok {
		return payment.ErrDuplicateReference
	}
	cp := *p
	s.payments[p.Reference] = &cp
	return nil
}

func (s *memoryStore) GetPaymentByReference(_ context.Context, reference string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) CompletePayment(_ context.Context, reference string, out payment.Outcome) (*payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok || p.Status == payment.StatusSuccess {
		return nil, false, nil
	}
	p.Status = payment.StatusSuccess
	if out.Channel != "" {
		p.Channel = &out.Channel
	}
	if len(out.RawPayload) > 0 {
		p.RawPayload = out.RawPayload
	}
	if p.PaidAt == nil {
		paidAt := out.PaidAt
		p.PaidAt = &paidAt
	}
	cp := *p
	return &cp, true, nil
}

func (s *memoryStore) FailPayment(_ context.Context, reference string, out payment.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok || p.Status == payment.StatusSuccess {
		return false, nil
	}
	previous := p.Status
	p.Status = payment.StatusFailed
	if out.Channel != "" {
		p.Channel = &out.Channel
	}
	if len(out.RawPayload) > 0 {
		p.RawPayload = out.RawPayload
	}
	return previous == payment.StatusPending, nil
}

func (s *memoryStore) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memoryStore) MarkPaid(_ context.Context, orderID, paymentID uuid.UUID, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != order.StatusPendingPayment {
		return false, nil
	}
	o.Status = order.StatusPaid
	if o.PaidAt == nil {
		o.PaidAt = &paidAt
	}
	if o.PaymentID == nil {
		o.PaymentID = &paymentID
	}
	s.paidWins++
	return true, nil
}

func (s *memoryStore) addOrder(userID string, total int64) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &order.Order{
		ID:          uuid.Must(uuid.NewV4()),
		OrderNumber: "ORD-1740830400000-042",
		UserID:      userID,
		Status:      order.StatusPendingPayment,
		TotalAmount: total,
	}
	s.orders[o.ID] = o
	cp := *o
	return &cp
}

func (s *memoryStore) addPayment(o *order.Order, reference string) *payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &payment.Payment{
		ID:        uuid.Must(uuid.NewV4()),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Reference: reference,
		Amount:    o.TotalAmount,
		Currency:  "NGN",
		Provider:  "paystack",
		Status:    payment.StatusPending,
	}
	s.payments[reference] = p
	cp := *p
	return &cp
}

func (s *memoryStore) orderSnapshot(id uuid.UUID) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memoryStore) paymentSnapshot(reference string) payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[reference]
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
