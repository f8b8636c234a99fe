package order_test

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, change order.StatusChange) (bool, error) {
	args := m.Called(ctx, id, change)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkOrderPaid(ctx context.Context, id, paymentID uuid.UUID, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, id, paymentID, paidAt)
	return args.Bool(0), args.Error(1)
}

type MockQueryRepository struct {
	mock.Mock
}

func (m *MockQueryRepository) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]order.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockQueryRepository) GetStats(ctx context.Context, userID string) ([]order.StatusStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusStats), args.Error(1)
}

type MockCartSource struct {
	mock.Mock
}

func (m *MockCartSource) Resolve(ctx context.Context, userID string, explicit []cart.Line) (*cart.Resolution, error) {
	args := m.Called(ctx, userID, explicit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Resolution), args.Error(1)
}

func (m *MockCartSource) Clear(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Product), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Reserve(ctx context.Context, items []stock.Item) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockLedger) Release(ctx context.Context, items []stock.Item) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// passthroughTx runs fn without a database.
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

type fixedNumbers string

func (n fixedNumbers) Next() string {
	return string(n)
}
