package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/auth"
	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	"github.com/vasiliy-maslov/marketplace/internal/metrics"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

const DefaultCancellationReason = "Customer requested cancellation"

var ErrConcurrentUpdate = apperror.Conflict("order was modified concurrently, please retry")

type CartSource interface {
	Resolve(ctx context.Context, userID string, explicit []cart.Line) (*cart.Resolution, error)
	Clear(ctx context.Context, userID string) error
}

type Service interface {
	CreateOrder(ctx context.Context, actor auth.Identity, input CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, actor auth.Identity, orderNumber string) (*Order, error)
	ListOrders(ctx context.Context, actor auth.Identity, filter ListFilter) (*ListResult, error)
	UpdateOrderStatus(ctx context.Context, actor auth.Identity, id uuid.UUID, input StatusUpdateInput) (*Order, error)
	CancelOrder(ctx context.Context, actor auth.Identity, id uuid.UUID, reason string) (*Order, error)
	GetStats(ctx context.Context, actor auth.Identity, userID string) (*Stats, error)

	// GetOrderByID reads an order without an ownership check.
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// MarkPaid is the single idempotent "payment succeeded" command. It
	// reports whether this call moved the order to PAID.
	MarkPaid(ctx context.Context, orderID, paymentID uuid.UUID, paidAt time.Time) (bool, error)
}

type Deps struct {
	Repo      Repository
	Queries   QueryRepository
	Tx        db.Transactor
	Carts     CartSource
	Catalog   catalog.Reader
	Stock     stock.Ledger
	Shipping  ShippingPolicy
	Numbers   NumberGenerator
	Publisher events.Publisher
	Now       func() time.Time
}

type orderService struct {
	repo      Repository
	queries   QueryRepository
	tx        db.Transactor
	carts     CartSource
	catalog   catalog.Reader
	stock     stock.Ledger
	shipping  ShippingPolicy
	numbers   NumberGenerator
	publisher events.Publisher
	now       func() time.Time
}

func NewOrderService(d Deps) Service {
	s := &orderService{
		repo:      d.Repo,
		queries:   d.Queries,
		tx:        d.Tx,
		carts:     d.Carts,
		catalog:   d.Catalog,
		stock:     d.Stock,
		shipping:  d.Shipping,
		numbers:   d.Numbers,
		publisher: d.Publisher,
		now:       d.Now,
	}
	if s.numbers == nil {
		s.numbers = TimestampNumbers{}
	}
	if s.publisher == nil {
		s.publisher = events.LogPublisher{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *orderService) CreateOrder(ctx context.Context, actor auth.Identity, input CreateOrderInput) (*Order, error) {
	if input.ShippingAddress == (ShippingAddress{}) {
		return nil, apperror.InvalidRequest("shipping address is required")
	}

	res, err := s.carts.Resolve(ctx, actor.UserID, input.Items)
	if err != nil {
		log.Warn().Err(err).Str("user_id", actor.UserID).Msg("service: could not resolve order items")
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(res.Lines))
	for _, line := range res.Lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.catalog.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}
	if len(products) != len(ids) {
		log.Warn().Str("user_id", actor.UserID).Int("requested", len(ids)).Int("found", len(products)).Msg("service: products missing or inactive")
		return nil, apperror.InvalidRequest("one or more products not found or inactive")
	}

	byID := make(map[uuid.UUID]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]OrderItem, 0, len(res.Lines))
	reservations := make([]stock.Item, 0, len(res.Lines))
	var subtotal int64
	for _, line := range res.Lines {
		p := byID[line.ProductID]
		if p.Stock < line.Quantity {
			return nil, apperror.InvalidRequest("insufficient stock for product %s", p.Name)
		}
		lineTotal := p.Price * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, OrderItem{
			ProductID:     p.ID,
			NameSnapshot:  p.Name,
			PriceSnapshot: p.Price,
			Quantity:      line.Quantity,
			Subtotal:      lineTotal,
		})
		reservations = append(reservations, stock.Item{ProductID: p.ID, Name: p.Name, Quantity: line.Quantity})
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	now := s.now()
	fee := s.shipping.Fee(subtotal)
	o := &Order{
		ID:              id,
		OrderNumber:     s.numbers.Next(),
		UserID:          actor.UserID,
		Items:           items,
		SubtotalAmount:  subtotal,
		ShippingFee:     fee,
		TotalAmount:     subtotal + fee,
		Status:          StatusPendingPayment,
		ShippingAddress: input.ShippingAddress,
		Notes:           optional(input.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := s.stock.Reserve(ctx, reservations); err != nil {
			return err
		}
		if res.FromCart {
			if err := s.carts.Clear(ctx, actor.UserID); err != nil {
				return fmt.Errorf("service: failed to clear cart: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if stock.IsInsufficientStock(err) || errors.Is(err, ErrDuplicateOrderNumber) {
			log.Warn().Err(err).Str("user_id", actor.UserID).Msg("service: order creation rejected")
		} else {
			log.Error().Err(err).Str("user_id", actor.UserID).Msg("service: order creation failed")
		}
		return nil, err
	}

	metrics.RecordOrderCreated()
	log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Int64("total_amount", o.TotalAmount).Msg("service: order created")
	events.Publish(ctx, s.publisher, events.Event{
		Type:        events.OrderCreated,
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      o.Status.String(),
		Amount:      o.TotalAmount,
	})

	return o, nil
}

func (s *orderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to get order")
		}
		return nil, err
	}
	return o, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Order, error) {
	o, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(o.UserID) {
		return nil, apperror.Forbidden("not your order")
	}
	return o, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, actor auth.Identity, orderNumber string) (*Order, error) {
	o, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to get order by number")
		}
		return nil, err
	}
	if !actor.Owns(o.UserID) {
		return nil, apperror.Forbidden("not your order")
	}
	return o, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor auth.Identity, filter ListFilter) (*ListResult, error) {
	if !actor.IsPrivileged() {
		filter.UserID = actor.UserID
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperror.InvalidRequest("unknown order status %q", filter.Status)
	}
	filter = NormalizeFilter(filter)

	orders, total, err := s.queries.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("user_id", filter.UserID).Msg("service: failed to list orders")
		return nil, err
	}

	return &ListResult{
		Items: orders,
		Pagination: Pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
		},
	}, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, actor auth.Identity, id uuid.UUID, input StatusUpdateInput) (*Order, error) {
	if !actor.IsPrivileged() {
		return nil, apperror.Forbidden("only administrators can update order status")
	}
	if !input.Status.IsValid() {
		return nil, apperror.InvalidRequest("unknown order status %q", input.Status)
	}

	o, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Status == StatusCancelled {
		return s.cancel(ctx, o, input.Reason)
	}

	if !CanTransition(o.Status, input.Status) {
		log.Warn().Stringer("order_id", id).Stringer("from", o.Status).Stringer("to", input.Status).Msg("service: rejected status transition")
		return nil, apperror.InvalidTransition(o.Status, input.Status)
	}

	now := s.now()
	change := StatusChange{
		From:      o.Status,
		To:        input.Status,
		Notes:     optional(input.Notes),
		UpdatedAt: now,
	}
	switch input.Status {
	case StatusPaid:
		change.PaidAt = &now
	case StatusShipped:
		change.ShippedAt = &now
		change.TrackingNumber = optional(input.TrackingNumber)
	case StatusDelivered:
		change.DeliveredAt = &now
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, id, change)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to update order status")
		return nil, err
	}
	if !updated {
		return nil, ErrConcurrentUpdate
	}

	metrics.RecordTransition(o.Status.String(), input.Status.String())
	log.Info().Stringer("order_id", id).Stringer("from", o.Status).Stringer("to", input.Status).Msg("service: order status updated")

	result, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	eventType := events.OrderStatusChanged
	if input.Status == StatusPaid {
		eventType = events.OrderPaid
	}
	events.Publish(ctx, s.publisher, events.Event{
		Type:        eventType,
		OrderID:     result.ID.String(),
		OrderNumber: result.OrderNumber,
		UserID:      result.UserID,
		Status:      result.Status.String(),
		FromStatus:  o.Status.String(),
	})

	return result, nil
}

func (s *orderService) CancelOrder(ctx context.Context, actor auth.Identity, id uuid.UUID, reason string) (*Order, error) {
	o, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(o.UserID) {
		return nil, apperror.Forbidden("not your order")
	}
	return s.cancel(ctx, o, reason)
}

// cancel moves o to CANCELLED and gives its stock back in one transaction.
func (s *orderService) cancel(ctx context.Context, o *Order, reason string) (*Order, error) {
	if !IsCancellable(o.Status) {
		log.Warn().Stringer("order_id", o.ID).Stringer("status", o.Status).Msg("service: order cannot be cancelled")
		return nil, apperror.InvalidTransition(o.Status, StatusCancelled)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancellationReason
	}

	now := s.now()
	change := StatusChange{
		From:               o.Status,
		To:                 StatusCancelled,
		CancelledAt:        &now,
		CancellationReason: &reason,
		UpdatedAt:          now,
	}

	releases := make([]stock.Item, 0, len(o.Items))
	for _, item := range o.Items {
		releases = append(releases, stock.Item{ProductID: item.ProductID, Name: item.NameSnapshot, Quantity: item.Quantity})
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		updated, err := s.repo.UpdateOrderStatus(ctx, o.ID, change)
		if err != nil {
			return err
		}
		if !updated {
			return ErrConcurrentUpdate
		}
		return s.stock.Release(ctx, releases)
	})
	if err != nil {
		if !errors.Is(err, ErrConcurrentUpdate) {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to cancel order")
		}
		return nil, err
	}

	metrics.RecordTransition(o.Status.String(), StatusCancelled.String())
	log.Info().Stringer("order_id", o.ID).Stringer("from", o.Status).Str("reason", reason).Msg("service: order cancelled")

	result, err := s.GetOrderByID(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	events.Publish(ctx, s.publisher, events.Event{
		Type:        events.OrderCancelled,
		OrderID:     result.ID.String(),
		OrderNumber: result.OrderNumber,
		UserID:      result.UserID,
		Status:      result.Status.String(),
		FromStatus:  o.Status.String(),
		Reason:      reason,
	})

	return result, nil
}

func (s *orderService) GetStats(ctx context.Context, actor auth.Identity, userID string) (*Stats, error) {
	if !actor.IsPrivileged() {
		return nil, apperror.Forbidden("only administrators can view order statistics")
	}

	rows, err := s.queries.GetStats(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load order stats")
		return nil, err
	}

	stats := &Stats{ByStatus: make([]StatusStats, 0, len(rows))}
	for _, row := range rows {
		stats.TotalOrders += row.Count
		if revenueStatuses[row.Status] {
			stats.TotalRevenue += row.TotalAmount
		}
		stats.ByStatus = append(stats.ByStatus, row)
	}
	return stats, nil
}

func (s *orderService) MarkPaid(ctx context.Context, orderID, paymentID uuid.UUID, paidAt time.Time) (bool, error) {
	marked, err := s.repo.MarkOrderPaid(ctx, orderID, paymentID, paidAt)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order paid")
		return false, err
	}
	if marked {
		metrics.RecordTransition(StatusPendingPayment.String(), StatusPaid.String())
		log.Info().Stringer("order_id", orderID).Stringer("payment_id", paymentID).Msg("service: order marked paid")
		return true, nil
	}

	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	switch o.Status {
	case StatusCancelled, StatusRefunded:
		log.Warn().Stringer("order_id", orderID).Stringer("payment_id", paymentID).Stringer("status", o.Status).
			Msg("service: payment succeeded for an order that is no longer payable, manual refund required")
	default:
		log.Debug().Stringer("order_id", orderID).Stringer("status", o.Status).Msg("service: order already paid")
	}
	return false, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
