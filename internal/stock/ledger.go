// Package stock applies and reverses the stock side effects of orders.
package stock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

type Item struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int
}

// InsufficientStockError is returned by Reserve when the conditional
// decrement matched no row.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for product %s", name)
}

func (e *InsufficientStockError) Unwrap() error {
	return apperror.ErrInvalidRequest
}

type Ledger interface {
	// Reserve decrements stock and increments sold count for every item.
	Reserve(ctx context.Context, items []Item) error
	// Release is the inverse of Reserve.
	Release(ctx context.Context, items []Item) error
}

type postgresLedger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) Ledger {
	return &postgresLedger{pool: pool}
}

func (l *postgresLedger) Reserve(ctx context.Context, items []Item) error {
	merged := Merge(items)

	batch := &pgx.Batch{}
	for _, item := range merged {
		batch.Queue(`
			UPDATE products
			SET stock = stock - $2, sold_count = sold_count + $2, updated_at = NOW()
			WHERE id = $1 AND is_active AND stock >= $2
		`, item.ProductID, item.Quantity)
	}

	return l.run(ctx, batch, merged, func(item Item, tag pgconn.CommandTag) error {
		if tag.RowsAffected() == 0 {
			log.Warn().Stringer("product_id", item.ProductID).Int("quantity", item.Quantity).Msg("stock: reservation matched no row")
			return &InsufficientStockError{ProductID: item.ProductID, Name: item.Name}
		}
		return nil
	})
}

func (l *postgresLedger) Release(ctx context.Context, items []Item) error {
	merged := Merge(items)

	batch := &pgx.Batch{}
	for _, item := range merged {
		batch.Queue(`
			UPDATE products
			SET stock = stock + $2, sold_count = GREATEST(sold_count - $2, 0), updated_at = NOW()
			WHERE id = $1
		`, item.ProductID, item.Quantity)
	}

	return l.run(ctx, batch, merged, func(item Item, tag pgconn.CommandTag) error {
		if tag.RowsAffected() == 0 {
			// The product row is gone; nothing to give back.
			log.Warn().Stringer("product_id", item.ProductID).Int("quantity", item.Quantity).Msg("stock: release matched no row")
		}
		return nil
	})
}

func (l *postgresLedger) run(ctx context.Context, batch *pgx.Batch, items []Item, check func(Item, pgconn.CommandTag) error) (err error) {
	results := db.Conn(ctx, l.pool).SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("stock: failed to close batch: %w", closeErr)
		}
	}()

	for _, item := range items {
		tag, execErr := results.Exec()
		if execErr != nil {
			return fmt.Errorf("stock: failed to update product %s: %w", item.ProductID, execErr)
		}
		if err := check(item, tag); err != nil {
			return err
		}
	}
	return nil
}

// Merge sums quantities per product and orders the result by product id so
// concurrent batches lock rows in the same order.
func Merge(items []Item) []Item {
	byID := make(map[uuid.UUID]int, len(items))
	merged := make([]Item, 0, len(items))
	for _, item := range items {
		if idx, ok := byID[item.ProductID]; ok {
			merged[idx].Quantity += item.Quantity
			continue
		}
		byID[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].ProductID.Bytes(), merged[j].ProductID.Bytes()) < 0
	})
	return merged
}

// IsInsufficientStock reports whether err came from a failed reservation.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
