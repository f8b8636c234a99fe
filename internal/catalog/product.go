// Package catalog gives the order builder read access to product price,
// stock and active state.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

// Product is the catalog view needed at order-build time. Price is in minor units.
type Product struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Price     int64     `json:"price" db:"price"`
	Stock     int       `json:"stock" db:"stock"`
	SoldCount int       `json:"sold_count" db:"sold_count"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Reader interface {
	// FindActiveByIDs returns the active products among ids in one query.
	// Missing and inactive products are simply absent from the result.
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}

type postgresReader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) Reader {
	return &postgresReader{pool: pool}
}

func (r *postgresReader) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	if len(ids) == 0 {
		return []Product{}, nil
	}

	query := `
		SELECT id, name, price, stock, sold_count, is_active, created_at, updated_at
		FROM products
		WHERE id = ANY($1::uuid[]) AND is_active
	`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.SoldCount, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating products: %w", err)
	}

	return products, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
