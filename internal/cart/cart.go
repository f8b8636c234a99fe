// Package cart reads and clears a user's persisted cart and decides which
// line items an order is built from.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

type Item struct {
	ProductID     uuid.UUID `json:"product_id"`
	NameSnapshot  string    `json:"name"`
	PriceSnapshot int64     `json:"price"`
	Quantity      int       `json:"quantity"`
}

type Cart struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	// GetCart returns nil without error when the user has no cart.
	GetCart(ctx context.Context, userID string) (*Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type postgresStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) GetCart(ctx context.Context, userID string) (*Cart, error) {
	conn := db.Conn(ctx, s.pool)

	var c Cart
	err := conn.QueryRow(ctx, `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.ID, &c.UserID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to get cart for user %s: %w", userID, err)
	}

	rows, err := conn.Query(ctx, `
		SELECT product_id, name_snapshot, price_snapshot, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items: %w", err)
	}
	defer rows.Close()

	c.Items = make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.NameSnapshot, &item.PriceSnapshot, &item.Quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating cart items: %w", err)
	}

	return &c, nil
}

func (s *postgresStore) ClearCart(ctx context.Context, userID string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)
	`, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear cart for user %s: %w", userID, err)
	}
	return nil
}
