package cart

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
)

// Line is one product and quantity the order will be built from.
type Line struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// Resolution is the outcome of Resolve. FromCart tells the caller whether
// the cart must be cleared once the order is persisted.
type Resolution struct {
	Lines    []Line
	FromCart bool
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve prefers the user's persisted cart when it has at least one item
// and falls back to explicit otherwise. Duplicate products are merged.
func (r *Resolver) Resolve(ctx context.Context, userID string, explicit []Line) (*Resolution, error) {
	c, err := r.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cart: failed to load cart: %w", err)
	}

	if c != nil && len(c.Items) > 0 {
		lines := make([]Line, 0, len(c.Items))
		for _, item := range c.Items {
			lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		merged, err := mergeLines(lines)
		if err != nil {
			return nil, err
		}
		return &Resolution{Lines: merged, FromCart: true}, nil
	}

	if len(explicit) == 0 {
		return nil, apperror.InvalidRequest("cart is empty and no items were provided")
	}

	merged, err := mergeLines(explicit)
	if err != nil {
		return nil, err
	}
	return &Resolution{Lines: merged}, nil
}

// Clear empties the user's persisted cart.
func (r *Resolver) Clear(ctx context.Context, userID string) error {
	return r.store.ClearCart(ctx, userID)
}

func mergeLines(lines []Line) ([]Line, error) {
	index := make(map[uuid.UUID]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, apperror.InvalidRequest("product id is required")
		}
		if line.Quantity <= 0 {
			return nil, apperror.InvalidRequest("quantity for product %s must be positive", line.ProductID)
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
