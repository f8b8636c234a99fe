package order

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// ShippingPolicy charges FlatFee unless the subtotal is above FreeThreshold.
// A subtotal equal to the threshold still pays. A zero FreeThreshold disables
// free shipping.
type ShippingPolicy struct {
	FreeThreshold int64
	FlatFee       int64
}

func (p ShippingPolicy) Fee(subtotal int64) int64 {
	if p.FreeThreshold > 0 && subtotal > p.FreeThreshold {
		return 0
	}
	return p.FlatFee
}

type NumberGenerator interface {
	Next() string
}

// TimestampNumbers produces ORD-<epoch-ms>-<3 digits>. Two orders in the
// same millisecond can draw the same suffix; the unique index on
// order_number rejects the second one.
type TimestampNumbers struct {
	Now func() time.Time
}

func (g TimestampNumbers) Next() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return fmt.Sprintf("ORD-%d-%03d", now().UnixMilli(), rand.IntN(1000))
}
