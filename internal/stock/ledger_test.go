package stock

import (
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/marketplace/internal/apperror"
)

func TestMerge(t *testing.T) {
	a := uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000a"))
	b := uuid.Must(uuid.FromString("00000000-0000-0000-0000-00000000000b"))

	got := Merge([]Item{
		{ProductID: b, Name: "Bolt", Quantity: 1},
		{ProductID: a, Name: "Anvil", Quantity: 2},
		{ProductID: b, Name: "Bolt", Quantity: 4},
	})

	want := []Item{
		{ProductID: a, Name: "Anvil", Quantity: 2},
		{ProductID: b, Name: "Bolt", Quantity: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil))
}

func TestInsufficientStockError(t *testing.T) {
	id := uuid.Must(uuid.NewV4())

	err := error(&InsufficientStockError{ProductID: id, Name: "Anvil"})
	assert.Equal(t, "insufficient stock for product Anvil", err.Error())
	assert.True(t, errors.Is(err, apperror.ErrInvalidRequest))
	assert.True(t, IsInsufficientStock(err))

	unnamed := &InsufficientStockError{ProductID: id}
	assert.Contains(t, unnamed.Error(), id.String())

	assert.False(t, IsInsufficientStock(errors.New("boom")))
}
