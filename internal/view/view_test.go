package view_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/view"
)

func TestView_ItemsAreCopied(t *testing.T) {
	items := []domain.Item{
		{TokenID: 0, Name: "a", Price: big.NewInt(0)},
		{TokenID: 2, Name: "c", Price: big.NewInt(5)},
	}
	v := view.NewView(items, 3, time.Now())

	// Mutating the input or the returned slice never changes the view
	items[0].Name = "changed"
	out := v.Items()
	out[1].Name = "changed"

	assert.Equal(t, "a", v.Items()[0].Name)
	assert.Equal(t, "c", v.Items()[1].Name)
	assert.Equal(t, uint64(1), v.Skipped())
}

func TestView_Get(t *testing.T) {
	v := view.NewView([]domain.Item{
		{TokenID: 0}, {TokenID: 2}, {TokenID: 5},
	}, 6, time.Now())

	tests := []struct {
		id    domain.TokenID
		found bool
	}{
		{0, true},
		{1, false},
		{2, true},
		{4, false},
		{5, true},
		{9, false},
	}
	for _, tt := range tests {
		item, ok := v.Get(tt.id)
		assert.Equal(t, tt.found, ok, "token %d", tt.id)
		if ok {
			assert.Equal(t, tt.id, item.TokenID)
		}
	}
}

func TestView_Empty(t *testing.T) {
	v := view.Empty()
	assert.Equal(t, 0, v.Len())
	assert.True(t, v.BuiltAt().IsZero())
	_, ok := v.Get(0)
	assert.False(t, ok)

	var nilView *view.View
	assert.Equal(t, 0, nilView.Len())
	assert.Nil(t, nilView.Items())
}
