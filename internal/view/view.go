package view

import (
	"time"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// View is an immutable snapshot of the ledger joined with resolved content.
// Items are ordered by token id; tokens that failed to materialize are absent.
type View struct {
	items   []domain.Item
	supply  uint64
	builtAt time.Time
}

// NewView builds a view from items already ordered by token id
func NewView(items []domain.Item, supply uint64, builtAt time.Time) *View {
	copied := make([]domain.Item, len(items))
	copy(copied, items)
	return &View{items: copied, supply: supply, builtAt: builtAt}
}

// Empty returns the view published before the first successful pass
func Empty() *View {
	return &View{}
}

// Items returns the items of the view. The returned slice is a copy;
// the items themselves must be treated as read-only.
func (v *View) Items() []domain.Item {
	if v == nil {
		return nil
	}
	out := make([]domain.Item, len(v.items))
	copy(out, v.items)
	return out
}

// Len returns the number of materialized items
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.items)
}

// Get returns the item for id when it was materialized
func (v *View) Get(id domain.TokenID) (domain.Item, bool) {
	if v == nil {
		return domain.Item{}, false
	}
	// items are sorted by id and id < supply, so the item sits at or before index id
	hi := min(int(id), len(v.items)-1) //nolint:gosec,G115
	for i := hi; i >= 0; i-- {
		switch {
		case v.items[i].TokenID == id:
			return v.items[i], true
		case v.items[i].TokenID < id:
			return domain.Item{}, false
		}
	}
	return domain.Item{}, false
}

// Supply is the totalSupply observed when the view was built
func (v *View) Supply() uint64 {
	if v == nil {
		return 0
	}
	return v.supply
}

// Skipped is the number of tokens omitted because they failed to materialize
func (v *View) Skipped() uint64 {
	if v == nil {
		return 0
	}
	return v.supply - uint64(len(v.items))
}

// BuiltAt is the completion time of the pass that built the view, zero for the empty view
func (v *View) BuiltAt() time.Time {
	if v == nil {
		return time.Time{}
	}
	return v.builtAt
}
