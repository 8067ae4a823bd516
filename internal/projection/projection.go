package projection

import (
	"fmt"
	"strings"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/view"
)

// Filter selects a subsequence of a view
type Filter struct {
	// Mode is domain.GalleryModeAll or domain.GalleryModeMine
	Mode string
	// Search keeps items whose name contains it, ignoring case. It is matched
	// as given, whitespace included; only the empty string matches everything.
	Search string
	// Caller is the identity "mine" compares owners against
	Caller string
}

// ParseMode validates a mode string; empty means all
func ParseMode(mode string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "", domain.GalleryModeAll:
		return domain.GalleryModeAll, nil
	case domain.GalleryModeMine:
		return domain.GalleryModeMine, nil
	default:
		return "", fmt.Errorf("%w: unknown gallery mode %q", domain.ErrInvalidInput, mode)
	}
}

// Project returns the items of v matching f, in view order. The mode filter
// applies first, then the search. "mine" with an empty caller keeps every item.
func Project(v *view.View, f Filter) []domain.Item {
	items := v.Items()
	search := strings.ToLower(f.Search)
	caller := strings.TrimSpace(f.Caller)
	byOwner := f.Mode == domain.GalleryModeMine && caller != ""

	out := items[:0]
	for _, item := range items {
		if byOwner && !domain.SameAddress(item.Owner, caller) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		out = append(out, item)
	}
	return out
}
