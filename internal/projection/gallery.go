package projection

import (
	"sync"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/refresh"
	"github.com/feral-file/ff-marketplace/internal/view"
)

// Gallery keeps a projection of the latest view up to date. Every change of
// the base view or of the filter recomputes the derived items before returning.
type Gallery struct {
	mu      sync.RWMutex
	base    *view.View
	filter  Filter
	derived []domain.Item
}

// NewGallery creates a gallery over the empty view
func NewGallery(filter Filter) *Gallery {
	if filter.Mode == "" {
		filter.Mode = domain.GalleryModeAll
	}
	g := &Gallery{base: view.Empty(), filter: filter}
	g.derived = Project(g.base, filter)
	return g
}

// Attach follows the views published by the coordinator
func (g *Gallery) Attach(c refresh.Coordinator) {
	g.SetView(c.Current())
	c.OnPublish(g.SetView)
}

// SetView replaces the base view
func (g *Gallery) SetView(v *view.View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.base = v
	g.derived = Project(v, g.filter)
}

// SetFilter replaces the filter criteria
func (g *Gallery) SetFilter(f Filter) {
	if f.Mode == "" {
		f.Mode = domain.GalleryModeAll
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter = f
	g.derived = Project(g.base, f)
}

// Filter returns the current filter criteria
func (g *Gallery) Filter() Filter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter
}

// View returns the current base view
func (g *Gallery) View() *view.View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.base
}

// Items returns a copy of the derived items
func (g *Gallery) Items() []domain.Item {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Item, len(g.derived))
	copy(out, g.derived)
	return out
}
