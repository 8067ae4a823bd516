package rest

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/projection"
)

const MAX_PAGE_SIZE = 100

// GalleryQueryParams holds query parameters for GET /gallery
type GalleryQueryParams struct {
	Mode   string `form:"mode"`
	Search string `form:"search"`
	// Owner overrides the authenticated caller for "mine"
	Owner string `form:"owner"`
}

// Filter builds the projection filter. "mine" needs an owner or a caller.
func (p GalleryQueryParams) Filter(caller string) (projection.Filter, error) {
	mode, err := projection.ParseMode(p.Mode)
	if err != nil {
		return projection.Filter{}, err
	}

	owner := p.Owner
	if owner == "" {
		owner = caller
	}
	if mode == domain.GalleryModeMine && owner == "" {
		return projection.Filter{}, fmt.Errorf("%w: mode mine requires an owner or an authenticated caller", domain.ErrInvalidInput)
	}

	return projection.Filter{Mode: mode, Search: p.Search, Caller: owner}, nil
}

// ParseGalleryQuery parses query parameters for GET /gallery
func ParseGalleryQuery(c *gin.Context) (*GalleryQueryParams, error) {
	var params GalleryQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}
	return &params, nil
}

// EventsQueryParams holds query parameters for GET /tokens/:id/events
type EventsQueryParams struct {
	Limit  int    `form:"limit,default=20"`
	Offset uint64 `form:"offset,default=0"`
}

// Validate validates the pagination window
func (p *EventsQueryParams) Validate() error {
	if p.Limit < 1 || p.Limit > MAX_PAGE_SIZE {
		return fmt.Errorf("limit must be between 1 and %d", MAX_PAGE_SIZE)
	}
	return nil
}

// ParseEventsQuery parses query parameters for GET /tokens/:id/events
func ParseEventsQuery(c *gin.Context) (*EventsQueryParams, error) {
	var params EventsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}
	return &params, nil
}
