package rest

import (
	"context"
	"errors"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace/internal/api/middleware"
	"github.com/feral-file/ff-marketplace/internal/api/rest/dto"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/ledger"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/projection"
	"github.com/feral-file/ff-marketplace/internal/refresh"
	"github.com/feral-file/ff-marketplace/internal/upload"
)

// EventReader reads the recorded events of a token
type EventReader interface {
	GetTokenEvents(ctx context.Context, tokenID domain.TokenID, limit int, offset uint64) ([]*domain.LedgerEvent, uint64, error)
}

// Proceeds holds the sellers' withdrawable balances
type Proceeds interface {
	BalanceOf(account string) *big.Int
	Withdraw(account string) *big.Int
}

// Services are the backends the handler serves. Reader and Gallery are
// required; the rest are nil when the binary runs without them, and their
// routes answer 501.
type Services struct {
	Reader      ledger.Reader
	Ledger      ledger.Ledger
	Gallery     *projection.Gallery
	Coordinator refresh.Coordinator
	Uploader    upload.Uploader
	Events      EventReader
	Proceeds    Proceeds
}

// Handler defines the interface for REST API handlers
type Handler interface {
	// GetToken returns the ledger state of a token and its content when materialized
	// GET /api/v1/tokens/:id
	GetToken(c *gin.Context)

	// GetTokenEvents returns a page of the token's recorded events
	// GET /api/v1/tokens/:id/events?limit=<limit>&offset=<offset>
	GetTokenEvents(c *gin.Context)

	// GetSupply returns the number of minted tokens
	// GET /api/v1/supply
	GetSupply(c *gin.Context)

	// GetGallery projects the latest published view
	// GET /api/v1/gallery?mode=<all|mine>&search=<text>&owner=<address>
	GetGallery(c *gin.Context)

	// RefreshGallery requests a view rebuild
	// POST /api/v1/gallery/refresh
	RefreshGallery(c *gin.Context)

	// Mint mints a token to the caller
	// POST /api/v1/tokens
	Mint(c *gin.Context)

	// List lists a token owned by the caller
	// POST /api/v1/tokens/:id/list
	List(c *gin.Context)

	// Cancel cancels the listing of a token owned by the caller
	// POST /api/v1/tokens/:id/cancel
	Cancel(c *gin.Context)

	// Buy buys a listed token for the caller
	// POST /api/v1/tokens/:id/buy
	Buy(c *gin.Context)

	// Upload pins an image with its metadata and returns the descriptor to mint with
	// POST /api/v1/upload (multipart: image, name, description)
	Upload(c *gin.Context)

	// GetProceeds returns the caller's withdrawable balance
	// GET /api/v1/proceeds
	GetProceeds(c *gin.Context)

	// WithdrawProceeds drains the caller's balance
	// POST /api/v1/proceeds/withdraw
	WithdrawProceeds(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

type handler struct {
	services Services
}

// NewHandler creates a new REST API handler
func NewHandler(services Services) Handler {
	return &handler{services: services}
}

func tokenIDParam(c *gin.Context) (domain.TokenID, bool) {
	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return 0, false
	}
	return id, true
}

func (h *handler) GetToken(c *gin.Context) {
	id, ok := tokenIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	reader := h.services.Reader

	owner, err := reader.OwnerOf(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get token owner")
		return
	}
	tokenURI, err := reader.TokenURI(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get token URI")
		return
	}
	price, err := reader.Listings(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to get token listing")
		return
	}

	var item *domain.Item
	if h.services.Gallery != nil {
		if it, found := h.services.Gallery.View().Get(id); found {
			item = &it
		}
	}

	c.JSON(http.StatusOK, dto.NewTokenResponse(id, owner, tokenURI, price, item))
}

func (h *handler) GetTokenEvents(c *gin.Context) {
	if h.services.Events == nil {
		respondNotSupported(c, "Event history is not recorded by this server")
		return
	}

	id, ok := tokenIDParam(c)
	if !ok {
		return
	}
	params, err := ParseEventsQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if err := params.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	events, total, err := h.services.Events.GetTokenEvents(c.Request.Context(), id, params.Limit, params.Offset)
	if err != nil {
		respondError(c, err, "Failed to get token events")
		return
	}

	c.JSON(http.StatusOK, dto.EventsResponse{
		Events: dto.NewEventResponses(events),
		Total:  total,
		Offset: params.Offset,
	})
}

func (h *handler) GetSupply(c *gin.Context) {
	supply, err := h.services.Reader.TotalSupply(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get total supply")
		return
	}
	c.JSON(http.StatusOK, dto.SupplyResponse{TotalSupply: supply})
}

func (h *handler) GetGallery(c *gin.Context) {
	params, err := ParseGalleryQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}
	filter, err := params.Filter(middleware.Caller(c))
	if err != nil {
		respondError(c, err, "Invalid gallery filter")
		return
	}

	v := h.services.Gallery.View()
	items := projection.Project(v, filter)

	resp := dto.GalleryResponse{
		Items:   dto.NewItemResponses(items),
		Total:   len(items),
		Supply:  v.Supply(),
		Skipped: v.Skipped(),
	}
	if builtAt := v.BuiltAt(); !builtAt.IsZero() {
		resp.BuiltAt = &builtAt
	}
	if h.services.Coordinator != nil {
		resp.State = h.services.Coordinator.State().String()
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) RefreshGallery(c *gin.Context) {
	if h.services.Coordinator == nil {
		respondNotSupported(c, "Gallery refresh is not available")
		return
	}

	h.services.Coordinator.RequestRefresh()
	logger.InfoCtx(c.Request.Context(), "Manual gallery refresh requested",
		zap.String("caller", middleware.Caller(c)))

	c.JSON(http.StatusAccepted, dto.RefreshResponse{State: h.services.Coordinator.State().String()})
}

func (h *handler) Mint(c *gin.Context) {
	if h.services.Ledger == nil {
		respondNotSupported(c, "Minting is not available on this server")
		return
	}

	var req dto.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	id, err := h.services.Ledger.Mint(c.Request.Context(), middleware.Caller(c), req.TokenURI)
	if err != nil {
		respondError(c, err, "Failed to mint token")
		return
	}

	c.JSON(http.StatusCreated, dto.MintResponse{TokenID: id.String()})
}

func (h *handler) List(c *gin.Context) {
	if h.services.Ledger == nil {
		respondNotSupported(c, "Listing is not available on this server")
		return
	}

	id, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	price, err := domain.ParseAmount(req.Price)
	if err != nil {
		respondError(c, err, "Invalid price")
		return
	}

	if err := h.services.Ledger.List(c.Request.Context(), middleware.Caller(c), id, price); err != nil {
		respondError(c, err, "Failed to list token")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) Cancel(c *gin.Context) {
	if h.services.Ledger == nil {
		respondNotSupported(c, "Cancelling is not available on this server")
		return
	}

	id, ok := tokenIDParam(c)
	if !ok {
		return
	}

	if err := h.services.Ledger.Cancel(c.Request.Context(), middleware.Caller(c), id); err != nil {
		respondError(c, err, "Failed to cancel listing")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) Buy(c *gin.Context) {
	if h.services.Ledger == nil {
		respondNotSupported(c, "Buying is not available on this server")
		return
	}

	id, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req dto.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	value, err := domain.ParseAmount(req.Value)
	if err != nil {
		respondError(c, err, "Invalid payment value")
		return
	}

	if err := h.services.Ledger.Buy(c.Request.Context(), middleware.Caller(c), id, value); err != nil {
		respondError(c, err, "Failed to buy token")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handler) Upload(c *gin.Context) {
	if h.services.Uploader == nil {
		respondNotSupported(c, "Uploading is not configured")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respondBadRequest(c, "Image file is required", err.Error())
		return
	}
	image, err := readFormFile(fileHeader)
	if err != nil {
		respondBadRequest(c, "Failed to read image", err.Error())
		return
	}

	tokenURI, err := h.services.Uploader.Upload(c.Request.Context(), upload.Request{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Filename:    fileHeader.Filename,
		Image:       image,
	})
	if err != nil {
		respondError(c, err, "Failed to upload image")
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{TokenURI: tokenURI})
}

func readFormFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	return data, nil
}

func (h *handler) GetProceeds(c *gin.Context) {
	if h.services.Proceeds == nil {
		respondNotSupported(c, "Proceeds are not held by this server")
		return
	}
	caller := middleware.Caller(c)
	c.JSON(http.StatusOK, dto.NewProceedsResponse(caller, h.services.Proceeds.BalanceOf(caller)))
}

func (h *handler) WithdrawProceeds(c *gin.Context) {
	if h.services.Proceeds == nil {
		respondNotSupported(c, "Proceeds are not held by this server")
		return
	}

	caller := middleware.Caller(c)
	withdrawn := h.services.Proceeds.Withdraw(caller)
	logger.InfoCtx(c.Request.Context(), "Proceeds withdrawn",
		zap.String("account", caller),
		zap.String("amount", withdrawn.String()))

	c.JSON(http.StatusOK, dto.NewProceedsResponse(caller, withdrawn))
}

func (h *handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"service": "ff-marketplace",
	}
	if h.services.Coordinator != nil {
		resp["refresh"] = h.services.Coordinator.State().String()
	}
	if h.services.Gallery != nil {
		resp["view_size"] = h.services.Gallery.View().Len()
	}
	c.JSON(http.StatusOK, resp)
}
