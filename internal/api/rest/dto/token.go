package dto

import (
	"math/big"
	"time"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// TokenResponse is the ledger state of a token joined with its resolved content.
// Content fields are empty until the view containing the token is published.
type TokenResponse struct {
	TokenID     string  `json:"token_id"`
	Owner       string  `json:"owner"`
	TokenURI    string  `json:"token_uri"`
	Listed      bool    `json:"listed"`
	Price       string  `json:"price"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
}

// NewTokenResponse builds a token response from ledger reads and an optional view item
func NewTokenResponse(id domain.TokenID, owner, tokenURI string, price *big.Int, item *domain.Item) TokenResponse {
	resp := TokenResponse{
		TokenID:  id.String(),
		Owner:    owner,
		TokenURI: tokenURI,
		Listed:   price != nil && price.Sign() > 0,
		Price:    amount(price),
	}
	if item != nil {
		resp.Name = &item.Name
		resp.Description = &item.Description
		resp.Image = &item.Image
	}
	return resp
}

// ItemResponse is one gallery entry
type ItemResponse struct {
	TokenID     string `json:"token_id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Listed      bool   `json:"listed"`
	Price       string `json:"price"`
}

// GalleryResponse is a projection of the latest published view
type GalleryResponse struct {
	Items   []ItemResponse `json:"items"`
	Total   int            `json:"total"`
	Supply  uint64         `json:"supply"`
	Skipped uint64         `json:"skipped"`
	BuiltAt *time.Time     `json:"built_at,omitempty"`
	State   string         `json:"state,omitempty"`
}

// NewItemResponses converts view items
func NewItemResponses(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, ItemResponse{
			TokenID:     item.TokenID.String(),
			Owner:       item.Owner,
			Name:        item.Name,
			Description: item.Description,
			Image:       item.Image,
			Listed:      item.Listed(),
			Price:       amount(item.Price),
		})
	}
	return out
}

// SupplyResponse holds the number of minted tokens
type SupplyResponse struct {
	TotalSupply uint64 `json:"total_supply"`
}

// EventResponse is one recorded ledger event
type EventResponse struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	From        *string   `json:"from,omitempty"`
	To          *string   `json:"to,omitempty"`
	Buyer       *string   `json:"buyer,omitempty"`
	Price       string    `json:"price,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventsResponse is a page of a token's events
type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Total  uint64          `json:"total"`
	Offset uint64          `json:"offset"`
}

// NewEventResponses converts ledger events
func NewEventResponses(events []*domain.LedgerEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:          e.ID,
			EventType:   string(e.EventType),
			From:        e.FromAddress,
			To:          e.ToAddress,
			Buyer:       e.Buyer,
			Price:       e.Price,
			BlockNumber: e.BlockNumber,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}

// MintRequest is the body of POST /tokens
type MintRequest struct {
	TokenURI string `json:"token_uri" binding:"required"`
}

// MintResponse returns the id assigned at mint
type MintResponse struct {
	TokenID string `json:"token_id"`
}

// ListRequest is the body of POST /tokens/:id/list
type ListRequest struct {
	Price string `json:"price" binding:"required"`
}

// BuyRequest is the body of POST /tokens/:id/buy
type BuyRequest struct {
	Value string `json:"value" binding:"required"`
}

// UploadResponse returns the descriptor to mint with
type UploadResponse struct {
	TokenURI string `json:"token_uri"`
}

// RefreshResponse reports the coordinator state after a manual refresh request
type RefreshResponse struct {
	State string `json:"state"`
}

// ProceedsResponse reports a withdrawable or withdrawn amount
type ProceedsResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// NewProceedsResponse formats an amount for an account
func NewProceedsResponse(account string, value *big.Int) ProceedsResponse {
	return ProceedsResponse{Account: account, Amount: amount(value)}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
