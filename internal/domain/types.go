package domain

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the ledger network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
	// ChainLocal is the in-process ledger
	ChainLocal Chain = "local:marketplace"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet ||
		chain == ChainEthereumSepolia ||
		chain == ChainLocal
}

// EventType represents the type of ledger event
type EventType string

const (
	EventTypeTransfer         EventType = "transfer"
	EventTypeListed           EventType = "listed"
	EventTypeListingCancelled EventType = "listing_cancelled"
	EventTypeBought           EventType = "bought"
)

// TokenID is the dense, never reused identifier assigned at mint
type TokenID uint64

// String returns the decimal representation of the token id
func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTokenID parses a decimal token id
func ParseTokenID(s string) (TokenID, error) {
	if !validTokenNumber(s) || s == "" {
		return 0, fmt.Errorf("%w: token id %q", ErrInvalidInput, s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token id %q", ErrInvalidInput, s)
	}
	return TokenID(n), nil
}

// LedgerEntry is the ledger's record for a single token
type LedgerEntry struct {
	TokenID           TokenID
	Owner             string
	ContentDescriptor string
	// ListingPrice is zero when the token is not listed
	ListingPrice *big.Int
}

// Listed reports whether the entry has an active listing
func (e *LedgerEntry) Listed() bool {
	return e.ListingPrice != nil && e.ListingPrice.Sign() > 0
}

// Clone returns a deep copy of the entry
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	c.ListingPrice = new(big.Int)
	if e.ListingPrice != nil {
		c.ListingPrice.Set(e.ListingPrice)
	}
	return &c
}

// LedgerEvent is the normalized notification emitted by a ledger transition.
// This is the standard format published to NATS
type LedgerEvent struct {
	ID              string    `json:"id"`                         // ULID assigned by the emitter
	Chain           Chain     `json:"chain"`                      // e.g. "eip155:11155111", "local:marketplace"
	ContractAddress string    `json:"contract_address,omitempty"` // marketplace contract (empty for the local ledger)
	EventType       EventType `json:"event_type"`                 // transfer, listed, listing_cancelled, bought
	TokenID         TokenID   `json:"token_id"`
	FromAddress     *string   `json:"from_address,omitempty"` // transfer only (zero address for mint)
	ToAddress       *string   `json:"to_address,omitempty"`   // transfer only
	Buyer           *string   `json:"buyer,omitempty"`        // bought only
	Price           string    `json:"price,omitempty"`        // listed and bought, decimal wei
	TxHash          string    `json:"tx_hash,omitempty"`
	BlockNumber     uint64    `json:"block_number"`
	Timestamp       time.Time `json:"timestamp"`
	TxIndex         uint64    `json:"tx_index"`
}

// Valid checks that the event carries the fields its type requires
func (e *LedgerEvent) Valid() bool {
	if !IsValidChain(e.Chain) {
		return false
	}

	switch e.EventType {
	case EventTypeTransfer:
		if e.FromAddress == nil || e.ToAddress == nil {
			return false
		}
		// tokens are never burned
		if *e.ToAddress == "" || *e.ToAddress == ETHEREUM_ZERO_ADDRESS {
			return false
		}
	case EventTypeListed:
		price, err := ParseAmount(e.Price)
		if err != nil || price.Sign() == 0 {
			return false
		}
	case EventTypeListingCancelled:
		// token id only
	case EventTypeBought:
		if e.Buyer == nil || *e.Buyer == "" {
			return false
		}
		if _, err := ParseAmount(e.Price); err != nil {
			return false
		}
	default:
		return false
	}

	return true
}

// IsMint reports whether the event is the transfer emitted at mint
func (e *LedgerEvent) IsMint() bool {
	return e.EventType == EventTypeTransfer &&
		e.FromAddress != nil &&
		(*e.FromAddress == "" || *e.FromAddress == ETHEREUM_ZERO_ADDRESS)
}

// Subject returns the messaging subject for the event
func (e *LedgerEvent) Subject() string {
	return fmt.Sprintf("events.%s.%s", SubjectToken(e.Chain), e.EventType)
}

// SubjectToken returns a chain id usable as a single NATS subject token
func SubjectToken(chain Chain) string {
	return strings.NewReplacer(":", "_", ".", "_").Replace(string(chain))
}

// Item is one entry of the materialized view: ledger state joined with resolved content
type Item struct {
	TokenID     TokenID
	Owner       string
	Name        string
	Description string
	Image       string
	Price       *big.Int
}

// Listed reports whether the item was listed when the view was built
func (i Item) Listed() bool {
	return i.Price != nil && i.Price.Sign() > 0
}

// ParseAmount parses a non-negative decimal amount in the smallest unit
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || !validTokenNumber(s) {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidInput, s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidInput, s)
	}
	return v, nil
}

// NormalizeAddresses normalizes a list of addresses to the format used by the ledger
func NormalizeAddresses(addresses []string) []string {
	for i, address := range addresses {
		addresses[i] = NormalizeAddress(address)
	}
	return addresses
}

// NormalizeAddress normalizes an address to the format used by the ledger
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).String()
	}
	return address
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// validTokenNumber checks if a token number is valid
func validTokenNumber(tokenNumber string) bool {
	return regexp.MustCompile(`^[0-9]*$`).MatchString(tokenNumber)
}
