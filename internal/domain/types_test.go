package domain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidChain(t *testing.T) {
	tests := []struct {
		name     string
		chain    Chain
		expected bool
	}{
		{
			name:     "valid ethereum mainnet",
			chain:    ChainEthereumMainnet,
			expected: true,
		},
		{
			name:     "valid ethereum sepolia",
			chain:    ChainEthereumSepolia,
			expected: true,
		},
		{
			name:     "valid local ledger",
			chain:    ChainLocal,
			expected: true,
		},
		{
			name:     "invalid empty chain",
			chain:    Chain(""),
			expected: false,
		},
		{
			name:     "invalid polygon chain",
			chain:    Chain("eip155:137"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidChain(tt.chain))
		})
	}
}

func TestLedgerEvent_Valid(t *testing.T) {
	alice := "0x1111111111111111111111111111111111111111"
	zero := ETHEREUM_ZERO_ADDRESS

	tests := []struct {
		name     string
		event    LedgerEvent
		expected bool
	}{
		{
			name: "mint transfer",
			event: LedgerEvent{
				Chain:       ChainLocal,
				EventType:   EventTypeTransfer,
				FromAddress: &zero,
				ToAddress:   &alice,
			},
			expected: true,
		},
		{
			name: "transfer to zero address",
			event: LedgerEvent{
				Chain:       ChainEthereumSepolia,
				EventType:   EventTypeTransfer,
				FromAddress: &alice,
				ToAddress:   &zero,
			},
			expected: false,
		},
		{
			name: "transfer missing addresses",
			event: LedgerEvent{
				Chain:     ChainEthereumSepolia,
				EventType: EventTypeTransfer,
			},
			expected: false,
		},
		{
			name: "listed with price",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventTypeListed,
				Price:     "1000",
			},
			expected: true,
		},
		{
			name: "listed with zero price",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventTypeListed,
				Price:     "0",
			},
			expected: false,
		},
		{
			name: "listing cancelled",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventTypeListingCancelled,
			},
			expected: true,
		},
		{
			name: "bought without buyer",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventTypeBought,
				Price:     "5",
			},
			expected: false,
		},
		{
			name: "bought",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventTypeBought,
				Buyer:     &alice,
				Price:     "5",
			},
			expected: true,
		},
		{
			name: "unknown chain",
			event: LedgerEvent{
				Chain:     Chain("tezos:mainnet"),
				EventType: EventTypeListingCancelled,
			},
			expected: false,
		},
		{
			name: "unknown event type",
			event: LedgerEvent{
				Chain:     ChainLocal,
				EventType: EventType("burn"),
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.Valid())
		})
	}
}

func TestLedgerEvent_IsMint(t *testing.T) {
	alice := "0x1111111111111111111111111111111111111111"
	bob := "0x2222222222222222222222222222222222222222"
	zero := ETHEREUM_ZERO_ADDRESS

	mint := LedgerEvent{EventType: EventTypeTransfer, FromAddress: &zero, ToAddress: &alice}
	transfer := LedgerEvent{EventType: EventTypeTransfer, FromAddress: &alice, ToAddress: &bob}
	listed := LedgerEvent{EventType: EventTypeListed, Price: "1"}

	assert.True(t, mint.IsMint())
	assert.False(t, transfer.IsMint())
	assert.False(t, listed.IsMint())
}

func TestLedgerEvent_Subject(t *testing.T) {
	e := LedgerEvent{Chain: ChainEthereumSepolia, EventType: EventTypeBought}
	assert.Equal(t, "events.eip155_11155111.bought", e.Subject())

	e = LedgerEvent{Chain: ChainLocal, EventType: EventTypeListingCancelled}
	assert.Equal(t, "events.local_marketplace.listing_cancelled", e.Subject())
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID("42")
	require.NoError(t, err)
	assert.Equal(t, TokenID(42), id)
	assert.Equal(t, "42", id.String())

	for _, in := range []string{"", "-1", "abc", "1.5", "99999999999999999999999"} {
		_, err := ParseTokenID(in)
		assert.True(t, errors.Is(err, ErrInvalidInput), in)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))

	v, err = ParseAmount(" 0 ")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	for _, in := range []string{"", "-5", "1e18", "0x10"} {
		_, err := ParseAmount(in)
		assert.True(t, errors.Is(err, ErrInvalidInput), in)
	}
}

func TestLedgerEntry_ListedAndClone(t *testing.T) {
	e := &LedgerEntry{TokenID: 1, Owner: "alice", ContentDescriptor: "ipfs://x", ListingPrice: big.NewInt(0)}
	assert.False(t, e.Listed())

	e.ListingPrice = big.NewInt(7)
	assert.True(t, e.Listed())

	c := e.Clone()
	c.ListingPrice.SetInt64(9)
	assert.Equal(t, int64(7), e.ListingPrice.Int64())

	nilPrice := &LedgerEntry{TokenID: 2}
	assert.False(t, nilPrice.Listed())
	assert.Equal(t, 0, nilPrice.Clone().ListingPrice.Sign())
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase ethereum address",
			input:    "0xd8da6bf26964af9d7eed9e03e53415d37aa96045",
			expected: "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		},
		{
			name:     "already checksummed",
			input:    "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
			expected: "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		},
		{
			name:     "non-hex identity is kept",
			input:    "alice",
			expected: "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestNormalizeAddresses(t *testing.T) {
	out := NormalizeAddresses([]string{"0xd8da6bf26964af9d7eed9e03e53415d37aa96045", "bob"})
	assert.Equal(t, []string{"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", "bob"}, out)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xABCdef", "0xabcDEF"))
	assert.True(t, SameAddress(" alice ", "ALICE"))
	assert.False(t, SameAddress("alice", "bob"))
}
