package store

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

const (
	testAlice = "0x1111111111111111111111111111111111111111"
	testBob   = "0x2222222222222222222222222222222222222222"
)

func buildTestEntry(id domain.TokenID, owner string, price int64) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		TokenID:           id,
		Owner:             owner,
		ContentDescriptor: "ipfs://QmTest" + id.String(),
		ListingPrice:      big.NewInt(price),
	}
}

func buildTestEvent(id string, tokenID domain.TokenID, eventType domain.EventType, block, txIndex uint64) *domain.LedgerEvent {
	e := &domain.LedgerEvent{
		ID:          id,
		Chain:       domain.ChainLocal,
		EventType:   eventType,
		TokenID:     tokenID,
		BlockNumber: block,
		TxIndex:     txIndex,
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	switch eventType {
	case domain.EventTypeTransfer:
		from, to := domain.ETHEREUM_ZERO_ADDRESS, testAlice
		e.FromAddress = &from
		e.ToAddress = &to
	case domain.EventTypeListed:
		e.Price = "1000"
	case domain.EventTypeBought:
		buyer := testBob
		e.Buyer = &buyer
		e.Price = "1000"
	}
	return e
}

// RunStoreTests runs the store behaviour tests against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store) {
	t.Run("SaveTransition", func(t *testing.T) {
		testSaveTransition(t, initDB(t))
	})
	t.Run("SaveTransitionRollsBackOnCallbackError", func(t *testing.T) {
		testSaveTransitionRollback(t, initDB(t))
	})
	t.Run("LatestBlock", func(t *testing.T) {
		testLatestBlock(t, initDB(t))
	})
	t.Run("GetTokenEvents", func(t *testing.T) {
		testGetTokenEvents(t, initDB(t))
	})
	t.Run("BlockCursor", func(t *testing.T) {
		testBlockCursor(t, initDB(t))
	})
	t.Run("KeyValue", func(t *testing.T) {
		testKeyValue(t, initDB(t))
	})
}

func testSaveTransition(t *testing.T, s Store) {
	ctx := context.Background()

	called := false
	err := s.SaveTransition(ctx, buildTestEntry(0, testAlice, 0),
		[]*domain.LedgerEvent{buildTestEvent("01HX0000000000000000000001", 0, domain.EventTypeTransfer, 1, 0)},
		func(context.Context) error {
			called = true
			return nil
		})
	require.NoError(t, err)
	assert.True(t, called)

	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(1, testBob, 0), nil, nil))

	// Upsert replaces owner and price of an existing entry
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testBob, 0), nil, nil))
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(1, testBob, 2500), nil, nil))

	entries, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.TokenID(0), entries[0].TokenID)
	assert.Equal(t, testBob, entries[0].Owner)
	assert.Equal(t, "ipfs://QmTest0", entries[0].ContentDescriptor)
	assert.Equal(t, 0, entries[0].ListingPrice.Sign())

	assert.Equal(t, domain.TokenID(1), entries[1].TokenID)
	assert.Equal(t, "2500", entries[1].ListingPrice.String())
}

func testSaveTransitionRollback(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testAlice, 1000), nil, nil))

	paymentErr := errors.New("payment rejected")
	err := s.SaveTransition(ctx, buildTestEntry(0, testBob, 0),
		[]*domain.LedgerEvent{buildTestEvent("01HX0000000000000000000002", 0, domain.EventTypeBought, 5, 0)},
		func(context.Context) error { return paymentErr })
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentErr)

	entries, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testAlice, entries[0].Owner)
	assert.Equal(t, "1000", entries[0].ListingPrice.String())

	latest, err := s.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest)
}

func testLatestBlock(t *testing.T, s Store) {
	ctx := context.Background()

	latest, err := s.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest)

	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testAlice, 0), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000003", 0, domain.EventTypeTransfer, 3, 0),
	}, nil))
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testAlice, 1000), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000004", 0, domain.EventTypeListed, 4, 0),
	}, nil))

	latest, err = s.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), latest)
}

func testGetTokenEvents(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testAlice, 0), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000010", 0, domain.EventTypeTransfer, 1, 0),
	}, nil))
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(1, testAlice, 0), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000011", 1, domain.EventTypeTransfer, 2, 0),
	}, nil))
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testAlice, 1000), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000012", 0, domain.EventTypeListed, 3, 0),
	}, nil))
	require.NoError(t, s.SaveTransition(ctx, buildTestEntry(0, testBob, 0), []*domain.LedgerEvent{
		buildTestEvent("01HX0000000000000000000013", 0, domain.EventTypeBought, 4, 0),
		buildTestEvent("01HX0000000000000000000014", 0, domain.EventTypeTransfer, 4, 1),
	}, nil))

	events, total, err := s.GetTokenEvents(ctx, 0, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	require.Len(t, events, 4)

	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTypeTransfer,
		domain.EventTypeListed,
		domain.EventTypeBought,
		domain.EventTypeTransfer,
	}, types)

	bought := events[2]
	require.NotNil(t, bought.Buyer)
	assert.Equal(t, testBob, *bought.Buyer)
	assert.Equal(t, "1000", bought.Price)
	assert.Equal(t, domain.ChainLocal, bought.Chain)
	assert.True(t, bought.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	// Pagination
	page, total, err := s.GetTokenEvents(ctx, 0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	require.Len(t, page, 2)
	assert.Equal(t, "01HX0000000000000000000013", page[0].ID)
	assert.Equal(t, "01HX0000000000000000000014", page[1].ID)

	// Unknown token
	none, total, err := s.GetTokenEvents(ctx, 42, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), total)
	assert.Empty(t, none)
}

func testBlockCursor(t *testing.T, s Store) {
	ctx := context.Background()
	chain := string(domain.ChainEthereumSepolia)

	block, err := s.GetBlockCursor(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)

	require.NoError(t, s.SetBlockCursor(ctx, chain, 5_000_123))
	require.NoError(t, s.SetBlockCursor(ctx, chain, 5_000_200))

	block, err = s.GetBlockCursor(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_200), block)

	// Cursors are per chain
	block, err = s.GetBlockCursor(ctx, string(domain.ChainEthereumMainnet))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)
}

func testKeyValue(t *testing.T, s Store) {
	ctx := context.Background()

	value, err := s.GetKeyValue(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, s.SetKeyValue(ctx, "refresh:last_pass", "7"))
	value, err = s.GetKeyValue(ctx, "refresh:last_pass")
	require.NoError(t, err)
	assert.Equal(t, "7", value)
}

func TestNormalizeConnectionPoolSettings(t *testing.T) {
	tests := []struct {
		name                       string
		open, idle                 int
		lifetime, idleTime         time.Duration
		wantOpen, wantIdle         int
		wantLifetime, wantIdleTime time.Duration
	}{
		{
			name:         "defaults",
			wantOpen:     10,
			wantIdle:     2,
			wantLifetime: 5 * time.Minute,
			wantIdleTime: 10 * time.Minute,
		},
		{
			name:         "idle clamped to open",
			open:         3,
			idle:         8,
			lifetime:     time.Minute,
			idleTime:     time.Minute,
			wantOpen:     3,
			wantIdle:     3,
			wantLifetime: time.Minute,
			wantIdleTime: time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, idle, lifetime, idleTime := NormalizeConnectionPoolSettings(tt.open, tt.idle, tt.lifetime, tt.idleTime)
			assert.Equal(t, tt.wantOpen, open)
			assert.Equal(t, tt.wantIdle, idle)
			assert.Equal(t, tt.wantLifetime, lifetime)
			assert.Equal(t, tt.wantIdleTime, idleTime)
		})
	}
}
