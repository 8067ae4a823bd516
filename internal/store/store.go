package store

import (
	"context"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// Store defines the interface for database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore,CursorStore=MockCursorStore
type Store interface {
	CursorStore

	// SaveTransition upserts the entry snapshot and appends its events in one transaction.
	// inTx runs last inside the transaction; its error rolls the transaction back.
	SaveTransition(ctx context.Context, entry *domain.LedgerEntry, events []*domain.LedgerEvent, inTx func(ctx context.Context) error) error
	// LoadEntries returns every ledger entry ordered by token id
	LoadEntries(ctx context.Context) ([]*domain.LedgerEntry, error)
	// LatestBlock returns the highest persisted event block number, 0 when there are none
	LatestBlock(ctx context.Context) (uint64, error)
	// GetTokenEvents returns the events of a token in ledger order together with the total count
	GetTokenEvents(ctx context.Context, tokenID domain.TokenID, limit int, offset uint64) ([]*domain.LedgerEvent, uint64, error)
	// SetKeyValue sets a key-value pair
	SetKeyValue(ctx context.Context, key string, value string) error
	// GetKeyValue returns the value for key, empty when absent
	GetKeyValue(ctx context.Context, key string) (string, error)
}

// CursorStore defines the interface for storing and retrieving block cursors
type CursorStore interface {
	// GetBlockCursor retrieves the last processed block number for a chain
	GetBlockCursor(ctx context.Context, chain string) (uint64, error)
	// SetBlockCursor stores the last processed block number for a chain
	SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error
}
