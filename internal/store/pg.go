package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/store/schema"
)

// maxEventsPageSize caps GetTokenEvents pages
const maxEventsPageSize = 200

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool of the underlying *sql.DB.
// Zero values fall back to the defaults of NormalizeConnectionPoolSettings.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings.
//
// Defaults (when zero):
//   - MaxOpenConns: 10
//   - MaxIdleConns: 2
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	if maxIdleConns <= 0 {
		maxIdleConns = 2
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Idle connections never exceed open connections
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// SaveTransition upserts the entry snapshot and appends its events atomically
func (s *pgStore) SaveTransition(ctx context.Context, entry *domain.LedgerEntry, events []*domain.LedgerEvent, inTx func(ctx context.Context) error) error {
	if entry == nil {
		return fmt.Errorf("%w: nil ledger entry", domain.ErrInvalidInput)
	}

	row := entryToRow(entry)
	eventRows := make([]schema.LedgerEvent, 0, len(events))
	for _, e := range events {
		r, err := eventToRow(e)
		if err != nil {
			return err
		}
		eventRows = append(eventRows, r)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "listing_price", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to upsert ledger entry: %w", err)
		}

		if len(eventRows) > 0 {
			if err := tx.Create(&eventRows).Error; err != nil {
				return fmt.Errorf("failed to insert ledger events: %w", err)
			}
		}

		if inTx != nil {
			return inTx(ctx)
		}
		return nil
	})
}

// LoadEntries returns every ledger entry ordered by token id
func (s *pgStore) LoadEntries(ctx context.Context) ([]*domain.LedgerEntry, error) {
	var rows []schema.LedgerEntry
	if err := s.db.WithContext(ctx).Order("token_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	entries := make([]*domain.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LatestBlock returns the highest persisted event block number
func (s *pgStore) LatestBlock(ctx context.Context) (uint64, error) {
	var latest uint64
	err := s.db.WithContext(ctx).
		Model(&schema.LedgerEvent{}).
		Select("COALESCE(MAX(block_number), 0)").
		Scan(&latest).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get latest ledger block: %w", err)
	}
	return latest, nil
}

// GetTokenEvents returns a page of the token's events, oldest first
func (s *pgStore) GetTokenEvents(ctx context.Context, tokenID domain.TokenID, limit int, offset uint64) ([]*domain.LedgerEvent, uint64, error) {
	if limit <= 0 || limit > maxEventsPageSize {
		limit = maxEventsPageSize
	}

	query := s.db.WithContext(ctx).Model(&schema.LedgerEvent{}).Where("token_id = ?", uint64(tokenID))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger events: %w", err)
	}

	var rows []schema.LedgerEvent
	err := query.
		Order("block_number ASC").
		Order("tx_index ASC").
		Limit(limit).
		Offset(int(offset)). //nolint:gosec,G115
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get ledger events: %w", err)
	}

	events := make([]*domain.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, rowToEvent(r))
	}
	return events, uint64(total), nil //nolint:gosec,G115
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *pgStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	value, err := s.GetKeyValue(ctx, blockCursorKey(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if value == "" {
		return 0, nil
	}

	blockNumber, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}
	return blockNumber, nil
}

// SetBlockCursor stores the last processed block number for a chain
func (s *pgStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	if err := s.SetKeyValue(ctx, blockCursorKey(chain), strconv.FormatUint(blockNumber, 10)); err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}
	return nil
}

// SetKeyValue sets a key-value pair in the key-value store
func (s *pgStore) SetKeyValue(ctx context.Context, key string, value string) error {
	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set key-value: %w", err)
	}

	return nil
}

// GetKeyValue retrieves a value by key from the key-value store
func (s *pgStore) GetKeyValue(ctx context.Context, key string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key-value: %w", err)
	}

	return kv.Value, nil
}

func blockCursorKey(chain string) string {
	return fmt.Sprintf("block_cursor:%s", chain)
}

func entryToRow(e *domain.LedgerEntry) schema.LedgerEntry {
	price := "0"
	if e.ListingPrice != nil {
		price = e.ListingPrice.String()
	}
	return schema.LedgerEntry{
		TokenID:           uint64(e.TokenID),
		Owner:             e.Owner,
		ContentDescriptor: e.ContentDescriptor,
		ListingPrice:      price,
	}
}

func rowToEntry(r schema.LedgerEntry) (*domain.LedgerEntry, error) {
	price, ok := new(big.Int).SetString(r.ListingPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid listing price %q for token %d", r.ListingPrice, r.TokenID)
	}
	return &domain.LedgerEntry{
		TokenID:           domain.TokenID(r.TokenID),
		Owner:             r.Owner,
		ContentDescriptor: r.ContentDescriptor,
		ListingPrice:      price,
	}, nil
}

func eventToRow(e *domain.LedgerEvent) (schema.LedgerEvent, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return schema.LedgerEvent{}, fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	var price *string
	if e.Price != "" {
		p := e.Price
		price = &p
	}

	return schema.LedgerEvent{
		ID:              e.ID,
		Chain:           string(e.Chain),
		ContractAddress: e.ContractAddress,
		EventType:       string(e.EventType),
		TokenID:         uint64(e.TokenID),
		FromAddress:     e.FromAddress,
		ToAddress:       e.ToAddress,
		Buyer:           e.Buyer,
		Price:           price,
		TxHash:          e.TxHash,
		BlockNumber:     e.BlockNumber,
		TxIndex:         e.TxIndex,
		Timestamp:       e.Timestamp.UTC(),
		Raw:             datatypes.JSON(raw),
	}, nil
}

func rowToEvent(r schema.LedgerEvent) *domain.LedgerEvent {
	e := &domain.LedgerEvent{
		ID:              r.ID,
		Chain:           domain.Chain(r.Chain),
		ContractAddress: r.ContractAddress,
		EventType:       domain.EventType(r.EventType),
		TokenID:         domain.TokenID(r.TokenID),
		FromAddress:     r.FromAddress,
		ToAddress:       r.ToAddress,
		Buyer:           r.Buyer,
		TxHash:          r.TxHash,
		BlockNumber:     r.BlockNumber,
		TxIndex:         r.TxIndex,
		Timestamp:       r.Timestamp.UTC(),
	}
	if r.Price != nil {
		e.Price = *r.Price
	}
	return e
}
