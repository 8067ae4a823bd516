package schema

import "time"

// LedgerEntry is the latest snapshot of a token's ledger state
type LedgerEntry struct {
	TokenID           uint64 `gorm:"column:token_id;primaryKey;autoIncrement:false"`
	Owner             string `gorm:"column:owner;type:text;not null"`
	ContentDescriptor string `gorm:"column:content_descriptor;type:text;not null"`
	// ListingPrice is a decimal wei amount, "0" when the token is not listed
	ListingPrice string    `gorm:"column:listing_price;type:text;not null;default:'0'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
