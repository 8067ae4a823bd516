package schema

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerEvent is an append-only record of a committed ledger transition
type LedgerEvent struct {
	ID              string         `gorm:"column:id;primaryKey;type:char(26)"`
	Chain           string         `gorm:"column:chain;type:text;not null"`
	ContractAddress string         `gorm:"column:contract_address;type:text;not null;default:''"`
	EventType       string         `gorm:"column:event_type;type:text;not null"`
	TokenID         uint64         `gorm:"column:token_id;not null;index"`
	FromAddress     *string        `gorm:"column:from_address;type:text"`
	ToAddress       *string        `gorm:"column:to_address;type:text"`
	Buyer           *string        `gorm:"column:buyer;type:text"`
	Price           *string        `gorm:"column:price;type:text"`
	TxHash          string         `gorm:"column:tx_hash;type:text;not null;default:''"`
	BlockNumber     uint64         `gorm:"column:block_number;not null"`
	TxIndex         uint64         `gorm:"column:tx_index;not null"`
	Timestamp       time.Time      `gorm:"column:timestamp;not null"`
	Raw             datatypes.JSON `gorm:"column:raw;type:jsonb"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string {
	return "ledger_events"
}
