package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegacyRAV is a row of scalar_tap_ravs. Addresses are stored as lowercase
// 0x-prefixed hex.
type LegacyRAV struct {
	ID             uint64          `gorm:"primaryKey"`
	SenderAddress  string          `gorm:"size:42;not null;index:idx_scalar_tap_ravs_key,priority:1;uniqueIndex:idx_scalar_tap_ravs_last,priority:1,where:last = true"`
	AllocationID   string          `gorm:"size:42;not null;index:idx_scalar_tap_ravs_key,priority:2;uniqueIndex:idx_scalar_tap_ravs_last,priority:2,where:last = true"`
	TimestampNs    uint64          `gorm:"not null"`
	ValueAggregate decimal.Decimal `gorm:"type:numeric(39,0);not null"`
	Signature      []byte          `gorm:"not null"`
	Last           bool            `gorm:"not null;default:false"`
	Final          bool            `gorm:"not null;default:false"`
	RedeemedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (LegacyRAV) TableName() string { return "scalar_tap_ravs" }

// HorizonRAV is a row of tap_horizon_ravs.
type HorizonRAV struct {
	ID              uint64          `gorm:"primaryKey"`
	Payer           string          `gorm:"size:42;not null;index:idx_tap_horizon_ravs_key,priority:1;uniqueIndex:idx_tap_horizon_ravs_last,priority:1,where:last = true"`
	CollectionID    string          `gorm:"size:66;not null;index:idx_tap_horizon_ravs_key,priority:2;uniqueIndex:idx_tap_horizon_ravs_last,priority:2,where:last = true"`
	DataService     string          `gorm:"size:42;not null"`
	ServiceProvider string          `gorm:"size:42;not null"`
	TimestampNs     uint64          `gorm:"not null"`
	ValueAggregate  decimal.Decimal `gorm:"type:numeric(39,0);not null"`
	Metadata        []byte
	Signature       []byte `gorm:"not null"`
	Last            bool   `gorm:"not null;default:false"`
	Final           bool   `gorm:"not null;default:false"`
	RedeemedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (HorizonRAV) TableName() string { return "tap_horizon_ravs" }

// AllocationSummary accumulates the fees withdrawn per allocation across
// both variants.
type AllocationSummary struct {
	Allocation    string          `gorm:"primaryKey;size:42"`
	WithdrawnFees decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (AllocationSummary) TableName() string { return "allocation_summaries" }

func allModels() []any {
	return []any{&LegacyRAV{}, &HorizonRAV{}, &AllocationSummary{}}
}
