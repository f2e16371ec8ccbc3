package models

import (
	"time"

	"gorm.io/datatypes"
)

// Currency identifiers for ledger entries.
const (
	// CurrencySoft is the earnable in-game currency.
	CurrencySoft = "soft"
	// CurrencyHard is the purchased premium currency.
	CurrencyHard = "hard"
)

// LedgerEntry records one balance-changing effect under a unique
// idempotency key. A row is inserted before the effect runs and is never
// mutated after Applied flips to true; the unique index on IdempotencyKey
// is what makes duplicate and concurrent applies safe across processes.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IdempotencyKey string `gorm:"type:text;not null;uniqueIndex"` // At-most-once key.

	UserID   int64  `gorm:"not null;index"`               // Affected account.
	Currency string `gorm:"type:text;not null"`           // soft or hard.
	Amount   int64  `gorm:"not null"`                     // Signed delta, minor units.
	Reason   string `gorm:"type:text"`                    // Origin of the effect.

	Applied bool           `gorm:"not null;default:false"` // Whether the effect committed.
	Result  datatypes.JSON `gorm:"type:json"`              // Committed result payload.

	CreatedAt time.Time  `gorm:"not null;autoCreateTime;index"` // First attempt timestamp.
	AppliedAt *time.Time // Commit timestamp, nil until applied.
}
