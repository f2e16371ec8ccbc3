package models

import "time"

// Referral represents an issued referral code and its payout terms.
// Code is immutable once issued; each owner holds at most one active code.
type Referral struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code    string `gorm:"type:text;not null;uniqueIndex"` // Globally unique referral code.
	OwnerID int64  `gorm:"not null;uniqueIndex"`           // Referrer user id.

	BonusAmount int64 `gorm:"not null;default:50"` // Referrer bonus in soft currency minor units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Issue timestamp.
}
