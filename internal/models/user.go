package models

import "time"

// User represents a player account keyed by the Telegram user id.
type User struct {
	ID int64 `gorm:"primaryKey;autoIncrement:false"` // Telegram user id.

	Username  string `gorm:"type:text;index"` // Telegram username, may be empty.
	FirstName string `gorm:"type:text"`       // Display first name.
	LastName  string `gorm:"type:text"`       // Display last name.
	Language  string `gorm:"type:text;not null;default:ru"` // Preferred locale code.

	SoftBalance int64 `gorm:"not null;default:0"` // Soft currency, minor units.
	HardBalance int64 `gorm:"not null;default:0"` // Hard currency, minor units.

	InvitedByID    *int64 `gorm:"index"`              // Referrer user id, nil when organic.
	TotalReferrals int    `gorm:"not null;default:0"` // Lifetime settled referrals.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
