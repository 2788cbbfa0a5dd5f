package models

import (
	"time"

	"gorm.io/datatypes"
)

// GiftActivity is an append-only audit row for IVR and console activity.
type GiftActivity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Phone     string  `gorm:"type:varchar(20);index"`            // Normalized phone, may be partial on bad input.
	CardLast4 *string `gorm:"column:card_last4;type:varchar(4)"` // Last four card digits only.
	EventType string  `gorm:"type:varchar(64);not null;index"`   // Event name, e.g. IVR_ENTRY.
	Status    string  `gorm:"type:varchar(32);not null"`         // Event status, e.g. SUCCESS.
	Message   string  `gorm:"type:text"`                         // Human readable summary.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Extra structured context.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}

// TableName keeps the original activity table name.
func (GiftActivity) TableName() string {
	return "gift_activity"
}
