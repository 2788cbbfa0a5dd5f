package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GiftStatus is the activation state of a gift card record.
type GiftStatus string

// Gift activation states.
const (
	// GiftStatusPending marks a provisioned card that has not been activated.
	GiftStatusPending GiftStatus = "PENDING"
	// GiftStatusActive marks a card activated at the gateway.
	GiftStatusActive GiftStatus = "ACTIVE"
)

// Valid reports whether s is a known activation state.
func (s GiftStatus) Valid() bool {
	switch s {
	case GiftStatusPending, GiftStatusActive:
		return true
	default:
		return false
	}
}

// FundingStatus is the funding state of a gift card record.
type FundingStatus string

// Gift funding states.
const (
	// FundingStatusPending marks a card that has never been funded.
	FundingStatusPending FundingStatus = "PENDING"
	// FundingStatusFunded marks a card loaded with its face amount.
	FundingStatusFunded FundingStatus = "FUNDED"
	// FundingStatusNotFunded marks a card whose last funding attempt failed.
	FundingStatusNotFunded FundingStatus = "NOT_FUNDED"
	// FundingStatusUnconfirmed marks an issue whose result is unknown. The next call reads the
	// gateway balance before issuing again.
	FundingStatusUnconfirmed FundingStatus = "UNCONFIRMED"
)

// Valid reports whether s is a known funding state.
func (s FundingStatus) Valid() bool {
	switch s {
	case FundingStatusPending, FundingStatusFunded, FundingStatusNotFunded, FundingStatusUnconfirmed:
		return true
	default:
		return false
	}
}

// GiftRecord is one physical gift card keyed by the recipient's normalized phone number.
type GiftRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Phone      string          `gorm:"type:varchar(10);not null;uniqueIndex"`     // Normalized 10-digit phone.
	CardNumber string          `gorm:"column:cardnum;type:text;not null"`         // Gateway card number, sensitive.
	FaceAmount decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"` // Amount loaded on first funding.
	Balance    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`     // Cached gateway balance.

	Status        GiftStatus    `gorm:"type:varchar(16);not null;default:'PENDING';index"` // Activation state.
	Funded        bool          `gorm:"not null;default:false"`                            // Legacy funded flag.
	FundingStatus FundingStatus `gorm:"type:varchar(16);not null;default:'PENDING';index"` // Funding state.

	FundingError     *string `gorm:"type:text"`        // Last funding failure reason.
	FundingErrorCode *string `gorm:"type:varchar(32)"` // Last funding failure code.

	ActivatedAt *time.Time // Local activation time.
	FundedAt    *time.Time // Local funding time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Provisioning timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName keeps the table name used by the provisioning tooling.
func (GiftRecord) TableName() string {
	return "gifts"
}

// IsActive reports whether the card is active locally.
func (g *GiftRecord) IsActive() bool {
	return g != nil && g.Status == GiftStatusActive
}

// IsFunded reports whether the card is active and funded locally.
func (g *GiftRecord) IsFunded() bool {
	return g.IsActive() && g.FundingStatus == FundingStatusFunded
}
