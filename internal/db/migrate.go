package db

import (
	"fmt"

	"github.com/solaivr/giftline/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or upgrades the gift, activity, admin, and settings tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.GiftRecord{},
		&models.GiftActivity{},
		&models.Admin{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return backfillFundingStatus(conn)
}

// backfillFundingStatus repairs rows provisioned before funding_status existed,
// when only the funded flag recorded funding.
func backfillFundingStatus(conn *gorm.DB) error {
	res := conn.Model(&models.GiftRecord{}).
		Where("funded = ? AND status = ? AND (funding_status IS NULL OR funding_status = ?)",
			true, models.GiftStatusActive, models.FundingStatusPending).
		Update("funding_status", models.FundingStatusFunded)
	if res.Error != nil {
		return fmt.Errorf("db: backfill funding status: %w", res.Error)
	}
	return nil
}
