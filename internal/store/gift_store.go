// Package store persists gift card records addressed by normalized phone number.
// Every transition is a single-row UPDATE that writes one coherent field group.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/solaivr/giftline/internal/db"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/phone"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound means no gift record exists for the phone.
	ErrNotFound = errors.New("store: gift not found")
	// ErrDuplicatePhone means a gift record already exists for the phone.
	ErrDuplicatePhone = errors.New("store: phone already has a gift")
)

// GiftFilter narrows List results. Zero values match everything.
type GiftFilter struct {
	PhoneContains string
	Status        models.GiftStatus
	FundingStatus models.FundingStatus
	Limit         int
	Offset        int
}

// GormGiftStore implements the gift record store on GORM.
type GormGiftStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormGiftStore constructs a GormGiftStore.
func NewGormGiftStore(conn *gorm.DB) *GormGiftStore {
	return &GormGiftStore{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// FindByPhone returns the record for phone or ErrNotFound.
func (s *GormGiftStore) FindByPhone(ctx context.Context, rawPhone string) (*models.GiftRecord, error) {
	var gift models.GiftRecord
	errFind := s.db.WithContext(ctx).
		Where("phone = ?", phone.Normalize(rawPhone)).
		Take(&gift).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("store: find gift: %w", errFind)
	}
	return &gift, nil
}

// Activate sets status=ACTIVE and activatedAt=now.
func (s *GormGiftStore) Activate(ctx context.Context, rawPhone string) error {
	return s.update(ctx, rawPhone, "activate", map[string]any{
		"status":       models.GiftStatusActive,
		"activated_at": s.now(),
	})
}

// UpdateBalance refreshes the cached gateway balance.
func (s *GormGiftStore) UpdateBalance(ctx context.Context, rawPhone string, balance decimal.Decimal) error {
	return s.update(ctx, rawPhone, "update balance", map[string]any{
		"balance": balance,
	})
}

// MarkFunded records a successful funding and clears any previous funding error.
func (s *GormGiftStore) MarkFunded(ctx context.Context, rawPhone string, balance decimal.Decimal) error {
	return s.update(ctx, rawPhone, "mark funded", map[string]any{
		"funded":             true,
		"status":             models.GiftStatusActive,
		"funding_status":     models.FundingStatusFunded,
		"funding_error":      nil,
		"funding_error_code": nil,
		"balance":            balance,
		"funded_at":          s.now(),
	})
}

// MarkActivatedNotFunded records a failed funding attempt on an active card.
func (s *GormGiftStore) MarkActivatedNotFunded(ctx context.Context, rawPhone, fundingError, fundingErrorCode string) error {
	return s.update(ctx, rawPhone, "mark not funded", map[string]any{
		"status":             models.GiftStatusActive,
		"funded":             false,
		"funding_status":     models.FundingStatusNotFunded,
		"funding_error":      nullableString(fundingError),
		"funding_error_code": nullableString(fundingErrorCode),
	})
}

// MarkFundingUnconfirmed records an issue attempt whose outcome could not be determined.
func (s *GormGiftStore) MarkFundingUnconfirmed(ctx context.Context, rawPhone, fundingError, fundingErrorCode string) error {
	return s.update(ctx, rawPhone, "mark funding unconfirmed", map[string]any{
		"status":             models.GiftStatusActive,
		"funded":             false,
		"funding_status":     models.FundingStatusUnconfirmed,
		"funding_error":      nullableString(fundingError),
		"funding_error_code": nullableString(fundingErrorCode),
	})
}

// Deactivate resets the record to PENDING/PENDING with a zero balance so the card can be reissued.
// It returns the number of rows affected.
func (s *GormGiftStore) Deactivate(ctx context.Context, rawPhone string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.GiftRecord{}).
		Where("phone = ?", phone.Normalize(rawPhone)).
		Updates(map[string]any{
			"status":             models.GiftStatusPending,
			"funded":             false,
			"funding_status":     models.FundingStatusPending,
			"funding_error":      nil,
			"funding_error_code": nil,
			"balance":            decimal.Zero,
			"activated_at":       nil,
			"funded_at":          nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("store: deactivate gift: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Create provisions a new PENDING/PENDING record. The phone must already be valid.
func (s *GormGiftStore) Create(ctx context.Context, rawPhone, cardNumber string, faceAmount decimal.Decimal) (*models.GiftRecord, error) {
	normalized, errPhone := phone.Parse(rawPhone)
	if errPhone != nil {
		return nil, errPhone
	}
	cardNumber = strings.TrimSpace(cardNumber)
	if cardNumber == "" {
		return nil, errors.New("store: card number is required")
	}
	if !faceAmount.IsPositive() {
		return nil, errors.New("store: face amount must be positive")
	}

	gift := models.GiftRecord{
		Phone:         normalized,
		CardNumber:    cardNumber,
		FaceAmount:    faceAmount.Round(2),
		Balance:       decimal.Zero,
		Status:        models.GiftStatusPending,
		FundingStatus: models.FundingStatusPending,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(&gift)
	if res.Error != nil {
		return nil, fmt.Errorf("store: create gift: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicatePhone
	}
	return &gift, nil
}

// List returns records matching filter, newest first, and the total match count.
func (s *GormGiftStore) List(ctx context.Context, filter GiftFilter) ([]models.GiftRecord, int64, error) {
	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.GiftRecord{})
		if digits := phone.Digits(filter.PhoneContains); digits != "" {
			q = q.Where(db.ContainsDigitsExpr("phone"), db.ContainsPattern(digits))
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.FundingStatus != "" {
			q = q.Where("funding_status = ?", filter.FundingStatus)
		}
		return q
	}

	var total int64
	if errCount := scoped().Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("store: count gifts: %w", errCount)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var gifts []models.GiftRecord
	if errFind := scoped().Order("id DESC").Limit(limit).Offset(filter.Offset).Find(&gifts).Error; errFind != nil {
		return nil, 0, fmt.Errorf("store: list gifts: %w", errFind)
	}
	return gifts, total, nil
}

// Ping checks database connectivity.
func (s *GormGiftStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormGiftStore) update(ctx context.Context, rawPhone, op string, values map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&models.GiftRecord{}).
		Where("phone = ?", phone.Normalize(rawPhone)).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("store: %s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: %s: %w", op, ErrNotFound)
	}
	return nil
}

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
