package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/solaivr/giftline/internal/db"
	"github.com/solaivr/giftline/internal/models"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *GormGiftStore {
	t.Helper()
	dsn := fmt.Sprintf("file:gift_store_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewGormGiftStore(conn)
}

func seedGift(t *testing.T, s *GormGiftStore, phone string) *models.GiftRecord {
	t.Helper()
	gift, errCreate := s.Create(context.Background(), phone, "6011000000000004", decimal.RequireFromString("25.00"))
	if errCreate != nil {
		t.Fatalf("create gift: %v", errCreate)
	}
	return gift
}

func TestCreateAndFindByFormattedPhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "(718) 555-0142")

	gift, errFind := s.FindByPhone(ctx, "+1 718-555-0142")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if gift.Phone != "7185550142" {
		t.Fatalf("expected normalized phone, got %q", gift.Phone)
	}
	if gift.Status != models.GiftStatusPending || gift.FundingStatus != models.FundingStatusPending {
		t.Fatalf("expected PENDING/PENDING, got %s/%s", gift.Status, gift.FundingStatus)
	}
	if !gift.FaceAmount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("unexpected face amount %s", gift.FaceAmount)
	}

	if _, errMissing := s.FindByPhone(ctx, "2125550100"); !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errMissing)
	}
}

func TestCreateRejectsDuplicateAndInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")

	if _, err := s.Create(ctx, "17185550142", "6011000000000012", decimal.NewFromInt(10)); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := s.Create(ctx, "555-0142", "6011000000000012", decimal.NewFromInt(10)); err == nil {
		t.Fatal("expected invalid phone error")
	}
	if _, err := s.Create(ctx, "2125550100", "6011000000000012", decimal.Zero); err == nil {
		t.Fatal("expected non-positive amount error")
	}
}

func TestFundingTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")

	if err := s.Activate(ctx, "7185550142"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.MarkActivatedNotFunded(ctx, "7185550142", "Insufficient funds", "02020"); err != nil {
		t.Fatalf("mark not funded: %v", err)
	}
	gift, _ := s.FindByPhone(ctx, "7185550142")
	if gift.Status != models.GiftStatusActive || gift.FundingStatus != models.FundingStatusNotFunded {
		t.Fatalf("expected ACTIVE/NOT_FUNDED, got %s/%s", gift.Status, gift.FundingStatus)
	}
	if gift.FundingError == nil || *gift.FundingError != "Insufficient funds" {
		t.Fatalf("expected funding error to be captured, got %v", gift.FundingError)
	}
	if gift.ActivatedAt == nil {
		t.Fatal("expected activatedAt to be set")
	}

	if err := s.MarkFunded(ctx, "7185550142", decimal.RequireFromString("25.00")); err != nil {
		t.Fatalf("mark funded: %v", err)
	}
	gift, _ = s.FindByPhone(ctx, "7185550142")
	if !gift.IsFunded() || !gift.Funded {
		t.Fatalf("expected funded record, got %+v", gift)
	}
	if gift.FundingError != nil || gift.FundingErrorCode != nil {
		t.Fatal("expected funding error to be cleared on FUNDED")
	}
	if gift.FundedAt == nil || !gift.Balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected funded fields: fundedAt=%v balance=%s", gift.FundedAt, gift.Balance)
	}

	if err := s.UpdateBalance(ctx, "7185550142", decimal.RequireFromString("12.5")); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	gift, _ = s.FindByPhone(ctx, "7185550142")
	if !gift.Balance.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected balance 12.5, got %s", gift.Balance)
	}
}

func TestTransitionsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")

	for i := 0; i < 2; i++ {
		if err := s.MarkFunded(ctx, "7185550142", decimal.NewFromInt(25)); err != nil {
			t.Fatalf("mark funded attempt %d: %v", i+1, err)
		}
	}
	gift, _ := s.FindByPhone(ctx, "7185550142")
	if !gift.IsFunded() {
		t.Fatalf("expected funded record after repeated writes")
	}
}

func TestDeactivateResetsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")
	if err := s.MarkFunded(ctx, "7185550142", decimal.NewFromInt(25)); err != nil {
		t.Fatalf("mark funded: %v", err)
	}

	rows, err := s.Deactivate(ctx, "7185550142")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 row affected, got %d", rows)
	}
	gift, _ := s.FindByPhone(ctx, "7185550142")
	if gift.Status != models.GiftStatusPending || gift.FundingStatus != models.FundingStatusPending {
		t.Fatalf("expected PENDING/PENDING, got %s/%s", gift.Status, gift.FundingStatus)
	}
	if !gift.Balance.IsZero() || gift.ActivatedAt != nil || gift.FundedAt != nil || gift.Funded {
		t.Fatalf("expected full reset, got %+v", gift)
	}
	if !gift.FaceAmount.Equal(decimal.NewFromInt(25)) || gift.CardNumber != "6011000000000004" {
		t.Fatal("expected provisioning fields to survive deactivation")
	}

	rows, err = s.Deactivate(ctx, "2125550100")
	if err != nil {
		t.Fatalf("deactivate missing: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected 0 rows for unknown phone, got %d", rows)
	}
}

func TestUpdateUnknownPhoneIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Activate(context.Background(), "2125550100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")
	seedGift(t, s, "7185550199")
	seedGift(t, s, "2125550100")
	if err := s.MarkFunded(ctx, "7185550199", decimal.NewFromInt(25)); err != nil {
		t.Fatalf("mark funded: %v", err)
	}

	gifts, total, err := s.List(ctx, GiftFilter{PhoneContains: "718"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(gifts) != 2 {
		t.Fatalf("expected 2 gifts for 718, got total=%d len=%d", total, len(gifts))
	}

	gifts, total, err = s.List(ctx, GiftFilter{FundingStatus: models.FundingStatusFunded})
	if err != nil {
		t.Fatalf("list funded: %v", err)
	}
	if total != 1 || gifts[0].Phone != "7185550199" {
		t.Fatalf("expected one funded gift, got total=%d gifts=%v", total, gifts)
	}

	gifts, total, err = s.List(ctx, GiftFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if total != 3 || len(gifts) != 1 || gifts[0].Phone != "2125550100" {
		t.Fatalf("expected newest gift first with total 3, got total=%d gifts=%v", total, gifts)
	}
}

func TestMarkFundingUnconfirmed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGift(t, s, "7185550142")

	if err := s.MarkFundingUnconfirmed(ctx, "7185550142", "invalid response body", ""); err != nil {
		t.Fatalf("mark unconfirmed: %v", err)
	}
	gift, err := s.FindByPhone(ctx, "7185550142")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if gift.Status != models.GiftStatusActive || gift.FundingStatus != models.FundingStatusUnconfirmed || gift.Funded {
		t.Fatalf("expected ACTIVE/UNCONFIRMED unfunded, got %s/%s funded=%v", gift.Status, gift.FundingStatus, gift.Funded)
	}
	if gift.FundingError == nil || *gift.FundingError != "invalid response body" || gift.FundingErrorCode != nil {
		t.Fatalf("unexpected funding error fields: %v %v", gift.FundingError, gift.FundingErrorCode)
	}
}
