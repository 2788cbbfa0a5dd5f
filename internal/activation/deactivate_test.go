package activation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/gateway"
	"github.com/solaivr/giftline/internal/models"
)

func fundedFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	f := newFixture(t)
	if err := f.store.MarkFunded(context.Background(), testPhone, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("mark funded: %v", err)
	}
	f.gateway.balance = decimal.RequireFromString(balance)
	return f
}

func TestDeactivateRedeemsBeforeDeactivating(t *testing.T) {
	f := fundedFixture(t, "12.349")

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeDeactivated {
		t.Fatalf("expected DEACTIVATED, got %s (%s)", res.Outcome, res.Message)
	}
	if got := f.gateway.callLog(); got != "balance,redeem,deactivate" {
		t.Fatalf("expected balance,redeem,deactivate, got %q", got)
	}
	if len(f.gateway.redeemed) != 1 || f.gateway.redeemed[0].StringFixed(2) != "12.34" {
		t.Fatalf("expected floored redeem of 12.34, got %v", f.gateway.redeemed)
	}
	if res.RedeemedAmount == nil || res.RedeemedAmount.StringFixed(2) != "12.34" {
		t.Fatalf("expected redeemedAmount 12.34, got %v", res.RedeemedAmount)
	}

	gift := f.gift(t)
	if gift.Status != models.GiftStatusPending || gift.FundingStatus != models.FundingStatusPending {
		t.Fatalf("expected PENDING/PENDING, got %s/%s", gift.Status, gift.FundingStatus)
	}
	if !gift.Balance.IsZero() || gift.ActivatedAt != nil || gift.FundedAt != nil {
		t.Fatalf("expected full reset, got %+v", gift)
	}
}

func TestDeactivateZeroBalanceSkipsRedeem(t *testing.T) {
	f := fundedFixture(t, "0")

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeDeactivated {
		t.Fatalf("expected DEACTIVATED, got %s", res.Outcome)
	}
	if got := f.gateway.callLog(); got != "balance,deactivate" {
		t.Fatalf("expected no redeem, got %q", got)
	}
	if res.Message != "Gift card deactivated successfully." {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestRedeemFailureAbortsDeactivation(t *testing.T) {
	f := fundedFixture(t, "25")
	f.gateway.redeemErr = &gateway.Error{Kind: gateway.KindDeclined, Command: gateway.CommandRedeem, Message: "Redeem failed"}

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeRedeemFailed {
		t.Fatalf("expected REDEEM_FAILED, got %s", res.Outcome)
	}
	if got := f.gateway.callLog(); got != "balance,redeem" {
		t.Fatalf("deactivate must not be called after a failed redeem, got %q", got)
	}
	gift := f.gift(t)
	if !gift.IsFunded() || !gift.Balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected record unchanged, got %s/%s balance %s", gift.Status, gift.FundingStatus, gift.Balance)
	}
	types := f.activity.types()
	if len(types) != 1 || types[0] != activity.EventRedeemFailed {
		t.Fatalf("expected REDEEM_FAILED activity, got %v", types)
	}
}

func TestDeactivateBalanceDeclinedOnActiveCardAborts(t *testing.T) {
	f := fundedFixture(t, "25")
	f.gateway.balanceErr = &gateway.Error{Kind: gateway.KindDeclined, Command: gateway.CommandBalance, Message: "Card Not Found"}

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeRedeemFailed {
		t.Fatalf("expected REDEEM_FAILED, got %s", res.Outcome)
	}
	if got := f.gateway.callLog(); got != "balance" {
		t.Fatalf("expected nothing after the failed inquiry, got %q", got)
	}
}

func TestDeactivatePendingCardWithoutBalance(t *testing.T) {
	f := newFixture(t)
	f.gateway.balanceErr = &gateway.Error{Kind: gateway.KindDeclined, Command: gateway.CommandBalance, Message: "Card Inactive"}

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeDeactivated {
		t.Fatalf("expected DEACTIVATED, got %s (%s)", res.Outcome, res.Message)
	}
	if got := f.gateway.callLog(); got != "balance,deactivate" {
		t.Fatalf("unexpected calls %q", got)
	}
}

func TestDeactivateGatewayFailureKeepsRecord(t *testing.T) {
	f := fundedFixture(t, "0")
	f.gateway.deactivateErr = &gateway.Error{Kind: gateway.KindDeclined, Command: gateway.CommandDeactivate, Message: "Deactivation failed"}

	res := f.orch.DeactivateByPhone(context.Background(), testPhone)
	if res.Outcome != OutcomeDeactivateFailed {
		t.Fatalf("expected DEACTIVATE_FAILED, got %s", res.Outcome)
	}
	if gift := f.gift(t); !gift.IsFunded() {
		t.Fatal("expected record unchanged when the gateway refused to deactivate")
	}
}

func TestDeactivateUnknownPhone(t *testing.T) {
	f := newFixture(t)
	if res := f.orch.DeactivateByPhone(context.Background(), "2125550100"); res.Outcome != OutcomeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", res.Outcome)
	}
	if got := f.gateway.callLog(); got != "" {
		t.Fatalf("expected no gateway calls, got %q", got)
	}
}
