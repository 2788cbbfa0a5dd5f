package activation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/gateway"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/phone"
	"github.com/solaivr/giftline/internal/security"
	"github.com/solaivr/giftline/internal/store"
)

// ErrNoRowsUpdated means the reset matched no record.
var ErrNoRowsUpdated = errors.New("DB_UPDATE_0_ROWS")

// DeactivateByPhone drains and deactivates the card for rawPhone, then resets its record to PENDING.
//
// Any remaining balance is redeemed first. If redemption fails nothing else is attempted, so no
// balance is stranded on a deactivated card.
func (o *Orchestrator) DeactivateByPhone(ctx context.Context, rawPhone string) Result {
	res := o.deactivateByPhone(ctx, rawPhone)
	outcomesTotal.WithLabelValues("deactivate", string(res.Outcome)).Inc()
	return res
}

func (o *Orchestrator) deactivateByPhone(ctx context.Context, rawPhone string) Result {
	normalized, errPhone := phone.Parse(rawPhone)
	if errPhone != nil {
		return Result{Outcome: OutcomeInvalidPhone, Phone: normalized, Message: errPhone.Error()}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deadline)
	defer cancel()

	gift, errFind := o.store.FindByPhone(ctx, normalized)
	if errors.Is(errFind, store.ErrNotFound) {
		return Result{Outcome: OutcomeNotFound, Phone: normalized}
	}
	if errFind != nil {
		log.WithError(errFind).WithField("phone", normalized).Error("deactivation: load gift")
		return Result{Outcome: OutcomeError, Phone: normalized, Message: "gift lookup failed"}
	}

	run := &activationRun{o: o, gift: gift, phone: normalized, last4: security.CardLast4(gift.CardNumber)}
	return run.deactivate(ctx)
}

func (r *activationRun) deactivate(ctx context.Context) Result {
	remaining, errBalance := r.o.gateway.Balance(ctx, r.gift.CardNumber)
	switch {
	case errBalance == nil:
	case gateway.IsTransport(errBalance):
		return r.gatewayFailure(errBalance, OutcomeRedeemFailed)
	case r.gift.Status == models.GiftStatusPending:
		// A card never activated locally has nothing to drain; the gateway may not know its balance.
		log.WithError(errBalance).WithFields(r.logFields()).Info("deactivation: no balance for pending card, skipping redeem")
		remaining = decimal.Zero
	default:
		msg := "Unable to read remaining balance. Card was not deactivated."
		log.WithError(errBalance).WithFields(r.logFields()).Warn("deactivation: balance inquiry failed")
		r.record(ctx, activity.EventRedeemFailed, activity.StatusFailed, msg, map[string]any{"error": gatewayMessage(errBalance)})
		return r.result(OutcomeRedeemFailed, msg)
	}

	redeemed := decimal.Zero
	if toRedeem := gateway.FloorToCents(remaining); toRedeem.IsPositive() {
		if errRedeem := r.o.gateway.Redeem(ctx, r.gift.CardNumber, toRedeem); errRedeem != nil {
			msg := "Unable to redeem remaining balance. Card was not deactivated."
			log.WithError(errRedeem).WithFields(r.logFields()).Warn("deactivation: redeem failed")
			r.record(ctx, activity.EventRedeemFailed, activity.StatusFailed, msg, map[string]any{
				"error":  gatewayMessage(errRedeem),
				"amount": toRedeem.StringFixed(2),
			})
			res := r.result(OutcomeRedeemFailed, msg)
			res.Balance = decimalPtr(remaining)
			return res
		}
		redeemed = toRedeem
	}

	if errDeactivate := r.o.gateway.Deactivate(ctx, r.gift.CardNumber); errDeactivate != nil {
		if redeemed.IsPositive() {
			if errUpdate := r.o.store.UpdateBalance(ctx, r.phone, remaining.Sub(redeemed)); errUpdate != nil {
				log.WithError(errUpdate).WithFields(r.logFields()).Warn("deactivation: refresh cached balance after redeem")
			}
		}
		res := r.gatewayFailure(errDeactivate, OutcomeDeactivateFailed)
		res.RedeemedAmount = decimalPtr(redeemed)
		return res
	}

	rows, errReset := r.o.store.Deactivate(ctx, r.phone)
	if errReset == nil && rows == 0 {
		errReset = ErrNoRowsUpdated
	}
	if errReset != nil {
		res := r.reconcileRequired(ctx, "deactivate", errReset)
		res.RedeemedAmount = decimalPtr(redeemed)
		return res
	}

	msg := "Gift card deactivated successfully."
	if redeemed.IsPositive() {
		msg = fmt.Sprintf("Gift card deactivated and %s balance was redeemed.", redeemed.StringFixed(2))
	}
	r.record(ctx, activity.EventDeactivated, activity.StatusSuccess, msg, map[string]any{
		"redeemedAmount": redeemed.StringFixed(2),
	})

	res := r.result(OutcomeDeactivated, msg)
	res.FundingStatus = models.FundingStatusPending
	res.RedeemedAmount = decimalPtr(redeemed)
	res.Balance = decimalPtr(decimal.Zero)
	return res
}
