// Package activation drives a gift card record to a terminal outcome against the gateway.
//
// The decision of whether to activate, fund, or only refresh the balance is derived from the
// persisted status and funding status alone, so every entry point is safe to call again after
// any failure. Funding is attempted at most once per call.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/gateway"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/phone"
	"github.com/solaivr/giftline/internal/security"
	"github.com/solaivr/giftline/internal/store"
)

const defaultDeadline = 45 * time.Second

// ErrPersistence marks a store write that failed after the gateway had already changed state.
var ErrPersistence = errors.New("activation: store write failed after gateway success")

// Gateway is the subset of the gateway client the orchestrator drives.
type Gateway interface {
	Activate(ctx context.Context, cardNumber string) error
	IssueFunds(ctx context.Context, cardNumber string, amount decimal.Decimal) (decimal.Decimal, error)
	Balance(ctx context.Context, cardNumber string) (decimal.Decimal, error)
	Deactivate(ctx context.Context, cardNumber string) error
	Redeem(ctx context.Context, cardNumber string, amount decimal.Decimal) error
}

// GiftStore is the subset of the gift store the orchestrator reads and transitions.
type GiftStore interface {
	FindByPhone(ctx context.Context, phone string) (*models.GiftRecord, error)
	Activate(ctx context.Context, phone string) error
	UpdateBalance(ctx context.Context, phone string, balance decimal.Decimal) error
	MarkFunded(ctx context.Context, phone string, balance decimal.Decimal) error
	MarkActivatedNotFunded(ctx context.Context, phone, fundingError, fundingErrorCode string) error
	MarkFundingUnconfirmed(ctx context.Context, phone, fundingError, fundingErrorCode string) error
	Deactivate(ctx context.Context, phone string) (int64, error)
}

// Orchestrator is the single entry point used by the IVR and console adapters.
type Orchestrator struct {
	store    GiftStore
	gateway  Gateway
	activity activity.Recorder
	deadline time.Duration
}

// NewOrchestrator constructs an Orchestrator. deadline bounds one whole call, across all gateway round trips.
func NewOrchestrator(giftStore GiftStore, gw Gateway, recorder activity.Recorder, deadline time.Duration) *Orchestrator {
	if recorder == nil {
		recorder = activity.Discard{}
	}
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Orchestrator{store: giftStore, gateway: gw, activity: recorder, deadline: deadline}
}

// state is the orchestrator's view of a record.
type state int

const (
	stateUnknown state = iota
	statePending
	stateActiveUnfunded
	stateActiveUnconfirmed
	stateActiveFunded
)

func stateOf(gift *models.GiftRecord) state {
	switch gift.Status {
	case models.GiftStatusPending:
		return statePending
	case models.GiftStatusActive:
		switch gift.FundingStatus {
		case models.FundingStatusFunded:
			return stateActiveFunded
		case models.FundingStatusUnconfirmed:
			return stateActiveUnconfirmed
		default:
			return stateActiveUnfunded
		}
	default:
		return stateUnknown
	}
}

// ActivateByPhone activates and funds the card for rawPhone as its persisted state requires.
//
// The caller's cancellation is ignored once the call starts; the work is bounded by the
// orchestrator deadline so a hangup never abandons a gateway change without recording it.
func (o *Orchestrator) ActivateByPhone(ctx context.Context, rawPhone string) Result {
	res := o.activateByPhone(ctx, rawPhone)
	outcomesTotal.WithLabelValues("activate", string(res.Outcome)).Inc()
	return res
}

func (o *Orchestrator) activateByPhone(ctx context.Context, rawPhone string) Result {
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
		log.WithError(errFind).WithField("phone", normalized).Error("activation: load gift")
		return Result{Outcome: OutcomeError, Phone: normalized, Message: "gift lookup failed"}
	}

	run := &activationRun{o: o, gift: gift, phone: normalized, last4: security.CardLast4(gift.CardNumber)}
	switch stateOf(gift) {
	case stateActiveFunded:
		return run.settle(ctx)
	case stateActiveUnfunded:
		return run.retryFunding(ctx)
	case stateActiveUnconfirmed:
		return run.confirmFunding(ctx)
	case statePending:
		return run.firstActivation(ctx)
	default:
		log.WithFields(log.Fields{"phone": normalized, "status": gift.Status}).Error("activation: unknown gift status")
		return run.result(OutcomeError, "unknown gift status")
	}
}

// activationRun carries one call's record through the transitions.
type activationRun struct {
	o     *Orchestrator
	gift  *models.GiftRecord
	phone string
	last4 string
}

func (r *activationRun) result(outcome Outcome, message string) Result {
	return Result{Outcome: outcome, Phone: r.phone, Last4: r.last4, FundingStatus: r.gift.FundingStatus, Message: message}
}

// settle handles ACTIVE/FUNDED: refresh the cached balance from the gateway and report it.
func (r *activationRun) settle(ctx context.Context) Result {
	balance, errBalance := r.o.gateway.Balance(ctx, r.gift.CardNumber)
	if errBalance != nil {
		return r.gatewayFailure(errBalance, OutcomeError)
	}
	if errUpdate := r.o.store.UpdateBalance(ctx, r.phone, balance); errUpdate != nil {
		log.WithError(errUpdate).WithFields(r.logFields()).Warn("activation: refresh cached balance")
	}

	res := r.result(OutcomeAlreadyActive, "")
	res.FundingStatus = models.FundingStatusFunded
	res.Balance = decimalPtr(balance)
	r.record(ctx, activity.EventActivateAlreadyActive, activity.StatusSuccess,
		fmt.Sprintf("Gift card is already active with the balance of %s.", balance.StringFixed(2)), nil)
	return res
}

// retryFunding handles ACTIVE/not FUNDED: issue funds without re-activating.
func (r *activationRun) retryFunding(ctx context.Context) Result {
	return r.fund(ctx, OutcomeFundedSuccessfully)
}

// confirmFunding handles ACTIVE/UNCONFIRMED: a previous issue may have landed, so the gateway
// balance decides whether to issue again.
func (r *activationRun) confirmFunding(ctx context.Context) Result {
	amount := r.gift.FaceAmount
	balance, errBalance := r.o.gateway.Balance(ctx, r.gift.CardNumber)
	if errBalance != nil {
		res := r.gatewayFailure(errBalance, OutcomeError)
		res.Reconcile = true
		return res
	}
	if balance.GreaterThanOrEqual(amount) {
		log.WithFields(r.logFields()).Info("activation: unconfirmed issue had landed, marking funded")
		return r.funded(ctx, OutcomeFundedSuccessfully, amount, balance)
	}
	return r.fund(ctx, OutcomeFundedSuccessfully)
}

// firstActivation handles PENDING: activate, persist ACTIVE, then fund.
func (r *activationRun) firstActivation(ctx context.Context) Result {
	errActivate := r.o.gateway.Activate(ctx, r.gift.CardNumber)
	switch {
	case errActivate == nil:
	case gateway.IsAlreadyActive(errActivate):
		return r.reconcile(ctx)
	case gateway.IsTransport(errActivate):
		return r.gatewayFailure(errActivate, OutcomeActivationFailed)
	default:
		msg := gatewayMessage(errActivate)
		log.WithError(errActivate).WithFields(r.logFields()).Warn("activation: gateway declined activation")
		r.record(ctx, activity.EventActivationFailed, activity.StatusFailed, msg, nil)
		return r.result(OutcomeActivationFailed, msg)
	}

	if errPersist := r.o.store.Activate(ctx, r.phone); errPersist != nil {
		return r.reconcileRequired(ctx, "activate", errPersist)
	}
	r.gift.Status = models.GiftStatusActive
	return r.fund(ctx, OutcomeActivatedAndFunded)
}

// reconcile handles a gateway "already active" answer for a locally PENDING record.
// A positive gateway balance means the card was funded out of band, so the record is marked
// FUNDED to prevent a second issue. Otherwise it becomes ACTIVE and the next call funds it.
func (r *activationRun) reconcile(ctx context.Context) Result {
	log.WithFields(r.logFields()).Info("activation: card already active at gateway, reconciling")

	balance, errBalance := r.o.gateway.Balance(ctx, r.gift.CardNumber)
	if errBalance != nil {
		// Left PENDING: the next call reaches this path again instead of funding blind.
		return r.gatewayFailure(errBalance, OutcomeError)
	}

	res := r.result(OutcomeAlreadyActive, "")
	res.Balance = decimalPtr(balance)
	if balance.IsPositive() {
		if errPersist := r.o.store.MarkFunded(ctx, r.phone, balance); errPersist != nil {
			return r.reconcileRequired(ctx, "mark funded", errPersist)
		}
		res.FundingStatus = models.FundingStatusFunded
	} else {
		if errPersist := r.o.store.Activate(ctx, r.phone); errPersist != nil {
			return r.reconcileRequired(ctx, "activate", errPersist)
		}
		if errUpdate := r.o.store.UpdateBalance(ctx, r.phone, balance); errUpdate != nil {
			log.WithError(errUpdate).WithFields(r.logFields()).Warn("activation: refresh cached balance")
		}
	}
	r.record(ctx, activity.EventActivateAlreadyActive, activity.StatusSuccess,
		fmt.Sprintf("Gift card was already active at the gateway with the balance of %s.", balance.StringFixed(2)), nil)
	return res
}

// fund issues the face amount once and persists the result.
//
// Only a clear decline is recorded as NOT_FUNDED. Any other failure leaves the issue outcome
// unknown, so the gateway balance is read before anything is persisted.
func (r *activationRun) fund(ctx context.Context, success Outcome) Result {
	amount := r.gift.FaceAmount
	balance, errIssue := r.o.gateway.IssueFunds(ctx, r.gift.CardNumber, amount)
	if errIssue == nil {
		return r.funded(ctx, success, amount, balance)
	}
	if gateway.IsDeclined(errIssue) {
		return r.notFunded(ctx, errIssue, OutcomeActivatedNotFunded)
	}

	probed, errProbe := r.o.gateway.Balance(ctx, r.gift.CardNumber)
	if errProbe != nil {
		return r.fundingUnconfirmed(ctx, errIssue, errProbe)
	}
	if probed.GreaterThanOrEqual(amount) {
		log.WithError(errIssue).WithFields(r.logFields()).Warn("activation: issue failed but gateway balance shows funding")
		return r.funded(ctx, success, amount, probed)
	}

	outcome := OutcomeActivatedNotFunded
	switch {
	case gateway.IsTimeout(errIssue):
		outcome = OutcomeGatewayTimeout
	case gateway.IsUnavailable(errIssue):
		outcome = OutcomeGatewayUnavailable
	}
	return r.notFunded(ctx, errIssue, outcome)
}

// notFunded persists a funding failure the gateway balance confirms.
func (r *activationRun) notFunded(ctx context.Context, errIssue error, outcome Outcome) Result {
	fundingError := gatewayMessage(errIssue)
	fundingErrorCode := gatewayCode(errIssue)
	if errPersist := r.o.store.MarkActivatedNotFunded(ctx, r.phone, fundingError, fundingErrorCode); errPersist != nil {
		log.WithError(errPersist).WithFields(r.logFields()).Warn("activation: persist funding failure")
	}
	r.record(ctx, activity.EventFundingFailed, activity.StatusFailed, "Gift card activated but funding failed", map[string]any{
		"fundingError":     fundingError,
		"fundingErrorCode": fundingErrorCode,
	})

	res := r.result(outcome, "")
	res.FundingStatus = models.FundingStatusNotFunded
	res.FundingError = fundingError
	res.FundingErrorCode = fundingErrorCode
	return res
}

// fundingUnconfirmed records an issue whose outcome neither the issue reply nor a balance read
// could establish. The record is marked UNCONFIRMED so the next call checks the balance first.
func (r *activationRun) fundingUnconfirmed(ctx context.Context, errIssue, errProbe error) Result {
	fundingError := gatewayMessage(errIssue)
	fundingErrorCode := gatewayCode(errIssue)
	log.WithError(errIssue).WithFields(r.logFields()).WithField("balance_error", errProbe.Error()).
		Error("activation: issue outcome unknown, funding unconfirmed")

	if errPersist := r.o.store.MarkFundingUnconfirmed(ctx, r.phone, fundingError, fundingErrorCode); errPersist != nil {
		return r.reconcileRequired(ctx, "mark funding unconfirmed", errPersist)
	}
	r.record(ctx, activity.EventFundingUnconfirmed, activity.StatusFailed, "Funding result unknown, balance check required", map[string]any{
		"fundingError":     fundingError,
		"fundingErrorCode": fundingErrorCode,
		"balanceError":     gatewayMessage(errProbe),
	})

	outcome := OutcomeError
	switch {
	case gateway.IsTimeout(errIssue):
		outcome = OutcomeGatewayTimeout
	case gateway.IsUnavailable(errIssue):
		outcome = OutcomeGatewayUnavailable
	}
	res := r.result(outcome, "funding result unknown")
	res.FundingStatus = models.FundingStatusUnconfirmed
	res.FundingError = fundingError
	res.FundingErrorCode = fundingErrorCode
	res.Reconcile = true
	return res
}

func (r *activationRun) funded(ctx context.Context, success Outcome, amount, balance decimal.Decimal) Result {
	if errPersist := r.o.store.MarkFunded(ctx, r.phone, balance); errPersist != nil {
		return r.reconcileRequired(ctx, "mark funded", errPersist)
	}
	event, msg := activity.EventFundingSuccess, "Gift card funded successfully on retry"
	if success == OutcomeActivatedAndFunded {
		event, msg = activity.EventActivateSuccess, "Gift card activated and funded successfully"
	}
	r.record(ctx, event, activity.StatusSuccess, msg, nil)

	res := r.result(success, "")
	res.FundingStatus = models.FundingStatusFunded
	res.Amount = decimalPtr(amount)
	res.Balance = decimalPtr(balance)
	return res
}

// gatewayFailure maps a gateway error to an outcome, using fallback for non-transport failures.
func (r *activationRun) gatewayFailure(err error, fallback Outcome) Result {
	outcome := fallback
	switch {
	case gateway.IsTimeout(err):
		outcome = OutcomeGatewayTimeout
	case gateway.IsUnavailable(err):
		outcome = OutcomeGatewayUnavailable
	}
	log.WithError(err).WithFields(r.logFields()).WithField("outcome", outcome).Warn("activation: gateway call failed")
	return r.result(outcome, gatewayMessage(err))
}

// reconcileRequired reports a store write that failed after the gateway changed state.
// No compensating gateway call is made; money may already have moved.
func (r *activationRun) reconcileRequired(ctx context.Context, op string, err error) Result {
	return reconcileRequired(ctx, r.o.activity, r.phone, r.gift.CardNumber, op, err)
}

func reconcileRequired(ctx context.Context, rec activity.Recorder, phoneNumber, cardNumber, op string, err error) Result {
	last4 := security.CardLast4(cardNumber)
	log.WithError(err).WithFields(log.Fields{
		"phone": phoneNumber,
		"last4": last4,
		"op":    op,
	}).Error("activation: RECONCILE REQUIRED, gateway changed but store write failed")
	rec.Record(ctx, activity.Event{
		Type:       activity.EventReconcileRequired,
		Phone:      phoneNumber,
		CardNumber: cardNumber,
		Status:     activity.StatusFailed,
		Message:    fmt.Sprintf("store %s failed after gateway success", op),
		Metadata:   map[string]any{"error": err.Error()},
	})
	return Result{
		Outcome:   OutcomeError,
		Phone:     phoneNumber,
		Last4:     last4,
		Message:   fmt.Errorf("%w: %s: %v", ErrPersistence, op, err).Error(),
		Reconcile: true,
	}
}

func (r *activationRun) record(ctx context.Context, eventType, status, message string, metadata map[string]any) {
	r.o.activity.Record(ctx, activity.Event{
		Type:       eventType,
		Phone:      r.phone,
		CardNumber: r.gift.CardNumber,
		Status:     status,
		Message:    message,
		Metadata:   metadata,
	})
}

func (r *activationRun) logFields() log.Fields {
	return log.Fields{"phone": r.phone, "last4": r.last4}
}

func gatewayMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

func gatewayCode(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}
