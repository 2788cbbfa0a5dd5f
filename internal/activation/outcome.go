package activation

import (
	"github.com/shopspring/decimal"
	"github.com/solaivr/giftline/internal/models"
)

// Outcome is the terminal result of an orchestrator call.
type Outcome string

// Activation outcomes.
const (
	OutcomeNotFound           Outcome = "NOT_FOUND"
	OutcomeInvalidPhone       Outcome = "INVALID_PHONE"
	OutcomeAlreadyActive      Outcome = "ALREADY_ACTIVE"
	OutcomeFundedSuccessfully Outcome = "FUNDED_SUCCESSFULLY"
	OutcomeActivatedNotFunded Outcome = "ACTIVATED_NOT_FUNDED"
	OutcomeActivatedAndFunded Outcome = "ACTIVATED_AND_FUNDED"
	OutcomeActivationFailed   Outcome = "ACTIVATION_FAILED"
	OutcomeGatewayTimeout     Outcome = "GATEWAY_TIMEOUT"
	OutcomeGatewayUnavailable Outcome = "GATEWAY_UNAVAILABLE"
	OutcomeError              Outcome = "ERROR"
)

// Deactivation outcomes. NOT_FOUND, INVALID_PHONE, GATEWAY_* and ERROR are shared.
const (
	OutcomeDeactivated      Outcome = "DEACTIVATED"
	OutcomeRedeemFailed     Outcome = "REDEEM_FAILED"
	OutcomeDeactivateFailed Outcome = "DEACTIVATE_FAILED"
)

// Success reports whether o leaves the card in the state the caller asked for.
func (o Outcome) Success() bool {
	switch o {
	case OutcomeAlreadyActive, OutcomeFundedSuccessfully, OutcomeActivatedAndFunded, OutcomeDeactivated:
		return true
	default:
		return false
	}
}

// Result is returned by every orchestrator entry point. Card numbers never appear here; only Last4.
type Result struct {
	Outcome          Outcome
	Phone            string
	Last4            string
	Amount           *decimal.Decimal // Amount funded by this call.
	Balance          *decimal.Decimal // Gateway balance, when queried.
	RedeemedAmount   *decimal.Decimal // Amount redeemed before deactivation.
	FundingStatus    models.FundingStatus
	FundingError     string
	FundingErrorCode string
	Message          string // Gateway or persistence detail for failures.
	Reconcile        bool   // Gateway and store disagree; an operator must reconcile.
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
