package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Command is a gateway xCommand value.
type Command string

// Gateway commands.
const (
	CommandActivate   Command = "gift:activate"
	CommandIssue      Command = "gift:issue"
	CommandBalance    Command = "gift:balance"
	CommandDeactivate Command = "gift:deactivate"
	CommandRedeem     Command = "gift:redeem"
)

// Gateway xResult values.
const (
	resultApproved = "A"
	resultDeclined = "D"
	resultError    = "E"
)

type request struct {
	Command         Command `json:"xCommand"`
	Version         string  `json:"xVersion"`
	SoftwareName    string  `json:"xSoftwareName"`
	SoftwareVersion string  `json:"xSoftwareVersion"`
	Key             string  `json:"xKey"`
	CardNum         string  `json:"xCardNum"`
	Amount          string  `json:"xAmount,omitempty"`
	AllowDuplicate  string  `json:"xAllowDuplicate,omitempty"`
}

type response struct {
	Result           flexString `json:"xResult"`
	Status           flexString `json:"xStatus"`
	Error            flexString `json:"xError"`
	ErrorCode        flexString `json:"xErrorCode"`
	RefNum           flexString `json:"xRefNum"`
	RemainingBalance flexString `json:"xRemainingBalance"`
}

func (r response) approved() bool { return string(r.Result) == resultApproved }

// balance parses xRemainingBalance. ok is false when the field is absent.
func (r response) balance() (decimal.Decimal, bool, error) {
	raw := strings.TrimSpace(string(r.RemainingBalance))
	if raw == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("xRemainingBalance %q: %w", raw, err)
	}
	return d, true, nil
}

// decodeResponse parses a gateway body and rejects shapes the client does not understand.
func decodeResponse(cmd Command, body []byte) (response, error) {
	var resp response
	if errUnmarshal := json.Unmarshal(body, &resp); errUnmarshal != nil {
		return response{}, &Error{Kind: KindMalformed, Command: cmd, Message: "invalid response body", Err: errUnmarshal}
	}
	switch string(resp.Result) {
	case resultApproved, resultDeclined, resultError:
	default:
		return response{}, &Error{Kind: KindMalformed, Command: cmd, Message: fmt.Sprintf("unexpected xResult %q", string(resp.Result))}
	}
	if resp.approved() && cmd == CommandBalance {
		if _, ok, errBalance := resp.balance(); errBalance != nil || !ok {
			msg := "missing xRemainingBalance"
			if errBalance != nil {
				msg = errBalance.Error()
			}
			return response{}, &Error{Kind: KindMalformed, Command: cmd, Message: msg, Err: errBalance}
		}
	}
	return resp, nil
}

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// FloorToCents truncates d toward negative infinity at two decimal places.
func FloorToCents(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Floor().Shift(-2)
}

// formatAmount renders d with exactly two decimal places.
func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
