// Package gateway wraps the card-processing gateway's gift commands behind typed results.
// The client performs no retries; retry policy belongs to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 12 * time.Second
	maxResponseBytes = 64 << 10
)

// Config configures a Client.
type Config struct {
	Endpoint             string
	Key                  string
	Version              string
	SoftwareName         string
	SoftwareVersion      string
	Timeout              time.Duration // Per call.
	AlreadyActiveCodes   []string
	AlreadyInactiveCodes []string
}

// Client calls the gateway over HTTP JSON.
type Client struct {
	cfg             Config
	httpClient      *http.Client
	alreadyActive   map[string]struct{}
	alreadyInactive map[string]struct{}
}

// NewClient constructs a Client. A nil httpClient uses a dedicated client with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:             cfg,
		httpClient:      httpClient,
		alreadyActive:   codeSet(cfg.AlreadyActiveCodes),
		alreadyInactive: codeSet(cfg.AlreadyInactiveCodes),
	}
}

// Activate activates a card. A card that is already active yields an error of KindAlreadyActive.
func (c *Client) Activate(ctx context.Context, cardNumber string) error {
	resp, err := c.do(ctx, c.newRequest(CommandActivate, cardNumber))
	if err != nil {
		return err
	}
	if resp.approved() {
		return nil
	}
	gwErr := declined(CommandActivate, resp, "Activation failed")
	if c.matches(resp, c.alreadyActive, "already active") {
		gwErr.Kind = KindAlreadyActive
	}
	return gwErr
}

// IssueFunds loads amount onto the card and returns the new balance.
// Duplicate issues of the same amount are allowed at the gateway; the caller prevents double funding.
func (c *Client) IssueFunds(ctx context.Context, cardNumber string, amount decimal.Decimal) (decimal.Decimal, error) {
	req := c.newRequest(CommandIssue, cardNumber)
	req.Amount = formatAmount(amount)
	req.AllowDuplicate = "TRUE"

	resp, err := c.do(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.approved() {
		return decimal.Zero, declined(CommandIssue, resp, "Funding failed")
	}

	if balance, ok, errBalance := resp.balance(); errBalance == nil && ok {
		return balance, nil
	}
	balance, errBalance := c.Balance(ctx, cardNumber)
	if errBalance != nil {
		// Funds moved; a failed follow-up read must not turn the issue into a failure.
		log.WithError(errBalance).WithField("command", CommandIssue).Warn("gateway: balance after issue unavailable, using issued amount")
		return amount, nil
	}
	return balance, nil
}

// Balance returns the card's remaining balance.
func (c *Client) Balance(ctx context.Context, cardNumber string) (decimal.Decimal, error) {
	resp, err := c.do(ctx, c.newRequest(CommandBalance, cardNumber))
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.approved() {
		return decimal.Zero, declined(CommandBalance, resp, "Balance inquiry failed")
	}
	balance, _, errBalance := resp.balance()
	if errBalance != nil {
		return decimal.Zero, &Error{Kind: KindMalformed, Command: CommandBalance, Message: errBalance.Error(), Err: errBalance}
	}
	return balance, nil
}

// Deactivate deactivates a card. A card that is already inactive counts as success.
func (c *Client) Deactivate(ctx context.Context, cardNumber string) error {
	resp, err := c.do(ctx, c.newRequest(CommandDeactivate, cardNumber))
	if err != nil {
		return err
	}
	if resp.approved() || c.matches(resp, c.alreadyInactive, "already inactive") {
		return nil
	}
	return declined(CommandDeactivate, resp, "Deactivation failed")
}

// Redeem debits amount from the card, floored to whole cents.
func (c *Client) Redeem(ctx context.Context, cardNumber string, amount decimal.Decimal) error {
	req := c.newRequest(CommandRedeem, cardNumber)
	req.Amount = formatAmount(FloorToCents(amount))

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.approved() {
		return declined(CommandRedeem, resp, "Redeem failed")
	}
	return nil
}

func (c *Client) newRequest(cmd Command, cardNumber string) request {
	return request{
		Command:         cmd,
		Version:         c.cfg.Version,
		SoftwareName:    c.cfg.SoftwareName,
		SoftwareVersion: c.cfg.SoftwareVersion,
		Key:             c.cfg.Key,
		CardNum:         strings.TrimSpace(cardNumber),
	}
}

func (c *Client) do(ctx context.Context, req request) (resp response, err error) {
	start := time.Now()
	defer func() { observe(req.Command, time.Since(start).Seconds(), resp, err) }()

	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, errMarshal := json.Marshal(req)
	if errMarshal != nil {
		return response{}, fmt.Errorf("gateway: marshal %s: %w", req.Command, errMarshal)
	}
	httpReq, errReq := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if errReq != nil {
		return response{}, fmt.Errorf("gateway: build %s request: %w", req.Command, errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		return response{}, transportError(req.Command, errDo)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, errRead := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if errRead != nil {
		return response{}, transportError(req.Command, errRead)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError || httpResp.StatusCode == http.StatusTooManyRequests {
		return response{}, &Error{Kind: KindUnavailable, Command: req.Command, Message: fmt.Sprintf("http status %d", httpResp.StatusCode)}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return response{}, &Error{Kind: KindMalformed, Command: req.Command, Message: fmt.Sprintf("http status %d", httpResp.StatusCode)}
	}
	return decodeResponse(req.Command, body)
}

func transportError(cmd Command, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Command: cmd, Message: "gateway did not respond in time", Err: err}
	}
	return &Error{Kind: KindUnavailable, Command: cmd, Message: "gateway unreachable", Err: err}
}

func declined(cmd Command, resp response, fallback string) *Error {
	msg := strings.TrimSpace(string(resp.Error))
	if msg == "" {
		msg = fallback
	}
	return &Error{
		Kind:    KindDeclined,
		Command: cmd,
		Code:    strings.TrimSpace(string(resp.ErrorCode)),
		Message: msg,
	}
}

// matches reports whether a declined response carries one of codes or mentions phrase.
func (c *Client) matches(resp response, codes map[string]struct{}, phrase string) bool {
	if code := strings.TrimSpace(string(resp.ErrorCode)); code != "" {
		if _, ok := codes[code]; ok {
			return true
		}
	}
	return strings.Contains(strings.ToLower(string(resp.Error)), phrase)
}

func codeSet(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}
