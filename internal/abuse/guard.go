package abuse

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// FailureMode decides the answer when the counter store is unreachable.
type FailureMode int

const (
	// FailOpen admits the caller when counters cannot be read.
	FailOpen FailureMode = iota
	// FailClosed rejects the caller when counters cannot be read.
	FailClosed
)

// RetryKind names an independently tracked per-call retry counter.
type RetryKind string

const (
	// RetryPhone counts entries that did not normalize to 10 digits.
	RetryPhone RetryKind = "PHONE"
	// RetrySecurity counts entries that did not match the caller id.
	RetrySecurity RetryKind = "SECURITY"
)

// Limits are the thresholds the Guard enforces.
type Limits struct {
	MaxCalls           int
	RateWindow         time.Duration
	MaxPhoneRetries    int
	MaxSecurityRetries int
	SessionTTL         time.Duration // Expiry for abandoned call sessions.
}

// RetryDecision reports a retry counter after an increment.
type RetryDecision struct {
	Count  int64
	Max    int
	Locked bool // The session reached Max and its counters were cleared.
}

// Guard gates the IVR channel with a per-phone rate limit and per-call retry counters.
type Guard struct {
	store  CounterStore
	limits func() Limits
	mode   FailureMode
}

// NewGuard constructs a Guard. limits is read on every check so runtime overrides apply immediately.
func NewGuard(store CounterStore, limits func() Limits, mode FailureMode) *Guard {
	return &Guard{store: store, limits: limits, mode: mode}
}

// IsRateLimited counts a call from phone and reports whether it exceeds the window's allowance.
// The first call outside an elapsed window starts a new window at 1.
func (g *Guard) IsRateLimited(ctx context.Context, phone string) (bool, error) {
	limits := g.limits()
	count, err := g.store.Incr(ctx, rateKey(phone), limits.RateWindow)
	if err != nil {
		limited := g.mode == FailClosed
		log.WithError(err).WithField("limited", limited).Warn("abuse: rate limit store unavailable")
		return limited, err
	}
	return count > int64(limits.MaxCalls), nil
}

// IncrementRetry records one failure of kind for session. Reaching the kind's maximum locks the
// call out and clears every counter for the session, so a fresh call starts at zero.
// Counters of different kinds never reset each other.
func (g *Guard) IncrementRetry(ctx context.Context, session string, kind RetryKind) (RetryDecision, error) {
	limits := g.limits()
	decision := RetryDecision{Max: limits.MaxPhoneRetries}
	if kind == RetrySecurity {
		decision.Max = limits.MaxSecurityRetries
	}

	count, err := g.store.Incr(ctx, retryKey(session, kind), limits.SessionTTL)
	if err != nil {
		decision.Locked = g.mode == FailClosed
		log.WithError(err).WithField("locked", decision.Locked).Warn("abuse: retry store unavailable")
		return decision, err
	}
	decision.Count = count
	if count >= int64(decision.Max) {
		decision.Locked = true
		if errClear := g.Clear(ctx, session); errClear != nil {
			log.WithError(errClear).Warn("abuse: clear locked session")
		}
	}
	return decision, nil
}

// Retries returns the current count of kind for session.
func (g *Guard) Retries(ctx context.Context, session string, kind RetryKind) (int64, error) {
	return g.store.Get(ctx, retryKey(session, kind))
}

// Clear drops every retry counter for session.
func (g *Guard) Clear(ctx context.Context, session string) error {
	return g.store.Delete(ctx, retryKey(session, RetryPhone), retryKey(session, RetrySecurity))
}

func rateKey(phone string) string {
	return "ivr:rate:" + phone
}

func retryKey(session string, kind RetryKind) string {
	return "ivr:retry:" + session + ":" + string(kind)
}
