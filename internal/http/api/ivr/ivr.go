// Package ivr renders the phone-tree dialog that verifies a caller and activates their gift card.
package ivr

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/abuse"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/phone"
)

const (
	enterPhonePath = "/ivr-enter-phone"
	verifyPath     = "/ivr-verify"
	defaultVoice   = "Polly.Joey"
	defaultWelcome = "Welcome to the gift card activation line."
)

// Activator runs the activation workflow for a phone number.
type Activator interface {
	ActivateByPhone(ctx context.Context, rawPhone string) activation.Result
}

// Options configures the spoken dialog.
type Options struct {
	Voice   string
	Welcome string
}

// Handler serves the IVR webhooks.
type Handler struct {
	guard     *abuse.Guard
	activator Activator
	activity  activity.Recorder
	voice     string
	welcome   string
}

// NewHandler constructs a Handler.
func NewHandler(guard *abuse.Guard, activator Activator, recorder activity.Recorder, opts Options) *Handler {
	if recorder == nil {
		recorder = activity.Discard{}
	}
	h := &Handler{guard: guard, activator: activator, activity: recorder, voice: opts.Voice, welcome: opts.Welcome}
	if h.voice == "" {
		h.voice = defaultVoice
	}
	if h.welcome == "" {
		h.welcome = defaultWelcome
	}
	return h
}

// RegisterIVRRoutes registers the IVR webhooks.
func RegisterIVRRoutes(r *gin.Engine, h *Handler) {
	if r == nil || h == nil {
		return
	}
	r.Any("/ivr", h.Entry)
	r.Any(enterPhonePath, h.EnterPhone)
	r.POST(verifyPath, h.Verify)
}

// Entry greets the caller after the per-phone rate limit check.
func (h *Handler) Entry(c *gin.Context) {
	ctx := c.Request.Context()
	caller := phone.Normalize(c.PostForm("From"))

	if caller != "" {
		limited, _ := h.guard.IsRateLimited(ctx, caller)
		if limited {
			h.record(ctx, activity.EventIVRRateLimit, caller, activity.StatusBlocked, "Exceeded call limit for the rate window")
			render(c,
				h.say("You have made too many calls in a short period of time. Please try again later."),
				hangup{},
			)
			return
		}
	}

	h.record(ctx, activity.EventIVREntry, caller, activity.StatusSuccess, "Caller entered IVR")
	render(c,
		phoneGather(verifyPath,
			h.say(h.welcome),
			pause{Length: 1},
			h.say("Please enter your phone number including the area code."),
		),
		redirect{URL: "/ivr"},
	)
}

// EnterPhone prompts for the phone number again after a failed entry.
func (h *Handler) EnterPhone(c *gin.Context) {
	render(c,
		phoneGather(verifyPath, h.say("Please enter your phone number including the area code.")),
		redirect{URL: enterPhonePath},
	)
}

// Verify checks the entered number against the caller id and activates the card.
func (h *Handler) Verify(c *gin.Context) {
	ctx := c.Request.Context()
	caller := phone.Normalize(c.PostForm("From"))
	entered := phone.Normalize(c.PostForm("Digits"))
	session := strings.TrimSpace(c.PostForm("CallSid"))
	if session == "" {
		session = uuid.NewString()
	}

	h.record(ctx, activity.EventIVRVerifyAttempt, caller, activity.StatusAttempt, "User entered phone number")

	if !phone.Valid(entered) {
		h.record(ctx, activity.EventIVRVerifyFailed, entered, activity.StatusFailed, "Invalid phone length")
		decision, _ := h.guard.IncrementRetry(ctx, session, abuse.RetryPhone)
		if decision.Locked {
			h.record(ctx, activity.EventIVRVerifyLockout, entered, activity.StatusLockedOut, "Max phone retries exceeded")
			render(c, h.say("You have exceeded the maximum number of attempts. Goodbye."), hangup{})
			return
		}
		render(c, h.say("Please enter a valid ten digit phone number."), redirect{URL: enterPhonePath})
		return
	}

	if entered != caller {
		h.record(ctx, activity.EventIVRVerifyFailed, entered, activity.StatusFailed, "Caller phone does not match entered phone")
		decision, _ := h.guard.IncrementRetry(ctx, session, abuse.RetrySecurity)
		if decision.Locked {
			h.record(ctx, activity.EventIVRVerifyLockout, entered, activity.StatusLockedOut, "Max security retries exceeded")
			render(c, h.say("This call cannot be completed from this phone number. Goodbye."), hangup{})
			return
		}
		render(c, h.say("Please call from the phone number associated with the gift card."), redirect{URL: enterPhonePath})
		return
	}

	h.record(ctx, activity.EventActivateAttempt, entered, activity.StatusAttempt, "Activation requested")
	res := h.activator.ActivateByPhone(ctx, entered)
	if errClear := h.guard.Clear(ctx, session); errClear != nil {
		log.WithError(errClear).Warn("ivr: clear retry counters")
	}
	h.speakResult(c, res)
}

func (h *Handler) speakResult(c *gin.Context, res activation.Result) {
	ending := spellDigits(res.Last4)
	switch res.Outcome {
	case activation.OutcomeActivatedAndFunded:
		render(c, h.say(fmt.Sprintf("Your gift card ending in %s has been activated successfully and loaded with %s.",
			ending, speakAmount(amountOf(res)))))
	case activation.OutcomeFundedSuccessfully:
		render(c, h.say(fmt.Sprintf("%s has been funded successfully.", speakAmount(amountOf(res)))))
	case activation.OutcomeActivatedNotFunded:
		text := "Your gift card was activated successfully. However, funding could not be completed."
		if res.FundingError != "" {
			text += fmt.Sprintf(" Reason: %s.", res.FundingError)
		}
		render(c, h.say(text+" Please call back shortly. Goodbye."), hangup{})
	case activation.OutcomeAlreadyActive:
		render(c, h.say(fmt.Sprintf("Your gift card ending in %s is already active. Your current balance is %s.",
			ending, speakAmount(amountOf(res)))))
	case activation.OutcomeNotFound:
		render(c, h.say("We could not find a gift card for this phone number. Goodbye."), hangup{})
	case activation.OutcomeActivationFailed:
		text := fmt.Sprintf("We could not activate your gift card ending in %s.", ending)
		if res.Message != "" {
			text += fmt.Sprintf(" Reason: %s.", res.Message)
		}
		render(c, h.say(text+" Please contact support. Goodbye."), hangup{})
	case activation.OutcomeError:
		render(c, h.say("We could not complete your request right now. Please try again later. Goodbye."), hangup{})
	case activation.OutcomeGatewayTimeout, activation.OutcomeGatewayUnavailable:
		render(c, h.say("The card service is not responding right now. Please try again later. Goodbye."), hangup{})
	default:
		log.WithFields(log.Fields{"phone": res.Phone, "outcome": res.Outcome}).Warn("ivr: unhandled activation outcome")
		render(c, h.say(fmt.Sprintf(
			"We could not process your request due to an unexpected system response. Error code %s.",
			strings.ReplaceAll(string(res.Outcome), "_", " "),
		)), hangup{})
	}
}

// amountOf picks the figure to speak: the loaded amount when present, otherwise the balance.
func amountOf(res activation.Result) decimal.Decimal {
	switch {
	case res.Amount != nil:
		return *res.Amount
	case res.Balance != nil:
		return *res.Balance
	default:
		return decimal.Zero
	}
}

func (h *Handler) record(ctx context.Context, eventType, phoneNumber, status, message string) {
	h.activity.Record(ctx, activity.Event{Type: eventType, Phone: phoneNumber, Status: status, Message: message})
}
