package ivr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/solaivr/giftline/internal/abuse"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/activity"
)

type stubActivator struct {
	mu     sync.Mutex
	phones []string
	result activation.Result
}

func (s *stubActivator) ActivateByPhone(_ context.Context, rawPhone string) activation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones = append(s.phones, rawPhone)
	return s.result
}

type recordingActivity struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordingActivity) Record(_ context.Context, ev activity.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingActivity) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

type ivrFixture struct {
	router    *gin.Engine
	activator *stubActivator
	activity  *recordingActivity
}

func newIVRFixture(result activation.Result) *ivrFixture {
	gin.SetMode(gin.TestMode)
	limits := abuse.Limits{
		MaxCalls:           5,
		RateWindow:         30 * time.Minute,
		MaxPhoneRetries:    3,
		MaxSecurityRetries: 2,
		SessionTTL:         15 * time.Minute,
	}
	guard := abuse.NewGuard(abuse.NewMemoryCounterStore(), func() abuse.Limits { return limits }, abuse.FailOpen)
	f := &ivrFixture{
		router:    gin.New(),
		activator: &stubActivator{result: result},
		activity:  &recordingActivity{},
	}
	RegisterIVRRoutes(f.router, NewHandler(guard, f.activator, f.activity, Options{}))
	return f
}

func (f *ivrFixture) post(t *testing.T, path string, form url.Values) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s: expected status 200, got %d", path, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("%s: expected text/xml, got %q", path, ct)
	}
	return rec.Body.String()
}

func verifyForm(callSid, from, digits string) url.Values {
	return url.Values{"CallSid": {callSid}, "From": {from}, "Digits": {digits}}
}

func TestEntryGathersPhone(t *testing.T) {
	f := newIVRFixture(activation.Result{})
	body := f.post(t, "/ivr", url.Values{"From": {"+17185550142"}})
	if !strings.Contains(body, `<Gather input="dtmf" numDigits="10"`) || !strings.Contains(body, `action="/ivr-verify"`) {
		t.Fatalf("expected gather prompt, got %s", body)
	}
	if !f.activity.has(activity.EventIVREntry) {
		t.Fatal("expected IVR_ENTRY activity")
	}
}

func TestEntryRateLimitsSixthCall(t *testing.T) {
	f := newIVRFixture(activation.Result{})
	for i := 0; i < 5; i++ {
		if body := f.post(t, "/ivr", url.Values{"From": {"+17185550142"}}); strings.Contains(body, "too many calls") {
			t.Fatalf("call %d unexpectedly limited", i+1)
		}
	}
	body := f.post(t, "/ivr", url.Values{"From": {"+17185550142"}})
	if !strings.Contains(body, "too many calls") || !strings.Contains(body, "<Hangup>") {
		t.Fatalf("expected rate limit hangup, got %s", body)
	}
	if !f.activity.has(activity.EventIVRRateLimit) {
		t.Fatal("expected IVR_RATE_LIMIT activity")
	}
}

func TestVerifyLocksOutAfterThreeBadEntries(t *testing.T) {
	f := newIVRFixture(activation.Result{})
	for i := 0; i < 2; i++ {
		body := f.post(t, "/ivr-verify", verifyForm("CA1", "+17185550142", "555"))
		if !strings.Contains(body, "valid ten digit") || !strings.Contains(body, "/ivr-enter-phone") {
			t.Fatalf("entry %d: expected retry prompt, got %s", i+1, body)
		}
	}
	body := f.post(t, "/ivr-verify", verifyForm("CA1", "+17185550142", "555"))
	if !strings.Contains(body, "exceeded the maximum number of attempts") {
		t.Fatalf("expected lockout, got %s", body)
	}
	if !f.activity.has(activity.EventIVRVerifyLockout) {
		t.Fatal("expected IVR_VERIFY_LOCKOUT activity")
	}

	// Lockout cleared the session, so the same call starts at zero.
	body = f.post(t, "/ivr-verify", verifyForm("CA1", "+17185550142", "555"))
	if !strings.Contains(body, "valid ten digit") {
		t.Fatalf("expected counters reset after lockout, got %s", body)
	}
}

func TestVerifyLocksOutAfterTwoCallerMismatches(t *testing.T) {
	f := newIVRFixture(activation.Result{})
	body := f.post(t, "/ivr-verify", verifyForm("CA2", "+17185550142", "2125550100"))
	if !strings.Contains(body, "associated with the gift card") {
		t.Fatalf("expected mismatch prompt, got %s", body)
	}
	body = f.post(t, "/ivr-verify", verifyForm("CA2", "+17185550142", "2125550100"))
	if !strings.Contains(body, "cannot be completed from this phone number") {
		t.Fatalf("expected security lockout, got %s", body)
	}
	if len(f.activator.phones) != 0 {
		t.Fatalf("activator must not be called, got %v", f.activator.phones)
	}
}

func TestVerifyActivatesMatchingCaller(t *testing.T) {
	amount := decimal.RequireFromString("25.50")
	f := newIVRFixture(activation.Result{
		Outcome: activation.OutcomeActivatedAndFunded,
		Last4:   "0042",
		Amount:  &amount,
	})

	body := f.post(t, "/ivr-verify", verifyForm("CA3", "+17185550142", "7185550142"))
	if !strings.Contains(body, "ending in 0 0 4 2 has been activated successfully") {
		t.Fatalf("unexpected prompt %s", body)
	}
	if !strings.Contains(body, "twenty five dollars and fifty cents") {
		t.Fatalf("expected spoken amount, got %s", body)
	}
	if len(f.activator.phones) != 1 || f.activator.phones[0] != "7185550142" {
		t.Fatalf("unexpected activator calls %v", f.activator.phones)
	}
	if !f.activity.has(activity.EventActivateAttempt) {
		t.Fatal("expected ACTIVATE_ATTEMPT activity")
	}
}

func TestVerifyEscapesFundingError(t *testing.T) {
	f := newIVRFixture(activation.Result{
		Outcome:      activation.OutcomeActivatedNotFunded,
		Last4:        "0042",
		FundingError: "Limit <exceeded> & retry",
	})
	body := f.post(t, "/ivr-verify", verifyForm("CA4", "7185550142", "7185550142"))
	if !strings.Contains(body, "Limit &lt;exceeded&gt; &amp; retry") {
		t.Fatalf("expected escaped reason, got %s", body)
	}
	if !strings.Contains(body, "<Hangup>") {
		t.Fatalf("expected hangup, got %s", body)
	}
}

func TestVerifySpeaksActivationFailure(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	f := newIVRFixture(activation.Result{Outcome: activation.OutcomeActivationFailed, Last4: "0042", Message: "Invalid Card"})
	body := f.post(t, "/ivr-verify", verifyForm("CA5", "7185550142", "7185550142"))
	if !strings.Contains(body, "could not activate your gift card ending in 0 0 4 2") || !strings.Contains(body, "Invalid Card") {
		t.Fatalf("unexpected prompt %s", body)
	}
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "unhandled activation outcome") {
			t.Fatalf("ACTIVATION_FAILED must not be logged as unhandled")
		}
	}
}

func TestVerifySpeaksUnexpectedOutcome(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	f := newIVRFixture(activation.Result{Outcome: activation.Outcome("SOMETHING_NEW")})
	body := f.post(t, "/ivr-verify", verifyForm("CA6", "7185550142", "7185550142"))
	if !strings.Contains(body, "Error code SOMETHING NEW") {
		t.Fatalf("unexpected prompt %s", body)
	}
	found := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "unhandled activation outcome") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an unknown outcome to be logged as unhandled")
	}
}

func TestSpeakAmount(t *testing.T) {
	cases := map[string]string{
		"0":       "zero dollars",
		"5":       "five dollars",
		"25.5":    "twenty five dollars and fifty cents",
		"100.01":  "one hundred dollars and one cents",
		"1250":    "one thousand two hundred fifty dollars",
		"19.999":  "nineteen dollars and ninety nine cents",
		"-3":      "zero dollars",
		"340.40":  "three hundred forty dollars and forty cents",
		"2000.00": "two thousand dollars",
	}
	for in, want := range cases {
		if got := speakAmount(decimal.RequireFromString(in)); got != want {
			t.Fatalf("speakAmount(%s) = %q, want %q", in, got, want)
		}
	}
}
