package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/solaivr/giftline/internal/abuse"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/config"
	"github.com/solaivr/giftline/internal/db"
	"github.com/solaivr/giftline/internal/http/api/admin/handlers"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/store"
	"gorm.io/gorm"
)

const (
	testUsername = "ops"
	testPassword = "correct horse"
	testPIN      = "4321"
	testCard     = "6011000000000004"
	testPhone    = "7185550142"
)

type stubOrchestrator struct {
	mu          sync.Mutex
	activated   []string
	deactivated []string
	activate    activation.Result
	deactivate  activation.Result
}

func (s *stubOrchestrator) ActivateByPhone(_ context.Context, rawPhone string) activation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = append(s.activated, rawPhone)
	return s.activate
}

func (s *stubOrchestrator) DeactivateByPhone(_ context.Context, rawPhone string) activation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, rawPhone)
	res := s.deactivate
	res.Phone = rawPhone
	return res
}

type recordingNotifier struct {
	mu      sync.Mutex
	sources []string
}

func (n *recordingNotifier) NotifyLockout(_ context.Context, source, _ string, _ int64) {
	n.mu.Lock()
	n.sources = append(n.sources, source)
	n.mu.Unlock()
}

type adminFixture struct {
	conn         *gorm.DB
	router       *gin.Engine
	gifts        *store.GormGiftStore
	orchestrator *stubOrchestrator
	notifier     *recordingNotifier
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:admin_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if errAdmin := handlers.EnsureBootstrapAdmin(context.Background(), conn, testUsername, testPassword); errAdmin != nil {
		t.Fatalf("bootstrap admin: %v", errAdmin)
	}

	f := &adminFixture{
		conn:         conn,
		router:       gin.New(),
		gifts:        store.NewGormGiftStore(conn),
		orchestrator: &stubOrchestrator{},
		notifier:     &recordingNotifier{},
	}
	lockout := abuse.NewLoginLockout(abuse.NewMemoryCounterStore(), func() int { return 3 }, 30*time.Minute)
	RegisterAdminRoutes(f.router, Deps{
		DB:           conn,
		JWT:          config.JWTConfig{Secret: "test-secret", Expiry: time.Hour},
		Gifts:        f.gifts,
		Orchestrator: f.orchestrator,
		Activity:     activity.NewLogger(conn),
		Lockout:      lockout,
		Notifier:     f.notifier,
		UnmaskPIN:    testPIN,
		Pinger:       f.gifts,
	})
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	}
	return rec, payload
}

func (f *adminFixture) login(t *testing.T) string {
	t.Helper()
	rec, payload := f.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": testUsername, "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("login: missing token in %v", payload)
	}
	return token
}

func (f *adminFixture) seedGift(t *testing.T) {
	t.Helper()
	if _, errCreate := f.gifts.Create(context.Background(), testPhone, testCard, decimal.NewFromInt(25)); errCreate != nil {
		t.Fatalf("seed gift: %v", errCreate)
	}
}

func TestLoginIssuesTokenAccepted(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)

	rec, payload := f.do(t, http.MethodGet, "/admin/me", token, nil)
	if rec.Code != http.StatusOK || payload["username"] != testUsername {
		t.Fatalf("me: expected admin, got %d %v", rec.Code, payload)
	}

	var admin models.Admin
	if errFind := f.conn.Where("username = ?", testUsername).First(&admin).Error; errFind != nil {
		t.Fatalf("load admin: %v", errFind)
	}
	if admin.LastLoginAt == nil {
		t.Fatal("expected last login to be stamped")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newAdminFixture(t)
	if rec, _ := f.do(t, http.MethodGet, "/admin/gifts", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/admin/gifts", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestLoginLocksOutAfterRepeatedFailures(t *testing.T) {
	f := newAdminFixture(t)
	for i := 0; i < 3; i++ {
		rec, _ := f.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": testUsername, "password": "wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	if len(f.notifier.sources) != 1 {
		t.Fatalf("expected one lockout notification, got %v", f.notifier.sources)
	}

	rec, _ := f.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": testUsername, "password": testPassword})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected locked source to get 429, got %d", rec.Code)
	}
}

func TestGiftByPhoneMasksCard(t *testing.T) {
	f := newAdminFixture(t)
	f.seedGift(t)
	token := f.login(t)

	rec, payload := f.do(t, http.MethodGet, "/admin/gift-by-phone?phone=1-718-555-0142", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	gift, _ := payload["gift"].(map[string]any)
	if gift["maskedCard"] != "6011********0004" || gift["status"] != "PENDING" || gift["amount"] != "25.00" {
		t.Fatalf("unexpected gift view %v", gift)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(testCard)) {
		t.Fatal("full card number leaked in lookup")
	}

	if rec, _ := f.do(t, http.MethodGet, "/admin/gift-by-phone?phone=2125550100", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/admin/gift-by-phone?phone=12", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAndListGifts(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)

	rec, payload := f.do(t, http.MethodPost, "/admin/gifts", token, gin.H{"phone": "(212) 555-0100", "cardNumber": "4111111111111111", "faceAmount": "50"})
	if rec.Code != http.StatusCreated || payload["fundingStatus"] != "PENDING" {
		t.Fatalf("create: expected 201 PENDING, got %d %v", rec.Code, payload)
	}
	rec, _ = f.do(t, http.MethodPost, "/admin/gifts", token, gin.H{"phone": "2125550100", "cardNumber": "4111111111111112", "faceAmount": "50"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}
	rec, _ = f.do(t, http.MethodPost, "/admin/gifts", token, gin.H{"phone": "2125550101", "cardNumber": "4111111111111113", "faceAmount": "-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad amount: expected 400, got %d", rec.Code)
	}
	f.seedGift(t)

	rec, payload = f.do(t, http.MethodGet, "/admin/gifts?phone=555-01", token, nil)
	if rec.Code != http.StatusOK || payload["total"] != float64(2) {
		t.Fatalf("list: expected 2 gifts, got %d %v", rec.Code, payload)
	}
	rec, payload = f.do(t, http.MethodGet, "/admin/gifts?phone=2125", token, nil)
	if rec.Code != http.StatusOK || payload["total"] != float64(1) {
		t.Fatalf("list by phone: expected 1 gift, got %v", payload)
	}
	if rec, _ := f.do(t, http.MethodGet, "/admin/gifts?status=BOGUS", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", rec.Code)
	}
}

func TestUnmaskCardRequiresPIN(t *testing.T) {
	f := newAdminFixture(t)
	f.seedGift(t)
	token := f.login(t)

	if rec, _ := f.do(t, http.MethodPost, "/admin/unmask-card", token, gin.H{"phone": testPhone, "pin": "0000"}); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong pin: expected 403, got %d", rec.Code)
	}
	rec, payload := f.do(t, http.MethodPost, "/admin/unmask-card", token, gin.H{"phone": testPhone, "pin": testPIN})
	if rec.Code != http.StatusOK || payload["fullCard"] != testCard {
		t.Fatalf("expected full card, got %d %v", rec.Code, payload)
	}
}

func TestUnmaskCardRequiresTOTPWhenEnrolled(t *testing.T) {
	f := newAdminFixture(t)
	f.seedGift(t)
	token := f.login(t)

	rec, payload := f.do(t, http.MethodPost, "/admin/mfa/totp/prepare", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: expected 200, got %d", rec.Code)
	}
	secret, _ := payload["secret"].(string)
	code, errCode := totp.GenerateCode(secret, time.Now())
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}
	if rec, _ := f.do(t, http.MethodPost, "/admin/mfa/totp/confirm", token, gin.H{"code": code}); rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", rec.Code)
	}

	if rec, _ := f.do(t, http.MethodPost, "/admin/unmask-card", token, gin.H{"phone": testPhone, "pin": testPIN}); rec.Code != http.StatusForbidden {
		t.Fatalf("pin must not be accepted once totp is enrolled, got %d", rec.Code)
	}
	rec, payload = f.do(t, http.MethodPost, "/admin/unmask-card", token, gin.H{"phone": testPhone, "code": code})
	if rec.Code != http.StatusOK || payload["fullCard"] != testCard {
		t.Fatalf("expected full card with totp, got %d %v", rec.Code, payload)
	}
}

func TestToggleGiftDelegatesToOrchestrator(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)
	redeemed := decimal.RequireFromString("12.34")
	f.orchestrator.activate = activation.Result{Outcome: activation.OutcomeActivatedAndFunded, Last4: "0004"}
	f.orchestrator.deactivate = activation.Result{
		Outcome:        activation.OutcomeDeactivated,
		Message:        "Gift card deactivated and 12.34 balance was redeemed.",
		RedeemedAmount: &redeemed,
	}

	rec, payload := f.do(t, http.MethodPost, "/admin/toggle-gift", token, gin.H{"phone": testPhone, "action": "activate"})
	if rec.Code != http.StatusOK || payload["status"] != "ACTIVATED_AND_FUNDED" {
		t.Fatalf("activate: unexpected %d %v", rec.Code, payload)
	}
	if payload["message"] != "Gift card was activated and funded successfully." {
		t.Fatalf("activate: unexpected message %v", payload["message"])
	}

	rec, payload = f.do(t, http.MethodPost, "/admin/toggle-gift", token, gin.H{"phone": testPhone, "action": "deactivate"})
	if rec.Code != http.StatusOK || payload["status"] != "DEACTIVATED" {
		t.Fatalf("deactivate: unexpected %d %v", rec.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if details["redeemedAmount"] != "12.34" {
		t.Fatalf("deactivate: expected redeemedAmount, got %v", details)
	}

	if rec, _ := f.do(t, http.MethodPost, "/admin/toggle-gift", token, gin.H{"phone": testPhone, "action": "explode"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: expected 400, got %d", rec.Code)
	}
}

func TestToggleGiftRedeemFailureIsBadGateway(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)
	f.orchestrator.deactivate = activation.Result{
		Outcome: activation.OutcomeRedeemFailed,
		Message: "Unable to redeem remaining balance. Card was not deactivated.",
	}

	rec, payload := f.do(t, http.MethodPost, "/admin/toggle-gift", token, gin.H{"phone": testPhone, "action": "deactivate"})
	if rec.Code != http.StatusBadGateway || payload["status"] != "REDEEM_FAILED" {
		t.Fatalf("expected 502 REDEEM_FAILED, got %d %v", rec.Code, payload)
	}
}

func TestBulkDeactivateReportsPerItem(t *testing.T) {
	f := newAdminFixture(t)
	f.seedGift(t)
	token := f.login(t)
	f.orchestrator.deactivate = activation.Result{Outcome: activation.OutcomeDeactivated}

	rec, payload := f.do(t, http.MethodPost, "/admin/bulk-deactivate", token, gin.H{"items": []gin.H{
		{"phone": testPhone, "cardNumber": testCard},
		{"phone": testPhone, "cardNumber": testCard},
		{"phone": "2125550100", "cardNumber": "4111111111111111"},
		{"phone": "123", "cardNumber": "4111111111111111"},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["deactivated"] != float64(1) || payload["failed"] != float64(1) || payload["skipped"] != float64(2) {
		t.Fatalf("unexpected summary %v", payload)
	}
	results, _ := payload["results"].([]any)
	statuses := make([]string, 0, len(results))
	for _, r := range results {
		item, _ := r.(map[string]any)
		statuses = append(statuses, item["status"].(string))
	}
	want := []string{"DEACTIVATED", "SKIPPED", "FAILED", "SKIPPED"}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
	if len(f.orchestrator.deactivated) != 1 {
		t.Fatalf("expected a single orchestrator call, got %v", f.orchestrator.deactivated)
	}
}

func TestBulkDeactivateRejectsMismatchedCard(t *testing.T) {
	f := newAdminFixture(t)
	f.seedGift(t)
	token := f.login(t)

	_, payload := f.do(t, http.MethodPost, "/admin/bulk-deactivate", token, gin.H{"items": []gin.H{
		{"phone": testPhone, "cardNumber": "6011000000009999"},
	}})
	if payload["failed"] != float64(1) {
		t.Fatalf("expected mismatched card to fail, got %v", payload)
	}
	if len(f.orchestrator.deactivated) != 0 {
		t.Fatalf("orchestrator must not run for a mismatched card, got %v", f.orchestrator.deactivated)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newAdminFixture(t)
	token := f.login(t)

	rec, _ := f.do(t, http.MethodPut, "/admin/settings/IVR_MAX_CALLS", token, gin.H{"value": 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec, payload := f.do(t, http.MethodGet, "/admin/settings", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	values, _ := payload["settings"].(map[string]any)
	if values["IVR_MAX_CALLS"] != float64(7) {
		t.Fatalf("expected stored override, got %v", values)
	}

	if rec, _ := f.do(t, http.MethodPut, "/admin/settings/NOPE", token, gin.H{"value": 1}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key: expected 404, got %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPut, "/admin/settings/IVR_MAX_CALLS", token, gin.H{"value": 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("zero value: expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAdminFixture(t)
	rec, payload := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("expected healthy, got %d %v", rec.Code, payload)
	}
}
