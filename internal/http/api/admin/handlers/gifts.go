package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/http/api/gift"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/phone"
	"github.com/solaivr/giftline/internal/security"
	"github.com/solaivr/giftline/internal/store"
	"gorm.io/gorm"
)

// GiftStore is the subset of the gift store the console reads and provisions.
type GiftStore interface {
	FindByPhone(ctx context.Context, rawPhone string) (*models.GiftRecord, error)
	Create(ctx context.Context, rawPhone, cardNumber string, faceAmount decimal.Decimal) (*models.GiftRecord, error)
	List(ctx context.Context, filter store.GiftFilter) ([]models.GiftRecord, int64, error)
}

// Orchestrator runs the activation and deactivation workflows.
type Orchestrator interface {
	ActivateByPhone(ctx context.Context, rawPhone string) activation.Result
	DeactivateByPhone(ctx context.Context, rawPhone string) activation.Result
}

// GiftHandler serves gift lookup, provisioning and activation toggles.
type GiftHandler struct {
	db           *gorm.DB
	gifts        GiftStore
	orchestrator Orchestrator
	unmaskPIN    string
}

// NewGiftHandler constructs a GiftHandler. An empty unmaskPIN disables PIN unmasking.
func NewGiftHandler(db *gorm.DB, gifts GiftStore, orchestrator Orchestrator, unmaskPIN string) *GiftHandler {
	return &GiftHandler{db: db, gifts: gifts, orchestrator: orchestrator, unmaskPIN: unmaskPIN}
}

// giftView is the masked console representation of a record.
type giftView struct {
	ID               uint64     `json:"id"`
	Phone            string     `json:"phone"`
	MaskedCard       string     `json:"maskedCard"`
	Amount           string     `json:"amount"`
	Balance          string     `json:"balance"`
	Status           string     `json:"status"`
	FundingStatus    string     `json:"fundingStatus"`
	FundingError     *string    `json:"fundingError,omitempty"`
	FundingErrorCode *string    `json:"fundingErrorCode,omitempty"`
	ActivatedAt      *time.Time `json:"activatedAt"`
	FundedAt         *time.Time `json:"fundedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func newGiftView(g models.GiftRecord) giftView {
	return giftView{
		ID:               g.ID,
		Phone:            g.Phone,
		MaskedCard:       security.MaskCard(g.CardNumber),
		Amount:           g.FaceAmount.StringFixed(2),
		Balance:          g.Balance.StringFixed(2),
		Status:           string(g.Status),
		FundingStatus:    string(g.FundingStatus),
		FundingError:     g.FundingError,
		FundingErrorCode: g.FundingErrorCode,
		ActivatedAt:      g.ActivatedAt,
		FundedAt:         g.FundedAt,
		CreatedAt:        g.CreatedAt,
	}
}

// GetByPhone returns the masked record for ?phone=.
func (h *GiftHandler) GetByPhone(c *gin.Context) {
	normalized, errPhone := phone.Parse(c.Query("phone"))
	if errPhone != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid 10 digit phone number required"})
		return
	}

	record, errFind := h.gifts.FindByPhone(c.Request.Context(), normalized)
	if errors.Is(errFind, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"found": false, "message": "No gift card found for this phone number."})
		return
	}
	if errFind != nil {
		log.WithError(errFind).Error("admin: gift lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "gift": newGiftView(*record)})
}

// List returns a page of masked records filtered by phone substring, status and funding status.
func (h *GiftHandler) List(c *gin.Context) {
	filter := store.GiftFilter{PhoneContains: c.Query("phone")}
	if status := strings.ToUpper(strings.TrimSpace(c.Query("status"))); status != "" {
		filter.Status = models.GiftStatus(status)
		if !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	if fundingStatus := strings.ToUpper(strings.TrimSpace(c.Query("fundingStatus"))); fundingStatus != "" {
		filter.FundingStatus = models.FundingStatus(fundingStatus)
		if !filter.FundingStatus.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fundingStatus"})
			return
		}
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, total, errList := h.gifts.List(c.Request.Context(), filter)
	if errList != nil {
		log.WithError(errList).Error("admin: list gifts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	items := make([]giftView, 0, len(records))
	for _, record := range records {
		items = append(items, newGiftView(record))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

type createGiftRequest struct {
	Phone      string `json:"phone"`
	CardNumber string `json:"cardNumber"`
	FaceAmount string `json:"faceAmount"`
}

// Create provisions a single PENDING record.
func (h *GiftHandler) Create(c *gin.Context) {
	var body createGiftRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !phone.Valid(phone.Normalize(body.Phone)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid 10 digit phone number required"})
		return
	}
	cardNumber := strings.TrimSpace(body.CardNumber)
	if cardNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cardNumber is required"})
		return
	}
	amount, errAmount := decimal.NewFromString(strings.TrimSpace(body.FaceAmount))
	if errAmount != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "faceAmount must be a positive number"})
		return
	}

	record, errCreate := h.gifts.Create(c.Request.Context(), body.Phone, cardNumber, amount)
	if errors.Is(errCreate, store.ErrDuplicatePhone) {
		c.JSON(http.StatusConflict, gin.H{"error": "phone already has a gift card"})
		return
	}
	if errCreate != nil {
		log.WithError(errCreate).Error("admin: create gift")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	log.WithFields(log.Fields{
		"phone": record.Phone,
		"last4": security.CardLast4(record.CardNumber),
		"admin": readAdminUsernameFromContext(c),
	}).Info("admin: gift provisioned")
	c.JSON(http.StatusCreated, newGiftView(*record))
}

type unmaskRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
	Code  string `json:"code"`
}

// UnmaskCard returns the full card number. Admins enrolled in TOTP must supply a current code;
// everyone else must supply the configured unmask PIN.
func (h *GiftHandler) UnmaskCard(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
		return
	}
	var body unmaskRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Select("id", "username", "totp_secret").First(&admin, adminID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
		return
	}
	if secret := strings.TrimSpace(admin.TOTPSecret); secret != "" {
		if !totp.Validate(strings.TrimSpace(body.Code), secret) {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid code"})
			return
		}
	} else if !security.SecretEqual(h.unmaskPIN, strings.TrimSpace(body.PIN)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid PIN"})
		return
	}

	record, errFind := h.gifts.FindByPhone(c.Request.Context(), body.Phone)
	if errFind != nil || record.CardNumber == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Gift card not found"})
		return
	}
	log.WithFields(log.Fields{
		"phone": record.Phone,
		"last4": security.CardLast4(record.CardNumber),
		"admin": admin.Username,
	}).Warn("admin: card number unmasked")
	c.JSON(http.StatusOK, gin.H{"fullCard": record.CardNumber})
}

type toggleRequest struct {
	Phone  string `json:"phone"`
	Action string `json:"action"`
}

// Toggle activates or deactivates the card for a phone through the orchestrator.
func (h *GiftHandler) Toggle(c *gin.Context) {
	var body toggleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var res activation.Result
	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "activate":
		res = h.orchestrator.ActivateByPhone(c.Request.Context(), body.Phone)
	case "deactivate":
		res = h.orchestrator.DeactivateByPhone(c.Request.Context(), body.Phone)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be activate or deactivate"})
		return
	}

	log.WithFields(log.Fields{
		"phone":   res.Phone,
		"action":  body.Action,
		"outcome": res.Outcome,
		"admin":   readAdminUsernameFromContext(c),
	}).Info("admin: toggle gift")
	c.JSON(toggleStatusCode(res.Outcome), gin.H{
		"status":  res.Outcome,
		"message": toggleMessage(res),
		"details": gift.ResultBody(res),
	})
}

func toggleMessage(res activation.Result) string {
	switch res.Outcome {
	case activation.OutcomeActivatedAndFunded:
		return "Gift card was activated and funded successfully."
	case activation.OutcomeFundedSuccessfully:
		return "Gift card was funded successfully."
	case activation.OutcomeActivatedNotFunded:
		return "Gift card was activated, but funding could not be completed. You may retry funding later."
	case activation.OutcomeAlreadyActive:
		return "Gift card is already active."
	case activation.OutcomeNotFound:
		return "No gift card found for this phone number."
	case activation.OutcomeInvalidPhone:
		return "Phone number must be 10 digits."
	case activation.OutcomeGatewayTimeout:
		return "The card gateway timed out. Check the card before retrying."
	case activation.OutcomeGatewayUnavailable:
		return "The card gateway is unavailable. Try again later."
	}
	if res.Message != "" {
		return res.Message
	}
	return "Gift card activation completed."
}

func toggleStatusCode(outcome activation.Outcome) int {
	switch outcome {
	case activation.OutcomeInvalidPhone:
		return http.StatusBadRequest
	case activation.OutcomeError:
		return http.StatusInternalServerError
	case activation.OutcomeRedeemFailed, activation.OutcomeDeactivateFailed:
		return http.StatusBadGateway
	case activation.OutcomeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case activation.OutcomeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}
