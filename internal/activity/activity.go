// Package activity appends audit rows for IVR and console events. Writes are best effort.
package activity

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/security"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event types.
const (
	EventIVREntry              = "IVR_ENTRY"
	EventIVRRateLimit          = "IVR_RATE_LIMIT"
	EventIVRVerifyAttempt      = "IVR_VERIFY_ATTEMPT"
	EventIVRVerifyFailed       = "IVR_VERIFY_FAILED"
	EventIVRVerifyLockout      = "IVR_VERIFY_LOCKOUT"
	EventActivateAttempt       = "ACTIVATE_ATTEMPT"
	EventActivateSuccess       = "ACTIVATE_SUCCESS"
	EventFundingSuccess        = "FUNDING_SUCCESS"
	EventFundingFailed         = "FUNDING_FAILED"
	EventFundingUnconfirmed    = "FUNDING_UNCONFIRMED"
	EventActivateAlreadyActive = "ACTIVATE_ALREADY_ACTIVE"
	EventActivationFailed      = "ACTIVATION_FAILED"
	EventDeactivated           = "DEACTIVATED"
	EventRedeemFailed          = "REDEEM_FAILED"
	EventReconcileRequired     = "RECONCILE_REQUIRED"
	EventAdminLockout          = "ADMIN_LOCKOUT"
)

// Event statuses.
const (
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
	StatusAttempt   = "ATTEMPT"
	StatusBlocked   = "BLOCKED"
	StatusLockedOut = "LOCKED_OUT"
)

// Event is one activity row before persistence. CardNumber is reduced to its last four digits.
type Event struct {
	Type       string
	Phone      string
	CardNumber string
	Status     string
	Message    string
	Metadata   map[string]any
}

// Recorder records activity events.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Logger writes events to the gift_activity table.
type Logger struct {
	db *gorm.DB
}

// NewLogger constructs a Logger.
func NewLogger(conn *gorm.DB) *Logger {
	return &Logger{db: conn}
}

// Record inserts ev. Failures are logged and never returned.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if l == nil || l.db == nil {
		return
	}
	row := models.GiftActivity{
		Phone:     ev.Phone,
		EventType: ev.Type,
		Status:    ev.Status,
		Message:   ev.Message,
	}
	if last4 := security.CardLast4(ev.CardNumber); last4 != "" {
		row.CardLast4 = &last4
	}
	if len(ev.Metadata) > 0 {
		raw, errMarshal := json.Marshal(ev.Metadata)
		if errMarshal != nil {
			log.WithError(errMarshal).WithField("event", ev.Type).Warn("activity: marshal metadata")
		} else {
			row.Metadata = datatypes.JSON(raw)
		}
	}
	if errCreate := l.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("event", ev.Type).Warn("activity: record event")
	}
}

// Recent returns the newest rows, optionally for one phone.
func (l *Logger) Recent(ctx context.Context, phone string, limit int) ([]models.GiftActivity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := l.db.WithContext(ctx).Model(&models.GiftActivity{})
	if phone != "" {
		q = q.Where("phone = ?", phone)
	}
	var rows []models.GiftActivity
	if errFind := q.Order("id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
