package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/activity"
	"github.com/solaivr/giftline/internal/config"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/security"
	"gorm.io/gorm"
)

// LoginLockout tracks failed console logins per source address.
type LoginLockout interface {
	IsLocked(ctx context.Context, source string) (bool, error)
	RecordFailure(ctx context.Context, source string) (failures int64, locked bool, err error)
	Reset(ctx context.Context, source string) error
}

// LockoutNotifier is told when a source address becomes locked out.
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, source, username string, failures int64)
}

// ActivityLockoutNotifier logs a lockout and writes an ADMIN_LOCKOUT activity row.
type ActivityLockoutNotifier struct {
	Activity activity.Recorder
}

// NotifyLockout implements LockoutNotifier.
func (n ActivityLockoutNotifier) NotifyLockout(ctx context.Context, source, username string, failures int64) {
	log.WithFields(log.Fields{
		"source":   source,
		"username": username,
		"failures": failures,
	}).Warn("admin: login locked out")
	if n.Activity == nil {
		return
	}
	n.Activity.Record(ctx, activity.Event{
		Type:     activity.EventAdminLockout,
		Status:   activity.StatusLockedOut,
		Message:  "Admin login locked after repeated failures",
		Metadata: map[string]any{"source": source, "username": username, "failures": failures},
	})
}

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	db       *gorm.DB
	jwtCfg   config.JWTConfig
	lockout  LoginLockout
	notifier LockoutNotifier
}

// NewAuthHandler constructs an AuthHandler. lockout and notifier may be nil.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig, lockout LoginLockout, notifier LockoutNotifier) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg, lockout: lockout, notifier: notifier}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an admin and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	password := strings.TrimSpace(body.Password)
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ctx := c.Request.Context()
	source := c.ClientIP()
	if h.lockout != nil {
		locked, errLocked := h.lockout.IsLocked(ctx, source)
		if errLocked != nil {
			log.WithError(errLocked).Warn("admin: read login lockout")
		}
		if locked {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again later"})
			return
		}
	}

	var admin models.Admin
	errFind := h.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error
	if errFind != nil || !security.CheckPassword(admin.Password, password) {
		h.recordFailure(ctx, source, username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
		return
	}

	if h.lockout != nil {
		if errReset := h.lockout.Reset(ctx, source); errReset != nil {
			log.WithError(errReset).Warn("admin: reset login failures")
		}
	}
	h.respondWithAdminToken(c, admin)
}

func (h *AuthHandler) recordFailure(ctx context.Context, source, username string) {
	if h.lockout == nil {
		return
	}
	failures, locked, errRecord := h.lockout.RecordFailure(ctx, source)
	if errRecord != nil {
		log.WithError(errRecord).Warn("admin: record login failure")
		return
	}
	if locked && h.notifier != nil {
		h.notifier.NotifyLockout(ctx, source, username, failures)
	}
}

// respondWithAdminToken stamps the login time and writes a signed token.
func (h *AuthHandler) respondWithAdminToken(c *gin.Context, admin models.Admin) {
	token, errToken := security.GenerateAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}

	now := time.Now().UTC()
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("last_login_at", now).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("admin: update last login")
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(h.jwtCfg.Expiry),
		"admin": gin.H{
			"id":           admin.ID,
			"username":     admin.Username,
			"totp_enabled": strings.TrimSpace(admin.TOTPSecret) != "",
		},
	})
}

// Me returns the authenticated admin.
func (h *AuthHandler) Me(c *gin.Context) {
	adminID, ok := readAdminIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
		return
	}
	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            admin.ID,
		"username":      admin.Username,
		"totp_enabled":  strings.TrimSpace(admin.TOTPSecret) != "",
		"last_login_at": admin.LastLoginAt,
	})
}

// EnsureBootstrapAdmin creates the configured admin when no admin with that username exists.
// An existing account is left untouched so a password changed later is not overwritten.
func EnsureBootstrapAdmin(ctx context.Context, db *gorm.DB, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	var count int64
	if errCount := db.WithContext(ctx).Model(&models.Admin{}).Where("username = ?", username).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return nil
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	if errCreate := db.WithContext(ctx).Create(&models.Admin{Username: username, Password: hash, Active: true}).Error; errCreate != nil {
		return errCreate
	}
	log.Infof("admin: bootstrap account %s created", username)
	return nil
}

// readAdminIDFromContext returns the admin ID from request context.
func readAdminIDFromContext(c *gin.Context) (uint64, bool) {
	value, ok := c.Get("adminID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok
}

func readAdminUsernameFromContext(c *gin.Context) string {
	value, _ := c.Get("adminUsername")
	username, _ := value.(string)
	return username
}
