package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/settings"
	"gorm.io/gorm"
)

// SettingsHandler reads and writes runtime threshold overrides.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns the stored overrides and the writable keys.
func (h *SettingsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":   settings.Snapshot(),
		"known_keys": settings.KnownKeys,
		"updated_at": settings.DBConfigUpdatedAt(),
	})
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

// Put stores a positive integer override for :key.
func (h *SettingsHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if !settings.IsKnownKey(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown setting"})
		return
	}
	var body settingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var n int
	if errValue := json.Unmarshal(body.Value, &n); errValue != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be a positive integer"})
		return
	}

	username := readAdminUsernameFromContext(c)
	if errSave := settings.Save(c.Request.Context(), h.db, key, body.Value, username); errSave != nil {
		log.WithError(errSave).Error("admin: save setting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	log.WithFields(log.Fields{"key": key, "value": n, "admin": username}).Info("admin: setting updated")
	c.JSON(http.StatusOK, gin.H{"key": key, "value": n})
}
