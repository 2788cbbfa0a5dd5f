package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/phone"
)

// ActivityReader lists recent activity rows.
type ActivityReader interface {
	Recent(ctx context.Context, phone string, limit int) ([]models.GiftActivity, error)
}

// ActivityHandler serves the activity log.
type ActivityHandler struct {
	reader ActivityReader
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(reader ActivityReader) *ActivityHandler {
	return &ActivityHandler{reader: reader}
}

// List returns the newest activity rows, optionally for ?phone=.
func (h *ActivityHandler) List(c *gin.Context) {
	if h.reader == nil {
		c.JSON(http.StatusOK, gin.H{"items": []models.GiftActivity{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, errRecent := h.reader.Recent(c.Request.Context(), phone.Normalize(c.Query("phone")), limit)
	if errRecent != nil {
		log.WithError(errRecent).Error("admin: list activity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}
