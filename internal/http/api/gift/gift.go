// Package gift exposes the orchestrator's activation entry point over HTTP.
package gift

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/solaivr/giftline/internal/activation"
	relayhttp "github.com/solaivr/giftline/internal/http"
)

// Activator runs the activation workflow for a phone number.
type Activator interface {
	ActivateByPhone(ctx context.Context, rawPhone string) activation.Result
}

// RegisterGiftRoutes registers POST /activate-by-phone. internalKey, when set, is required on every call.
func RegisterGiftRoutes(r *gin.Engine, activator Activator, internalKey string) {
	if r == nil || activator == nil {
		return
	}
	handler := NewHandler(activator)
	r.POST("/activate-by-phone", relayhttp.InternalKeyMiddleware(internalKey), handler.ActivateByPhone)
}

// Handler serves the activation endpoint.
type Handler struct {
	activator Activator
}

// NewHandler constructs a Handler.
func NewHandler(activator Activator) *Handler {
	return &Handler{activator: activator}
}

type activateRequest struct {
	Phone string `json:"phone"`
}

// ActivateByPhone activates and funds the card for the posted phone number.
// Every orchestrator outcome is a 200 with the outcome in "status".
func (h *Handler) ActivateByPhone(c *gin.Context) {
	var body activateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	res := h.activator.ActivateByPhone(c.Request.Context(), body.Phone)
	c.JSON(http.StatusOK, ResultBody(res))
}

// ResultBody renders an orchestrator result for JSON clients. Only the last 4 card digits are included.
func ResultBody(res activation.Result) gin.H {
	body := gin.H{"status": res.Outcome}
	if res.Last4 != "" {
		body["last4"] = res.Last4
	}
	if res.FundingStatus != "" {
		body["fundingStatus"] = res.FundingStatus
	}
	if res.Amount != nil {
		body["amount"] = res.Amount.StringFixed(2)
	}
	if res.Balance != nil {
		body["balance"] = res.Balance.StringFixed(2)
	}
	if res.RedeemedAmount != nil {
		body["redeemedAmount"] = res.RedeemedAmount.StringFixed(2)
	}
	if res.FundingError != "" {
		body["fundingError"] = res.FundingError
	}
	if res.FundingErrorCode != "" {
		body["fundingErrorCode"] = res.FundingErrorCode
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	if res.Reconcile {
		body["reconcile"] = true
	}
	return body
}
