package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/solaivr/giftline/internal/activation"
	"github.com/solaivr/giftline/internal/phone"
	"github.com/solaivr/giftline/internal/security"
	"github.com/solaivr/giftline/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	maxBulkItems    = 500
	bulkConcurrency = 4
)

// Bulk item statuses.
const (
	BulkDeactivated = "DEACTIVATED"
	BulkFailed      = "FAILED"
	BulkSkipped     = "SKIPPED"
)

// BulkHandler deactivates many cards in one request.
type BulkHandler struct {
	gifts        GiftStore
	orchestrator Orchestrator
}

// NewBulkHandler constructs a BulkHandler.
func NewBulkHandler(gifts GiftStore, orchestrator Orchestrator) *BulkHandler {
	return &BulkHandler{gifts: gifts, orchestrator: orchestrator}
}

type bulkItem struct {
	Phone      string `json:"phone"`
	CardNumber string `json:"cardNumber"`
}

type bulkDeactivateRequest struct {
	Items []bulkItem `json:"items"`
}

type bulkResult struct {
	Phone          string `json:"phone"`
	MaskedCard     string `json:"maskedCard"`
	Status         string `json:"status"`
	RedeemedAmount string `json:"redeemedAmount"`
	Error          string `json:"error,omitempty"`
}

// Deactivate drains and deactivates each listed card whose number matches the record for its phone.
// Items run concurrently with a small bound; the response keeps request order.
func (h *BulkHandler) Deactivate(c *gin.Context) {
	var body bulkDeactivateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items are required"})
		return
	}
	if len(body.Items) > maxBulkItems {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many items"})
		return
	}

	ctx := c.Request.Context()
	results := make([]bulkResult, len(body.Items))
	seen := make(map[string]bool, len(body.Items))

	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for i, item := range body.Items {
		normalized := phone.Normalize(item.Phone)
		cardNumber := strings.TrimSpace(item.CardNumber)
		results[i] = bulkResult{Phone: normalized, MaskedCard: security.MaskCard(cardNumber), RedeemedAmount: "0.00"}

		switch {
		case !phone.Valid(normalized) || cardNumber == "":
			results[i].Status = BulkSkipped
			results[i].Error = "Missing/invalid phone or cardNumber"
			continue
		case seen[normalized]:
			results[i].Status = BulkSkipped
			results[i].Error = "Duplicate phone in request"
			continue
		}
		seen[normalized] = true

		g.Go(func() error {
			h.deactivateOne(ctx, normalized, cardNumber, &results[i])
			return nil
		})
	}
	_ = g.Wait()

	var deactivated, failed, skipped int
	for _, r := range results {
		switch r.Status {
		case BulkDeactivated:
			deactivated++
		case BulkFailed:
			failed++
		case BulkSkipped:
			skipped++
		}
	}

	log.WithFields(log.Fields{
		"total":       len(results),
		"deactivated": deactivated,
		"failed":      failed,
		"admin":       readAdminUsernameFromContext(c),
	}).Info("admin: bulk deactivate")
	c.JSON(http.StatusOK, gin.H{
		"total":       len(results),
		"deactivated": deactivated,
		"failed":      failed,
		"skipped":     skipped,
		"results":     results,
	})
}

func (h *BulkHandler) deactivateOne(ctx context.Context, normalized, cardNumber string, out *bulkResult) {
	record, errFind := h.gifts.FindByPhone(ctx, normalized)
	if errors.Is(errFind, store.ErrNotFound) {
		out.Status, out.Error = BulkFailed, "NOT_FOUND"
		return
	}
	if errFind != nil {
		out.Status, out.Error = BulkFailed, "lookup failed"
		return
	}
	if !security.SecretEqual(record.CardNumber, cardNumber) {
		out.Status, out.Error = BulkFailed, "Card number does not match the record for this phone"
		return
	}

	res := h.orchestrator.DeactivateByPhone(ctx, normalized)
	if res.RedeemedAmount != nil {
		out.RedeemedAmount = res.RedeemedAmount.StringFixed(2)
	}
	if res.Outcome == activation.OutcomeDeactivated {
		out.Status = BulkDeactivated
		return
	}
	out.Status = BulkFailed
	out.Error = string(res.Outcome)
	if res.Message != "" {
		out.Error += ": " + res.Message
	}
}
