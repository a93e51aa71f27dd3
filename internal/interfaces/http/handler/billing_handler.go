package handler

import (
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BillingHandler exposes read-only access to finalized overage charges.
// Charges are computed at period close and immutable; the invoicing system
// consumes them from here.
type BillingHandler struct {
	BaseHandler
	chargeRepo ledger.OverageChargeRepository
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(chargeRepo ledger.OverageChargeRepository) *BillingHandler {
	return &BillingHandler{chargeRepo: chargeRepo}
}

// RegisterRoutes registers all billing routes
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	billing := rg.Group("/billing")
	{
		billing.GET("/charges", h.ListCharges)
	}
}

func toOverageChargeResponse(charge *ledger.OverageCharge) dto.OverageChargeResponse {
	return dto.OverageChargeResponse{
		ID:           charge.ID.String(),
		Resource:     string(charge.Resource),
		PeriodKey:    charge.PeriodKey,
		TierID:       charge.TierID,
		OverageUnits: charge.OverageUnits,
		FeeAmount:    charge.FeeAmount.StringFixed(4),
		CreatedAt:    charge.CreatedAt,
	}
}

// ListCharges returns the caller's overage charges, optionally filtered by period
func (h *BillingHandler) ListCharges(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	var (
		charges []*ledger.OverageCharge
	)
	if periodKey := c.Query("period"); periodKey != "" {
		charges, err = h.chargeRepo.FindByUserAndPeriod(c.Request.Context(), userID, periodKey)
	} else {
		charges, err = h.chargeRepo.FindByUser(c.Request.Context(), userID)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]dto.OverageChargeResponse, len(charges))
	for i, charge := range charges {
		out[i] = toOverageChargeResponse(charge)
	}

	h.Success(c, out)
}
