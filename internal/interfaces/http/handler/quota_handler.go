package handler

import (
	"errors"
	"net/http"

	"github.com/casevault/backend/internal/application/quota"
	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// QuotaHandler exposes the reserve/commit/release admission API
type QuotaHandler struct {
	BaseHandler
	enforcer *quota.Enforcer
}

// NewQuotaHandler creates a new QuotaHandler
func NewQuotaHandler(enforcer *quota.Enforcer) *QuotaHandler {
	return &QuotaHandler{enforcer: enforcer}
}

// RegisterRoutes registers all quota routes
func (h *QuotaHandler) RegisterRoutes(rg *gin.RouterGroup) {
	quotas := rg.Group("/quota")
	{
		quotas.POST("/reserve", h.Reserve)
		quotas.POST("/commit", h.Commit)
		quotas.POST("/release", h.Release)
		quotas.GET("/summary", h.Summary)
	}
}

// Reserve admits a metered action and reserves its estimated amount
func (h *QuotaHandler) Reserve(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid reserve request: "+err.Error())
		return
	}

	resource, err := entitlement.ParseResourceType(req.Resource)
	if err != nil {
		h.BadRequest(c, "Unknown resource type: "+req.Resource)
		return
	}

	decision, err := h.enforcer.CheckAndReserve(c.Request.Context(), userID, resource, req.EstimatedAmount)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if !decision.Allowed() {
		code := dto.NormalizeErrorCode(decision.Reason)
		h.Error(c, dto.GetHTTPStatus(code), code, "Reservation denied")
		return
	}

	h.Success(c, dto.ReserveResponse{
		Outcome:   string(decision.Outcome),
		Token:     decision.Token.String(),
		Remaining: decision.Remaining,
		ExpiresAt: decision.ExpiresAt,
	})
}

// Commit settles a reservation with the measured actual amount
func (h *QuotaHandler) Commit(c *gin.Context) {
	var req dto.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid commit request: "+err.Error())
		return
	}

	token, err := uuid.Parse(req.Token)
	if err != nil {
		h.BadRequest(c, "Invalid reservation token")
		return
	}

	committed, err := h.enforcer.Commit(c.Request.Context(), token, req.ActualAmount)

	var partial *ledger.PartialCommitError
	if errors.As(err, &partial) {
		// The accepted portion stands; the caller decides what to do with
		// the rejected remainder.
		c.JSON(http.StatusUnprocessableEntity, dto.Response{
			Success: false,
			Data: dto.CommitResponse{
				Token:     req.Token,
				Committed: partial.Accepted,
				Rejected:  partial.Rejected,
			},
			Error: &dto.ErrorInfo{
				Code:      dto.ErrCodePartialCommit,
				Message:   partial.Error(),
				RequestID: getRequestID(c),
			},
		})
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.CommitResponse{
		Token:     req.Token,
		Committed: committed,
	})
}

// Release abandons a reservation without consuming quota
func (h *QuotaHandler) Release(c *gin.Context) {
	var req dto.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid release request: "+err.Error())
		return
	}

	token, err := uuid.Parse(req.Token)
	if err != nil {
		h.BadRequest(c, "Invalid reservation token")
		return
	}

	if err := h.enforcer.Release(c.Request.Context(), token); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// Summary reports current-period consumption against the effective tier
func (h *QuotaHandler) Summary(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	summary, err := h.enforcer.Summary(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}
