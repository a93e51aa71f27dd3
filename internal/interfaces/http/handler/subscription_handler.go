package handler

import (
	"context"

	appentitlement "github.com/casevault/backend/internal/application/entitlement"
	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubscriptionHandler exposes subscription lifecycle endpoints. Status
// transitions normally arrive from the billing system's webhook processor;
// the endpoints mirror its vocabulary.
type SubscriptionHandler struct {
	BaseHandler
	service *appentitlement.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(service *appentitlement.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// RegisterRoutes registers all subscription routes
func (h *SubscriptionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	subs := rg.Group("/subscriptions")
	{
		subs.POST("", h.Signup)
		subs.GET("/me", h.GetMine)
		subs.POST("/activate", h.Activate)
		subs.POST("/past-due", h.MarkPastDue)
		subs.POST("/cancel", h.Cancel)
		subs.PUT("/tier", h.ChangeTier)
	}
}

func toSubscriptionResponse(sub *entitlement.Subscription) dto.SubscriptionResponse {
	return dto.SubscriptionResponse{
		ID:                 sub.ID.String(),
		UserID:             sub.UserID.String(),
		TierID:             sub.TierID,
		Status:             sub.Status.String(),
		TrialEndsAt:        sub.TrialEndsAt,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
	}
}

// Signup creates a subscription for the caller
func (h *SubscriptionHandler) Signup(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	var req dto.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid signup request: "+err.Error())
		return
	}

	sub, err := h.service.Signup(c.Request.Context(), userID, req.TierID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toSubscriptionResponse(sub))
}

// GetMine returns the caller's subscription
func (h *SubscriptionHandler) GetMine(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	sub, err := h.service.GetByUser(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toSubscriptionResponse(sub))
}

// Activate transitions the subscription to ACTIVE
func (h *SubscriptionHandler) Activate(c *gin.Context) {
	h.transition(c, h.service.Activate)
}

// MarkPastDue transitions the subscription to PAST_DUE
func (h *SubscriptionHandler) MarkPastDue(c *gin.Context) {
	h.transition(c, h.service.MarkPastDue)
}

// Cancel transitions the subscription to CANCELED
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

// ChangeTier moves the subscription to another tier effective immediately
func (h *SubscriptionHandler) ChangeTier(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	var req dto.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid tier change request: "+err.Error())
		return
	}

	sub, err := h.service.ChangeTier(c.Request.Context(), userID, req.TierID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) transition(
	c *gin.Context,
	apply func(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error),
) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Missing or invalid user identity")
		return
	}

	sub, err := apply(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toSubscriptionResponse(sub))
}
