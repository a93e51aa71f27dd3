package dto

import "time"

// ReserveRequest asks for admission of a metered action
type ReserveRequest struct {
	Resource        string `json:"resource" binding:"required"`
	EstimatedAmount int64  `json:"estimated_amount" binding:"required,min=1"`
}

// ReserveResponse is the admission decision handed back to the caller
type ReserveResponse struct {
	Outcome   string    `json:"outcome"`
	Token     string    `json:"token,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Remaining int64     `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CommitRequest settles a reservation with the measured actual amount
type CommitRequest struct {
	Token        string `json:"token" binding:"required,uuid"`
	ActualAmount int64  `json:"actual_amount" binding:"min=0"`
}

// CommitResponse reports the settled amount
type CommitResponse struct {
	Token     string `json:"token"`
	Committed int64  `json:"committed"`
	Rejected  int64  `json:"rejected,omitempty"`
}

// ReleaseRequest abandons a reservation without consuming quota
type ReleaseRequest struct {
	Token string `json:"token" binding:"required,uuid"`
}

// SignupRequest creates a subscription for a user
type SignupRequest struct {
	TierID string `json:"tier_id" binding:"required"`
}

// ChangeTierRequest moves a subscription to another tier
type ChangeTierRequest struct {
	TierID string `json:"tier_id" binding:"required"`
}

// SubscriptionResponse is the API view of a subscription
type SubscriptionResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	TierID             string     `json:"tier_id"`
	Status             string     `json:"status"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
}

// OverageChargeResponse is the API view of a finalized overage charge
type OverageChargeResponse struct {
	ID           string    `json:"id"`
	Resource     string    `json:"resource"`
	PeriodKey    string    `json:"period_key"`
	TierID       string    `json:"tier_id"`
	OverageUnits int64     `json:"overage_units"`
	FeeAmount    string    `json:"fee_amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeeBandResponse is one band of a tier's overage fee schedule
type FeeBandResponse struct {
	ThresholdFraction string `json:"threshold_fraction"`
	FeePerUnit        string `json:"fee_per_unit"`
}

// ResourceLimitResponse is one resource entitlement within a tier
type ResourceLimitResponse struct {
	Resource    string            `json:"resource"`
	Unit        string            `json:"unit"`
	CapPolicy   string            `json:"cap_policy"`
	Limit       int64             `json:"limit"`
	FeeSchedule []FeeBandResponse `json:"fee_schedule,omitempty"`
}

// TierResponse is the API view of a catalog tier
type TierResponse struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	TrialDays int                     `json:"trial_days"`
	Limits    []ResourceLimitResponse `json:"limits"`
}
