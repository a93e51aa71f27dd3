package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	appentitlement "github.com/casevault/backend/internal/application/entitlement"
	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriptionTestEnv struct {
	quotaTestEnv
}

func newSubscriptionTestEnv(t *testing.T) *subscriptionTestEnv {
	t.Helper()

	tiers := testTiers()
	subRepo := newMemSubscriptionRepo()
	counterRepo := newMemCounterRepo()

	service := appentitlement.NewSubscriptionService(subRepo, counterRepo, tiers, nil)

	engine := gin.New()
	api := engine.Group("/api/v1")
	NewSubscriptionHandler(service).RegisterRoutes(api)

	return &subscriptionTestEnv{quotaTestEnv{
		engine:  engine,
		subRepo: subRepo,
		userID:  uuid.New(),
	}}
}

func decodeSubscription(t *testing.T, resp dto.Response) dto.SubscriptionResponse {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var sub dto.SubscriptionResponse
	require.NoError(t, json.Unmarshal(data, &sub))
	return sub
}

func TestSubscriptionHandlerSignup(t *testing.T) {
	env := newSubscriptionTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "pro-v1"})

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decodeSubscription(t, decodeResponse(t, w))
	assert.Equal(t, env.userID.String(), sub.UserID)
	assert.Equal(t, "pro-v1", sub.TierID)
	assert.Equal(t, "ACTIVE", sub.Status)
	assert.Nil(t, sub.TrialEndsAt)
}

func TestSubscriptionHandlerSignupUnknownTier(t *testing.T) {
	env := newSubscriptionTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "platinum-v9"})

	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestSubscriptionHandlerSignupDuplicate(t *testing.T) {
	env := newSubscriptionTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "pro-v1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "free-v1"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestSubscriptionHandlerSignupMissingIdentity(t *testing.T) {
	env := newSubscriptionTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/subscriptions", "", dto.SignupRequest{TierID: "pro-v1"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscriptionHandlerGetMine(t *testing.T) {
	env := newSubscriptionTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/subscriptions/me", env.userID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "free-v1"})

	w = env.do(http.MethodGet, "/api/v1/subscriptions/me", env.userID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sub := decodeSubscription(t, decodeResponse(t, w))
	assert.Equal(t, "free-v1", sub.TierID)
}

func TestSubscriptionHandlerLifecycle(t *testing.T) {
	env := newSubscriptionTestEnv(t)
	env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "pro-v1"})

	w := env.do(http.MethodPost, "/api/v1/subscriptions/past-due", env.userID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PAST_DUE", decodeSubscription(t, decodeResponse(t, w)).Status)

	w = env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.userID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ACTIVE", decodeSubscription(t, decodeResponse(t, w)).Status)

	w = env.do(http.MethodPost, "/api/v1/subscriptions/cancel", env.userID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "CANCELED", decodeSubscription(t, decodeResponse(t, w)).Status)
}

func TestSubscriptionHandlerChangeTier(t *testing.T) {
	env := newSubscriptionTestEnv(t)
	env.do(http.MethodPost, "/api/v1/subscriptions", env.userID.String(), dto.SignupRequest{TierID: "free-v1"})

	w := env.do(http.MethodPut, "/api/v1/subscriptions/tier", env.userID.String(), dto.ChangeTierRequest{TierID: "pro-v1"})

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pro-v1", decodeSubscription(t, decodeResponse(t, w)).TierID)
}
