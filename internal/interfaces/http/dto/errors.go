package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConcurrencyConflict is used when optimistic locking fails
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Quota enforcement error codes
const (
	// ErrCodeHardCapExceeded is used when a reservation would pass a hard cap
	ErrCodeHardCapExceeded = "ERR_HARD_CAP_EXCEEDED"
	// ErrCodeSubscriptionNotActive is used when the subscription cannot meter usage
	ErrCodeSubscriptionNotActive = "ERR_SUBSCRIPTION_NOT_ACTIVE"
	// ErrCodeTrialExpired is used when a lapsed trial blocks the resource
	ErrCodeTrialExpired = "ERR_TRIAL_EXPIRED"
	// ErrCodeReservationExpired is used when settling a reservation past its TTL
	ErrCodeReservationExpired = "ERR_RESERVATION_EXPIRED"
	// ErrCodePartialCommit is used when part of a commit exceeded the hard cap
	ErrCodePartialCommit = "ERR_PARTIAL_COMMIT_REJECTED"
	// ErrCodePeriodClosed is used when the billing period no longer accepts usage
	ErrCodePeriodClosed = "ERR_PERIOD_CLOSED"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeRequestTooLarge is used when the request body exceeds the limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,

	// Hard-cap denials are throttling from the caller's point of view.
	ErrCodeHardCapExceeded: http.StatusTooManyRequests,
	// Entitlement denials are payment problems, not authorization problems.
	ErrCodeSubscriptionNotActive: http.StatusPaymentRequired,
	ErrCodeTrialExpired:          http.StatusPaymentRequired,
	ErrCodeReservationExpired:    http.StatusGone,
	ErrCodePartialCommit:         http.StatusUnprocessableEntity,
	ErrCodePeriodClosed:          http.StatusConflict,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Returns 500 Internal Server Error if the error code is not found.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to transport codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":               ErrCodeNotFound,
	"ALREADY_EXISTS":          ErrCodeAlreadyExists,
	"INVALID_INPUT":           ErrCodeInvalidInput,
	"INVALID_AMOUNT":          ErrCodeInvalidInput,
	"INVALID_STATE":           ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT":    ErrCodeConcurrencyConflict,
	"TIER_NOT_FOUND":          ErrCodeNotFound,
	"HARD_CAP_EXCEEDED":       ErrCodeHardCapExceeded,
	"SUBSCRIPTION_NOT_FOUND":  ErrCodeNotFound,
	"SUBSCRIPTION_NOT_ACTIVE": ErrCodeSubscriptionNotActive,
	"TRIAL_EXPIRED":           ErrCodeTrialExpired,
	"RESERVATION_EXPIRED":     ErrCodeReservationExpired,
	"PARTIAL_COMMIT_REJECTED": ErrCodePartialCommit,
	"PERIOD_CLOSED":           ErrCodePeriodClosed,
}

// NormalizeErrorCode converts a domain error code to the transport format.
// If the code is already in the transport format or unknown, returns it as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
