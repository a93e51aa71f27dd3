package ledger

import (
	"fmt"

	"github.com/casevault/backend/internal/domain/shared"
)

// Admission and settlement errors surfaced to callers
var (
	// ErrHardCapExceeded denies a reservation that would push a HARD-capped
	// resource past its limit
	ErrHardCapExceeded = shared.NewDomainError("HARD_CAP_EXCEEDED", "Requested amount exceeds the hard cap for this resource")

	// ErrReservationExpired rejects settlement of a reservation whose expiry
	// has passed; the caller must re-reserve
	ErrReservationExpired = shared.NewDomainError("RESERVATION_EXPIRED", "Reservation has expired; re-reserve before retrying")

	// ErrPeriodClosed rejects mutations against a billing period that is
	// closing or closed
	ErrPeriodClosed = shared.NewDomainError("PERIOD_CLOSED", "Billing period is no longer accepting usage")
)

// PartialCommitError reports a commit whose actual amount exceeded the HARD
// cap after the fact: the accepted portion is committed and stands, the
// excess is rejected. The caller decides whether to truncate or discard the
// overage portion of the completed work.
type PartialCommitError struct {
	Accepted int64
	Rejected int64
}

// Error implements the error interface
func (e *PartialCommitError) Error() string {
	return fmt.Sprintf(
		"commit partially rejected: %d units committed, %d units exceed the hard cap",
		e.Accepted, e.Rejected,
	)
}

// Code returns the stable error code for transport mapping
func (e *PartialCommitError) Code() string {
	return "PARTIAL_COMMIT_REJECTED"
}
