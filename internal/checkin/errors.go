package checkin

import "errors"

var (
	ErrNoEligibleAppointment = errors.New("no eligible appointment")
	ErrInvalidCheckInToken   = errors.New("invalid check-in token")
	ErrAllocationFailed      = errors.New("allocation failed")
)
