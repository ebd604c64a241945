package shein

import (
	"errors"
	"fmt"
)

// Sentinel errors for the three upstream operations.
var (
	// ErrDiscoveryFailed is returned when product discovery exhausts its
	// retry budget.
	ErrDiscoveryFailed = errors.New("product discovery failed")
	// ErrNoVariantAvailable means every size of a product is out of stock.
	// A valid business outcome, not a transport fault.
	ErrNoVariantAvailable = errors.New("no variant available")
	// ErrResolveFailed is a transport or parse fault during variant lookup.
	ErrResolveFailed = errors.New("variant resolve failed")
	// ErrAvailabilityCheckFailed is a transport fault during the delivery check.
	ErrAvailabilityCheckFailed = errors.New("availability check failed")
	// ErrLoginRejected means the identity endpoint answered and said no
	// (wrong code, unknown number). Transport faults are not wrapped in it.
	ErrLoginRejected = errors.New("login rejected")
)

// AuthRejectedError indicates the upstream rejected the user's credentials.
// It short-circuits retries and must be surfaced to the session layer.
type AuthRejectedError struct {
	URL        string
	StatusCode int
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("authentication rejected (HTTP %d): %s", e.StatusCode, e.URL)
}

// IsAuthRejected checks if an error is an upstream authentication rejection.
func IsAuthRejected(err error) bool {
	var rejected *AuthRejectedError
	return errors.As(err, &rejected)
}
