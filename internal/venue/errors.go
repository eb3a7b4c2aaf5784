package venue

import "errors"

// Sentinel errors per the error handling design: the gateway consumes
// RetryableNetworkError internally; only non-retryable or final-attempt
// errors escape to callers.
var (
	RetryableNetworkError = errors.New("venue: retryable network error")
	VenueRejected         = errors.New("venue: rejected (non-retryable)")
	InvalidOrder          = errors.New("venue: invalid order request")
	Timeout               = errors.New("venue: deadline exceeded")
)
