package domain

import "errors"

// Boundary error taxonomy. Parse and validation failures are handled at the
// HTTP edge; processor-internal failures never surface as panics.
var (
	// ErrParse marks a request body that is not valid JSON.
	ErrParse = errors.New("malformed payload")
	// ErrValidation marks a payload missing required fields or carrying invalid values.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication marks a missing or invalid webhook signature or admin token.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRateLimited marks a request denied by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUpstream marks a failed or timed-out call to the work-item source.
	ErrUpstream = errors.New("upstream source failed")
)

// ErrorCode maps a taxonomy error to the machine-readable code carried in
// error envelopes. Unrecognized errors are internal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "PARSE_ERROR"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrAuthentication):
		return "AUTHENTICATION_ERROR"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
