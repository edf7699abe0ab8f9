package models

import "errors"

// Error kinds shared by the session components. Operations wrap them with detail
// (fmt.Errorf("%w: ...", ErrValidation)); callers match with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrNotActive       = errors.New("poll is not active")
	ErrInvalidOption   = errors.New("invalid option for this poll")
	ErrDuplicateVote   = errors.New("participant has already voted")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnauthenticated = errors.New("user not authenticated")
	ErrTransport       = errors.New("transport error")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, "validation_error"},
	{ErrNotFound, "not_found"},
	{ErrNotActive, "not_active"},
	{ErrInvalidOption, "invalid_option"},
	{ErrDuplicateVote, "duplicate_vote"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrTransport, "transport_error"},
}

// ErrorCode returns the stable wire code for err, or "internal" for unknown errors.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
