package app

import (
	"errors"
	"fmt"

	"marefa/pkg/billing"
	"marefa/pkg/quota"
)

var (
	ErrDuplicateEmail    = errors.New("Email already in use")
	ErrDuplicateUsername = errors.New("Username already in use")

	// ErrInvalidCredentials is shown to clients for both unknown emails and
	// wrong passwords.
	ErrInvalidCredentials = errors.New("Incorrect email or password")
	ErrUnauthenticated    = errors.New("Not authenticated")
	// ErrSessionUnavailable means a session could not be checked, as opposed
	// to a missing or expired one.
	ErrSessionUnavailable = errors.New("session lookup unavailable, please retry")
	ErrForbidden          = errors.New("Forbidden: Admin access required")
	ErrOwnRole            = errors.New("cannot change own role")

	ErrUserNotFound     = errors.New("user not found")
	ErrChatNotFound     = errors.New("Chat not found")
	ErrChatForbidden    = errors.New("Unauthorized to access this chat")
	ErrDocumentNotFound = errors.New("document not found")

	ErrGenerationFailed   = errors.New("Error generating a response, please try again")
	ErrInvalidPlan        = errors.New("Invalid subscription plan")
	ErrBillingUnavailable = errors.New("billing is not configured")

	ErrTierInsufficient  = quota.ErrTierInsufficient
	ErrQuotaExceeded     = quota.ErrQuotaExceeded
	ErrGuestLimitReached = quota.ErrGuestLimitReached
	ErrInvalidSignature  = billing.ErrInvalidSignature
)

// ValidationError carries a client-facing message for malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
