package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrProviderFailure   = errors.New("provider failure")
	ErrContractViolation = errors.New("provider contract violation")
	ErrStorageFailure    = errors.New("storage failure")
	ErrTimeLimitExceeded = errors.New("time limit exceeded")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTokenExpired      = errors.New("download token expired")
)

// Fatal reports whether an error must not trigger an automatic retry.
// Everything else that reaches the task runner is retried up to the
// configured attempt ceiling.
func Fatal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeLimitExceeded)
}
