package domain

import "errors"

// Error taxonomy for the reconciliation core. Everything except ErrTransient
// is non-retryable by the caller without manual intervention; the webhook
// boundary maps ErrTransient to a retry-inviting response and the rest to a
// non-retry response plus an audit entry.
var (
	ErrNotFound             = errors.New("not found")
	ErrAmountMismatch       = errors.New("settled amount does not match pledge amount")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransient            = errors.New("transient storage failure")
)

// Retryable reports whether the caller may retry the operation that produced
// err. Only transient storage failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
