package store

import "errors"

var (
	ErrTokenNotFound       = errors.New("token not found")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenConsumed       = errors.New("token already consumed")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrBranchClosed        = errors.New("branch not accepting entries")
	ErrBranchMismatch      = errors.New("entry belongs to a different branch")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrMissingCancelReason = errors.New("cancel reason required")
	ErrInvalidPosition     = errors.New("invalid queue position")
	ErrContended           = errors.New("queue contended, retry")
	ErrSessionNotFound     = errors.New("session not found")
)
