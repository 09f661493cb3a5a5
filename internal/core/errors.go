package core

import "errors"

// Error codes surfaced to clients in system events.
const (
	ErrCodeNotAMember        = "not_a_member"
	ErrCodeBadRequest        = "bad_request"
	ErrCodePersistenceFailed = "persistence_failed"
)

var (
	// ErrNotAMember is returned when a user acts on a thread they have no
	// persisted membership in.
	ErrNotAMember = errors.New("not a thread member")
)
