package calls

import "errors"

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotActive     = errors.New("participant not active")
	ErrProvider      = errors.New("provider error")

	// ErrOngoingConflict is returned by Repository.Insert when the channel already has an ongoing session.
	ErrOngoingConflict = errors.New("channel already has an ongoing call")
	// ErrUnchanged is returned from a MutateFunc to skip the write without failing.
	ErrUnchanged = errors.New("unchanged")
)
