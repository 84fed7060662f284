package core

import "errors"

var (
	// ErrNotFound is returned when a commit job, run or status entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update lost against a concurrent writer.
	ErrConflict = errors.New("conditional update conflict")
	// ErrInvalidInput marks malformed client input; no state is mutated.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStatusTargetGone is the permanent status API rejection (the commit no longer exists upstream).
	ErrStatusTargetGone = errors.New("status target no longer exists")
)
