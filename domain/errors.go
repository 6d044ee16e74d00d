package domain

import "errors"

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrTooManySessions  = errors.New("too many sessions")
	ErrNotFound         = errors.New("not found")
	ErrMalformedMessage = errors.New("malformed message")
)
