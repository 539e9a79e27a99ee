// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrLocked        = errors.New("note is locked")
	ErrWrongPassword = errors.New("wrong password")
	ErrUnavailable   = errors.New("remote service unavailable")
)
