package models

import "errors"

// Validation errors for engine inputs.
var (
	ErrMissingUserID   = errors.New("user id is required")
	ErrMissingUsername = errors.New("username is required")
)
