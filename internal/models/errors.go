package models

import "errors"

var (
	// ErrNotFound is returned when a credential, group or setting doesn't exist
	ErrNotFound = errors.New("key_rotator: not found")

	// ErrDuplicate is returned when a unique name is already taken
	ErrDuplicate = errors.New("key_rotator: duplicate")

	// ErrInvalidInput is returned when an admin write fails validation
	ErrInvalidInput = errors.New("key_rotator: invalid input")

	// ErrGroupNotEmpty is returned when deleting a group that still owns credentials
	ErrGroupNotEmpty = errors.New("key_rotator: group still has credentials")
)
