package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record whose ID is taken
	ErrAlreadyExists = errors.New("already exists")
)
