package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found. Cross-workspace
	// lookups return this same error so callers cannot distinguish
	// "absent" from "belongs to another tenant".
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned by first-write-wins creates when the
	// key is already taken.
	ErrAlreadyExists = errors.New("entity already exists")
)
