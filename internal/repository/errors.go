package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an upload with the same ID was already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidUpload indicates an upload record that cannot be stored.
	ErrInvalidUpload = errors.New("invalid upload")
)
