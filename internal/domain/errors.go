package domain

import "errors"

var (
	// ErrInvalidInput is returned before any network I/O for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownTarget means the id is not part of the catalog.
	ErrUnknownTarget = errors.New("unknown target")
	ErrNotFound      = errors.New("not found")
)
