package book

import "errors"

var (
	// ErrBookNotFound is returned when no source knows the identifier.
	ErrBookNotFound = errors.New("book not found")

	// ErrInvalidISBN is returned for an empty or malformed ISBN.
	ErrInvalidISBN = errors.New("invalid ISBN")
)
