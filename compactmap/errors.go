package compactmap

import "errors"

var (
	// ErrKeyNotFound is returned by Get when a key is not present.
	ErrKeyNotFound = errors.New("compactmap: key not found")

	// ErrDuplicateKey is returned by Add when a key is already present.
	ErrDuplicateKey = errors.New("compactmap: duplicate key")

	// ErrInvalidArgument is returned by New on a negative or oversized
	// capacity, or a missing hash function.
	ErrInvalidArgument = errors.New("compactmap: invalid argument")
)
