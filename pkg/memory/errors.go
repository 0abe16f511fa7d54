package memory

import "errors"

var (
	// ErrNoSource is returned when an aggregator is used without a backing
	// repository.
	ErrNoSource = errors.New("memory source unavailable")
)
