package redis

import "errors"

var (
	// ErrCacheMiss is returned when a cached item is not found.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrStateNotFound is returned when an OAuth state is unknown, expired or
	// already used.
	ErrStateNotFound = errors.New("oauth state not found")
)
