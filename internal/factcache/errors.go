// Package factcache caches versioned object facts behind a temporal index.
package factcache

import "errors"

var (
	// ErrNotFound indicates no live fact covers the requested identifier and time.
	ErrNotFound = errors.New("fact not found")

	// ErrLockUnavailable indicates the index lock could not be acquired before
	// the context or the lock timeout expired. The cache is unchanged and the
	// call may be retried.
	ErrLockUnavailable = errors.New("index lock unavailable")

	// ErrInvalidRef indicates a reference string that is not "id@version".
	ErrInvalidRef = errors.New("invalid reference")

	// ErrInvalidExpression indicates a snapshot filter that does not compile
	// to a boolean CEL expression.
	ErrInvalidExpression = errors.New("invalid CEL expression")
)
