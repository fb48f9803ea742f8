package tdtree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no interval covers the requested identifier and time.
	ErrNotFound = errors.New("interval not found")

	// ErrOutOfRange indicates a time value outside [0, MaxValue].
	ErrOutOfRange = errors.New("time out of range")

	// ErrInvalidIdentifier indicates an empty, oversized or NUL-containing identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidInterval indicates an interval whose start is after its end.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidOptions indicates tree options that cannot produce a valid tree.
	ErrInvalidOptions = errors.New("invalid tree options")
)

// InvariantError reports a structural inconsistency inside the tree. It always
// indicates a bug in split, merge or carve logic rather than bad input, so
// mutations panic with it and Verify returns it.
type InvariantError struct {
	Node   int
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Node < 0 {
		return "tdtree invariant violated: " + e.Detail
	}
	return fmt.Sprintf("tdtree invariant violated at node %d: %s", e.Node, e.Detail)
}

func invariant(id nodeID, format string, args ...any) *InvariantError {
	return &InvariantError{Node: int(id), Detail: fmt.Sprintf(format, args...)}
}
