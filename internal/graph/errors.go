package graph

import "errors"

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found in graph store")

// errUnavailable wraps low-level store failures; callers match it through
// query.ErrBackendUnavailable at the pipeline boundary.
var errUnavailable = errors.New("graph store unavailable")

// IsUnavailable reports whether err is a store-unreachable failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, errUnavailable)
}
