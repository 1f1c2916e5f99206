//go:build sqlite_vec && cgo

package graph

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension as auto-loadable. Without this build
	// tag the store detects the missing vec0 module at runtime and falls
	// back to a cosine scan.
	vec.Auto()
}
