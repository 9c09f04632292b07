// Package dedupe provides the content-hash publish guard used by
// Stage 1 to make redelivery of an already-converted object a no-op
// (spec.md §8.1 idempotent-processing invariant under at-least-once
// delivery), grounded on pithecene-io-quarry's adapter/redis pattern.
package dedupe

import (
	"context"
	"time"
)

// Cache is the narrow capability a stage depends on: atomically mark
// key as seen and report whether it already was. Implementations must
// make SeenAndMark safe for concurrent callers.
type Cache interface {
	// SeenAndMark reports whether key was already marked seen within
	// ttl, and marks it seen for ttl as a side effect when it was not.
	// A key that is already marked keeps its original expiry.
	SeenAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
