// Package dedup provides the short-TTL marker store the event bus uses to
// guarantee at-most-once handler execution for redelivered events.
package dedup

import "context"

// Cache is a marker store keyed by event ID.
//
// Acquire must be atomic: when two consumers race on the same event ID,
// exactly one of them wins the marker. The winner runs handlers; on failure
// it calls Release so a later redelivery can try again, and on success the
// marker simply expires after the configured TTL.
type Cache interface {
	// Acquire atomically sets the marker for eventID if it is not already
	// present. Returns true when this caller won the marker.
	Acquire(ctx context.Context, eventID int64) (bool, error)

	// Release removes the marker for eventID.
	Release(ctx context.Context, eventID int64) error

	// IsProcessed reports whether a marker exists for eventID.
	IsProcessed(ctx context.Context, eventID int64) (bool, error)

	Close() error
}
