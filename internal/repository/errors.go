// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the reservation coordinator to distinguish between
// failure scenarios without string matching.
package repository

import "errors"

// ErrDuplicateReservation is returned when an insert collides with the
// uniq_user_event_active index, meaning the user already has a
// non-cancelled reservation for the event. This is the authoritative
// backstop against duplicate reservations under concurrency; the
// coordinator's pre-check only exists to fail fast.
var ErrDuplicateReservation = errors.New("duplicate active reservation")

// ErrAlreadyCancelled is returned when a cancellation targets a
// reservation that is already in CANCELLED state. Cancellation updates
// are conditional on the current status precisely so that a retried
// cancel cannot release the same seat twice.
var ErrAlreadyCancelled = errors.New("reservation already cancelled")

// ErrStaleCount is returned when a mirrored slot count update would
// violate 0 <= current_count <= max_capacity, which indicates drift
// between the ledger and the live stock counter.
var ErrStaleCount = errors.New("slot count update out of bounds")
