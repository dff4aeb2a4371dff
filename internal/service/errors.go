// Package service contains the reservation coordinator: the only writer
// allowed to mutate both the live stock counter and the durable ledger,
// in that order, with rollback of the counter when the ledger write
// fails.  It also hosts the reconciliation sweep that heals drift
// between the two.
package service

import "errors"

// Business-rule failures.  These are expected outcomes, returned as
// typed values so handlers can render them distinctly (a sold-out slot
// must look different from a missing admission token).
var (
	// ErrCapacityFull means the slot has no remaining stock.  This is
	// the common failure path under oversubscription and is cheap: one
	// Redis script call, no ledger round trip.
	ErrCapacityFull = errors.New("slot capacity exhausted")

	// ErrNoToken means the caller holds no live admission token and
	// must re-enter the queue.
	ErrNoToken = errors.New("no admission token")

	// ErrAlreadyReserved means the user already has a non-cancelled
	// reservation for the event.
	ErrAlreadyReserved = errors.New("already reserved")

	// ErrNotInWindow means the event's reservation window is not open.
	ErrNotInWindow = errors.New("reservation window closed")

	// ErrNotFound means the referenced reservation, slot or event does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner means the reservation belongs to a different user.
	ErrNotOwner = errors.New("not reservation owner")

	// ErrAlreadyCancelled means the reservation was cancelled earlier.
	ErrAlreadyCancelled = errors.New("already cancelled")
)

// Infrastructure failures.  Callers retry these at the boundary with
// backoff; handlers surface them as 5xx.
var (
	// ErrStoreUnavailable means the stock store could not be reached.
	// Stock operations fail closed: a request is rejected loudly, never
	// silently admitted.
	ErrStoreUnavailable = errors.New("stock store unavailable")

	// ErrLedgerWrite means the durable write failed after the stock
	// decrement; the decrement has been rolled back (or logged for
	// reconciliation when the rollback itself failed).
	ErrLedgerWrite = errors.New("ledger write failed")
)
