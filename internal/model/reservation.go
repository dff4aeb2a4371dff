package model

import "time"

// Reservation statuses.  A reservation is created directly in CONFIRMED
// state by the coordinator because the Redis stock decrement has already
// been won by the time the row is written; PENDING exists for flows that
// stage a row before the decrement is trusted as final.
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationCancelled = "CANCELLED"
)

// Reservation records the durable outcome of a reservation attempt.  It
// is the system of record row backing idempotency: the ledger enforces
// at most one non-cancelled reservation per (UserID, EventID) through a
// unique index, which is the final backstop against duplicate confirmed
// reservations when requests from the same user race.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – user who made the reservation.
//  EventID    – event the slot belongs to (denormalised for the unique index).
//  SlotID     – slot being reserved.
//  Status     – PENDING, CONFIRMED or CANCELLED.
//  Version    – optimistic concurrency counter.
//  ReservedAt – creation timestamp.
//  UpdatedAt  – last update timestamp.
type Reservation struct {
	ID         uint64    // reservations.id
	UserID     uint64    // reservations.user_id
	EventID    uint64    // reservations.event_id
	SlotID     uint64    // reservations.slot_id
	Status     string    // reservations.status
	Version    uint64    // reservations.version
	ReservedAt time.Time // reservations.reserved_at
	UpdatedAt  time.Time // reservations.updated_at
}

// Cancelled reports whether the reservation has been cancelled.
func (r *Reservation) Cancelled() bool { return r.Status == ReservationCancelled }
