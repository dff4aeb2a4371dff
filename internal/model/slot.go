package model

import "time"

// Slot is a reservable unit of finite capacity inside an event, such as
// a time block or a seat group.  CurrentCount in the database is an
// eventually consistent mirror of the live Redis counter; during a sale
// window the Redis value is authoritative and CurrentCount catches up
// through the coordinator's writes and the reconciliation sweep.
// Invariant: 0 <= CurrentCount <= MaxCapacity.
//
// Fields:
//  ID           – primary key identifier.
//  EventID      – event this slot belongs to.
//  Name         – human readable slot label.
//  MaxCapacity  – total number of reservable seats.
//  CurrentCount – confirmed reservations mirrored from the ledger.
//  Version      – optimistic concurrency counter, bumped on every count change.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Slot struct {
	ID           uint64    // slots.id
	EventID      uint64    // slots.event_id
	Name         string    // slots.name
	MaxCapacity  uint32    // slots.max_capacity
	CurrentCount uint32    // slots.current_count
	Version      uint64    // slots.version
	CreatedAt    time.Time // slots.created_at
	UpdatedAt    time.Time // slots.updated_at
}
