package model

import "time"

// Event represents a reservable happening with a bounded sale window.
// Reservations for any of the event's slots are only accepted while the
// current time lies inside [OpensAt, ClosesAt].  The window is supplied
// by the CRUD layer; the reservation core never computes it.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – human readable event name.
//  OpensAt   – when the reservation window opens.
//  ClosesAt  – when the reservation window closes.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Event struct {
	ID        uint64    // events.id
	Name      string    // events.name
	OpensAt   time.Time // events.opens_at
	ClosesAt  time.Time // events.closes_at
	CreatedAt time.Time // events.created_at
	UpdatedAt time.Time // events.updated_at
}

// WindowOpen reports whether the reservation window contains the given
// instant.  The window is closed-open: opening time inclusive, closing
// time exclusive.
func (e *Event) WindowOpen(now time.Time) bool {
	return !now.Before(e.OpensAt) && now.Before(e.ClosesAt)
}
