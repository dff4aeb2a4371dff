// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer pair that moves them.
package queue

// ReservationConfirmedEvent is published after a reservation commits.
// It carries enough information for downstream consumers to log, notify
// or feed analytics without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	UserID        uint64 `json:"user_id"`
	EventID       uint64 `json:"event_id"`
	EventName     string `json:"event_name"`
	SlotID        uint64 `json:"slot_id"`
	SlotName      string `json:"slot_name"`
	ReservedAt    string `json:"reserved_at"`
}

// ReservationCancelledEvent is published after a cancellation commits.
type ReservationCancelledEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	UserID        uint64 `json:"user_id"`
	EventID       uint64 `json:"event_id"`
	SlotID        uint64 `json:"slot_id"`
	CancelledAt   string `json:"cancelled_at"`
}
