package model

import "time"

// QueueEntry states.  WAITING entries live in the per-event FIFO set and
// either receive a token (TOKEN_ISSUED) or expire after missed
// heartbeats (EXPIRED).  An issued token is consumed by a reservation
// attempt (CONSUMED) or lapses unused past its TTL (TOKEN_EXPIRED).
const (
	QueueWaiting      = "WAITING"
	QueueTokenIssued  = "TOKEN_ISSUED"
	QueueConsumed     = "CONSUMED"
	QueueExpired      = "EXPIRED"
	QueueTokenExpired = "TOKEN_EXPIRED"
)

// QueueEntry describes a user's place in an event's admission line.
// Entries are ordered by an insertion sequence number assigned at
// enqueue, so the line has a total order even for same-instant arrivals.
type QueueEntry struct {
	EventID    uint64    `json:"event_id"`
	UserID     uint64    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Position   int64     `json:"position"`
}

// AdmissionToken is a time-limited permit to attempt a reservation.  The
// number of live unexpired tokens per event never exceeds the configured
// concurrency budget.  Tokens are single use: consumption deletes the
// backing key whether or not the attempt succeeds.
type AdmissionToken struct {
	EventID   uint64    `json:"event_id"`
	UserID    uint64    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
