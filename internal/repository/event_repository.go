package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-slot-reservation/internal/model"
)

// ErrEventNotFound indicates that an event was not located in the DB.
var ErrEventNotFound = errors.New("event not found")

// EventRepo manages persistence for events.  The reservation core only
// reads events: the CRUD layer that creates and edits them is a
// separate application sharing the same schema.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo constructs an EventRepo with the given DB handle.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// GetByID retrieves an event by its ID.  It returns ErrEventNotFound
// when there is no matching row.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT id, name, opens_at, closes_at, created_at, updated_at FROM events WHERE id = ?`
	var e model.Event
	err := r.db.QueryRowContext(ctx, q, id).Scan(&e.ID, &e.Name, &e.OpensAt, &e.ClosesAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ActiveEventIDs returns the IDs of events whose reservation window has
// not yet closed.  The admission promoter services exactly these queues;
// once a window closes the queue keys simply age out.
func (r *EventRepo) ActiveEventIDs(ctx context.Context) ([]uint64, error) {
	const q = `SELECT id FROM events WHERE closes_at > UTC_TIMESTAMP() ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
