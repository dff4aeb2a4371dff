package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-slot-reservation/internal/model"
)

// ErrSlotNotFound indicates that a slot was not located in the DB.
var ErrSlotNotFound = errors.New("slot not found")

// SlotRepo manages persistence for slots.  The current_count column is
// only ever adjusted through AdjustCountTx inside the coordinator's
// transactions or overwritten by the reconciler; it mirrors the live
// Redis counter and is not consulted for admission decisions.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo constructs a SlotRepo with the given DB handle.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *SlotRepo) DB() *sql.DB { return r.db }

const slotColumns = `id, event_id, name, max_capacity, current_count, version, created_at, updated_at`

func scanSlot(row interface{ Scan(...any) error }, s *model.Slot) error {
	return row.Scan(&s.ID, &s.EventID, &s.Name, &s.MaxCapacity, &s.CurrentCount, &s.Version, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID retrieves a slot by its ID.  It returns ErrSlotNotFound when
// there is no matching row.
func (r *SlotRepo) GetByID(ctx context.Context, id uint64) (*model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM slots WHERE id = ?`
	var s model.Slot
	if err := scanSlot(r.db.QueryRowContext(ctx, q, id), &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListByEvent returns all slots of an event ordered by ID.  It is used
// by the public browse endpoint; live remaining stock is layered on top
// from Redis by the handler.
func (r *SlotRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM slots WHERE event_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := scanSlot(rows, &s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// ListAll returns every slot.  Used at startup to seed the Redis stock
// counters and by the reconciliation sweep.
func (r *SlotRepo) ListAll(ctx context.Context) ([]model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM slots ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := scanSlot(rows, &s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// AdjustCountTx moves the mirrored confirmed count by delta (+1 on
// reserve, -1 on cancel) inside the caller's transaction.  The bounds
// 0 <= current_count <= max_capacity are enforced in the UPDATE's
// predicate; zero affected rows means the mirror would have left that
// range, which is surfaced as ErrStaleCount so the caller rolls the
// transaction back rather than persisting drift.
func (r *SlotRepo) AdjustCountTx(ctx context.Context, tx *sql.Tx, slotID uint64, delta int) error {
	var q string
	switch {
	case delta == 1:
		q = `UPDATE slots SET current_count = current_count + 1, version = version + 1
		     WHERE id = ? AND current_count < max_capacity`
	case delta == -1:
		q = `UPDATE slots SET current_count = current_count - 1, version = version + 1
		     WHERE id = ? AND current_count > 0`
	default:
		return errors.New("slot count delta must be +1 or -1")
	}
	res, err := tx.ExecContext(ctx, q, slotID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleCount
	}
	return nil
}

// SetCountTx overwrites the mirrored count.  Used only by the
// reconciliation sweep after recomputing the confirmed count from the
// reservations table.
func (r *SlotRepo) SetCountTx(ctx context.Context, tx *sql.Tx, slotID uint64, count uint32) error {
	const q = `UPDATE slots SET current_count = ?, version = version + 1 WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, count, slotID)
	return err
}
