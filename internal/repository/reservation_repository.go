package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-slot-reservation/internal/model"
)

// ErrReservationNotFound indicates that a reservation was not located
// in the DB.
var ErrReservationNotFound = errors.New("reservation not found")

// mysqlDuplicateEntry is the server error number for a unique key
// violation (ER_DUP_ENTRY).
const mysqlDuplicateEntry = 1062

// ReservationRepo provides access to the reservations ledger, the
// durable system of record for reservation outcomes.  All timestamp
// fields are stored in UTC.  The uniq_user_event_active index makes
// the table itself enforce "at most one non-cancelled reservation per
// user per event"; cancelled rows set active to NULL, which MySQL's
// unique indexes ignore.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying sql.DB for callers that need transactions
// spanning multiple repositories.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const reservationColumns = `id, user_id, event_id, slot_id, status, version, reserved_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }, res *model.Reservation) error {
	return row.Scan(&res.ID, &res.UserID, &res.EventID, &res.SlotID, &res.Status, &res.Version, &res.ReservedAt, &res.UpdatedAt)
}

// CreateConfirmedTx inserts a CONFIRMED reservation row within the
// provided transaction and populates the generated ID and DB-default
// fields on the given model.  A collision on uniq_user_event_active is
// mapped to ErrDuplicateReservation; this is the final word on
// duplicate attempts, regardless of any earlier pre-check.  The caller
// must commit or roll back the transaction.
func (r *ReservationRepo) CreateConfirmedTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (user_id, event_id, slot_id, status, active) VALUES (?, ?, ?, ?, 1)`
	result, err := tx.ExecContext(ctx, q, res.UserID, res.EventID, res.SlotID, model.ReservationConfirmed)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrDuplicateReservation
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	// Query back the full row to populate timestamps and defaults.
	const sel = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	return scanReservation(tx.QueryRowContext(ctx, sel, res.ID), res)
}

// GetByID retrieves a reservation by its ID.  It returns
// ErrReservationNotFound when there is no matching row.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	var res model.Reservation
	if err := scanReservation(r.db.QueryRowContext(ctx, q, id), &res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// FindActiveByUserAndEvent returns the user's non-cancelled reservation
// for the event, or (nil, nil) when none exists.  The coordinator uses
// this as a cheap fail-fast before spending an admission token; the
// unique index remains the authoritative guard.
func (r *ReservationRepo) FindActiveByUserAndEvent(ctx context.Context, userID, eventID uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? AND event_id = ? AND active = 1`
	var res model.Reservation
	if err := scanReservation(r.db.QueryRowContext(ctx, q, userID, eventID), &res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// CancelTx flips a reservation to CANCELLED within the provided
// transaction.  The UPDATE is conditional on the row not already being
// cancelled, and it clears the active marker so the unique index frees
// the (user, event) pair for a future reservation.  Zero affected rows
// means a concurrent or retried cancel already ran and is surfaced as
// ErrAlreadyCancelled, which keeps cancellation idempotent with respect
// to stock: only the caller that actually flipped the row releases a seat.
func (r *ReservationRepo) CancelTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE reservations SET status = ?, active = NULL, version = version + 1
	           WHERE id = ? AND status <> ?`
	res, err := tx.ExecContext(ctx, q, model.ReservationCancelled, id, model.ReservationCancelled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}

// ConfirmedCountBySlot returns the number of confirmed reservations for
// a slot.  The reconciliation sweep derives authoritative remaining
// stock from this count.
func (r *ReservationRepo) ConfirmedCountBySlot(ctx context.Context, slotID uint64) (uint32, error) {
	const q = `SELECT COUNT(*) FROM reservations WHERE slot_id = ? AND status = ?`
	var n uint32
	if err := r.db.QueryRowContext(ctx, q, slotID, model.ReservationConfirmed).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListByUser returns all reservations made by the user, newest first.
// When none exist an empty slice is returned.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? ORDER BY reserved_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]model.Reservation, 0)
	for rows.Next() {
		var res model.Reservation
		if err := scanReservation(rows, &res); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
