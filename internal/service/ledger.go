package service

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-slot-reservation/internal/model"
	"github.com/iliyamo/event-slot-reservation/internal/repository"
)

// Ledger is the coordinator's view of the durable system of record.  A
// confirmed insert and a cancellation each bundle the reservation row
// change with the mirrored slot-count adjustment in one transaction, so
// the mirror can never record a reservation the ledger lost or vice
// versa.
type Ledger interface {
	CreateConfirmed(ctx context.Context, res *model.Reservation) error
	Cancel(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	FindActiveByUserAndEvent(ctx context.Context, userID, eventID uint64) (*model.Reservation, error)
}

// SQLLedger implements Ledger on MySQL through the repository layer.
type SQLLedger struct {
	reservations *repository.ReservationRepo
	slots        *repository.SlotRepo
}

// NewSQLLedger constructs a SQLLedger.  Both repositories must share
// the same *sql.DB so transactions can span them.
func NewSQLLedger(reservations *repository.ReservationRepo, slots *repository.SlotRepo) *SQLLedger {
	if reservations == nil || slots == nil {
		panic("nil repository passed to NewSQLLedger")
	}
	return &SQLLedger{reservations: reservations, slots: slots}
}

// CreateConfirmed inserts a CONFIRMED reservation row and bumps the
// slot's mirrored count in one transaction.  A unique-index collision
// surfaces as repository.ErrDuplicateReservation with nothing written.
func (l *SQLLedger) CreateConfirmed(ctx context.Context, res *model.Reservation) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.reservations.CreateConfirmedTx(ctx, tx, res); err != nil {
			return err
		}
		return l.slots.AdjustCountTx(ctx, tx, res.SlotID, 1)
	})
}

// Cancel flips the reservation to CANCELLED and decrements the slot's
// mirrored count in one transaction.  repository.ErrAlreadyCancelled is
// returned, with nothing written, when another cancel got there first.
func (l *SQLLedger) Cancel(ctx context.Context, id uint64) error {
	res, err := l.reservations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if err := l.reservations.CancelTx(ctx, tx, id); err != nil {
			return err
		}
		return l.slots.AdjustCountTx(ctx, tx, res.SlotID, -1)
	})
}

// GetByID loads a reservation row.
func (l *SQLLedger) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	return l.reservations.GetByID(ctx, id)
}

// FindActiveByUserAndEvent returns the user's live reservation for the
// event, or (nil, nil) when none exists.
func (l *SQLLedger) FindActiveByUserAndEvent(ctx context.Context, userID, eventID uint64) (*model.Reservation, error) {
	return l.reservations.FindActiveByUserAndEvent(ctx, userID, eventID)
}

// withTx runs fn inside a transaction, rolling back unless fn succeeds
// and the commit goes through.
func (l *SQLLedger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.reservations.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
