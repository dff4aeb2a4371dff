package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-slot-reservation/internal/model"
)

func reservationRows(res *model.Reservation) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "event_id", "slot_id", "status", "version", "reserved_at", "updated_at"}).
		AddRow(res.ID, res.UserID, res.EventID, res.SlotID, res.Status, res.Version, res.ReservedAt, res.UpdatedAt)
}

func TestCreateConfirmedTxInsertsAndReloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations (user_id, event_id, slot_id, status, active) VALUES (?, ?, ?, ?, 1)`)).
		WithArgs(uint64(7), uint64(1), uint64(10), model.ReservationConfirmed).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, event_id, slot_id, status, version, reserved_at, updated_at FROM reservations WHERE id = ?`)).
		WithArgs(uint64(42)).
		WillReturnRows(reservationRows(&model.Reservation{
			ID: 42, UserID: 7, EventID: 1, SlotID: 10,
			Status: model.ReservationConfirmed, Version: 1, ReservedAt: now, UpdatedAt: now,
		}))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	res := &model.Reservation{UserID: 7, EventID: 1, SlotID: 10}
	if err := repo.CreateConfirmedTx(context.Background(), tx, res); err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ID != 42 {
		t.Fatalf("id = %d, want 42", res.ID)
	}
	if res.ReservedAt.IsZero() {
		t.Fatal("reserved_at not populated from the reloaded row")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateConfirmedTxMapsDuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations`)).
		WithArgs(uint64(7), uint64(1), uint64(10), model.ReservationConfirmed).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7-1-1' for key 'uniq_user_event_active'"})

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	res := &model.Reservation{UserID: 7, EventID: 1, SlotID: 10}
	if err := repo.CreateConfirmedTx(context.Background(), tx, res); !errors.Is(err, ErrDuplicateReservation) {
		t.Fatalf("err = %v, want ErrDuplicateReservation", err)
	}
}

func TestCreateConfirmedTxPassesThroughOtherErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations`)).
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = repo.CreateConfirmedTx(context.Background(), tx, &model.Reservation{UserID: 7, EventID: 1, SlotID: 10})
	if err == nil || errors.Is(err, ErrDuplicateReservation) {
		t.Fatalf("err = %v, want the raw driver error", err)
	}
}

func TestCancelTxZeroRowsMeansAlreadyCancelled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE reservations SET status = \?, active = NULL`).
		WithArgs(model.ReservationCancelled, uint64(42), model.ReservationCancelled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.CancelTx(context.Background(), tx, 42); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("err = %v, want ErrAlreadyCancelled", err)
	}
}

func TestCancelTxFlipsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE reservations SET status = \?, active = NULL`).
		WithArgs(model.ReservationCancelled, uint64(42), model.ReservationCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.CancelTx(context.Background(), tx, 42); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestFindActiveByUserAndEventAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE user_id = ? AND event_id = ? AND active = 1`)).
		WithArgs(uint64(7), uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := repo.FindActiveByUserAndEvent(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if res != nil {
		t.Fatalf("res = %+v, want nil for no live reservation", res)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewReservationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE id = ?`)).
		WithArgs(uint64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.GetByID(context.Background(), 404); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("err = %v, want ErrReservationNotFound", err)
	}
}
