package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAdjustCountTxIncrementsWithinCapacity(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSlotRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE slots SET current_count = current_count \+ 1`).
		WithArgs(uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.AdjustCountTx(context.Background(), tx, 10, 1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
}

func TestAdjustCountTxZeroRowsMeansStaleCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSlotRepo(db)

	// current_count already at max_capacity: the bounded predicate
	// matches nothing and the mirror must not drift past the bound.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE slots SET current_count = current_count \+ 1`).
		WithArgs(uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.AdjustCountTx(context.Background(), tx, 10, 1); !errors.Is(err, ErrStaleCount) {
		t.Fatalf("err = %v, want ErrStaleCount", err)
	}
}

func TestAdjustCountTxRejectsOtherDeltas(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSlotRepo(db)

	mock.ExpectBegin()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.AdjustCountTx(context.Background(), tx, 10, 2); err == nil {
		t.Fatal("expected error for delta outside +1/-1")
	}
}

func TestGetSlotByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSlotRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM slots WHERE id = ?`)).
		WithArgs(uint64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.GetByID(context.Background(), 404); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestListByEventScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSlotRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "event_id", "name", "max_capacity", "current_count", "version", "created_at", "updated_at"}).
		AddRow(10, 1, "matinee", 100, 3, 7, now, now).
		AddRow(11, 1, "evening", 200, 0, 1, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM slots WHERE event_id = ? ORDER BY id`)).
		WithArgs(uint64(1)).
		WillReturnRows(rows)

	slots, err := repo.ListByEvent(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("len = %d, want 2", len(slots))
	}
	if slots[0].Name != "matinee" || slots[0].MaxCapacity != 100 || slots[0].CurrentCount != 3 {
		t.Fatalf("slot 0 = %+v, scanned wrong", slots[0])
	}
}
