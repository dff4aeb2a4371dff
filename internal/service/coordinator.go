package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/event-slot-reservation/internal/admission"
	"github.com/iliyamo/event-slot-reservation/internal/model"
	"github.com/iliyamo/event-slot-reservation/internal/repository"
)

// TokenSource redeems admission tokens.  Implemented by admission.Queue;
// absence of a live token is reported as admission.ErrNoToken.
type TokenSource interface {
	ConsumeToken(ctx context.Context, eventID, userID uint64) (*model.AdmissionToken, error)
}

// StockKeeper performs the atomic seat accounting.  Implemented by
// stock.Store.  Decrement's boolean is the sole admission decision for
// the final seat grant; Increment is clamped at the slot's capacity.
type StockKeeper interface {
	Decrement(ctx context.Context, slotID uint64) (bool, error)
	Increment(ctx context.Context, slotID uint64, maxCapacity uint32) (int64, error)
}

// SlotReader and EventReader supply the collaborator-owned facts the
// core never computes itself: capacities and reservation windows.
type SlotReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Slot, error)
}
type EventReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
}

// rollbackAttempts bounds the retries of a stock rollback after a
// failed ledger write.  A rollback that still fails leaks capacity
// until the reconciliation sweep recomputes the counter, so the leak is
// logged loudly.
const rollbackAttempts = 3

// Coordinator orchestrates reservation attempts and cancellations:
// admission token check, atomic stock decrement, durable ledger write,
// and compensation of the decrement when the write fails.  It holds no
// locks across its I/O calls; all cross-request serialization happens
// inside Redis (per-slot key) and MySQL (unique index).
type Coordinator struct {
	tokens TokenSource
	stock  StockKeeper
	ledger Ledger
	slots  SlotReader
	events EventReader
	now    func() time.Time
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(tokens TokenSource, stock StockKeeper, ledger Ledger, slots SlotReader, events EventReader) *Coordinator {
	if tokens == nil || stock == nil || ledger == nil || slots == nil || events == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	return &Coordinator{tokens: tokens, stock: stock, ledger: ledger, slots: slots, events: events, now: time.Now}
}

// Reserve attempts to reserve one seat in the slot for the user.
//
// The sequence is: reservation window check, ledger pre-check for an
// existing live reservation, admission token consumption, atomic stock
// decrement, durable CONFIRMED insert.  A duplicate-key collision on
// the insert (two requests from the same user racing past the
// pre-check) rolls the decrement back and reports ErrAlreadyReserved;
// any other ledger failure rolls it back and reports ErrLedgerWrite.
//
// Token validity is verified once, at consumption time.  A token whose
// TTL lapses while the attempt is in flight does not abort the attempt;
// there is deliberately no mid-transaction re-check.
func (c *Coordinator) Reserve(ctx context.Context, userID, slotID uint64) (*model.Reservation, error) {
	slot, err := c.slots.GetByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	event, err := c.events.GetByID(ctx, slot.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !event.WindowOpen(c.now().UTC()) {
		return nil, ErrNotInWindow
	}

	// Fail fast on an obvious duplicate before spending the token; the
	// unique index remains the backstop for the racy case.
	if existing, err := c.ledger.FindActiveByUserAndEvent(ctx, userID, event.ID); err != nil {
		return nil, ErrLedgerWrite
	} else if existing != nil {
		return nil, ErrAlreadyReserved
	}

	if _, err := c.tokens.ConsumeToken(ctx, event.ID, userID); err != nil {
		if errors.Is(err, admission.ErrNoToken) {
			return nil, ErrNoToken
		}
		return nil, ErrStoreUnavailable
	}

	granted, err := c.stock.Decrement(ctx, slotID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !granted {
		return nil, ErrCapacityFull
	}

	res := &model.Reservation{UserID: userID, EventID: event.ID, SlotID: slotID, Status: model.ReservationConfirmed}
	if err := c.ledger.CreateConfirmed(ctx, res); err != nil {
		c.rollbackStock(ctx, slotID, slot.MaxCapacity)
		if errors.Is(err, repository.ErrDuplicateReservation) {
			return nil, ErrAlreadyReserved
		}
		log.Printf("coordinator: ledger write for user %d slot %d failed: %v", userID, slotID, err)
		return nil, ErrLedgerWrite
	}
	return res, nil
}

// Cancel cancels the user's reservation and releases its seat.
//
// The ledger is updated first: the conditional CANCELLED flip is what
// makes retries safe, because only the call that actually changes the
// row proceeds to increment stock.  A crash after the ledger commit but
// before the increment under-counts available seats until the
// reconciliation sweep recomputes the counter; that gap is accepted
// rather than papered over with a heavier two-phase protocol.
func (c *Coordinator) Cancel(ctx context.Context, reservationID, userID uint64) (*model.Reservation, error) {
	res, err := c.ledger.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrLedgerWrite
	}
	if res.UserID != userID {
		return nil, ErrNotOwner
	}
	if res.Cancelled() {
		return nil, ErrAlreadyCancelled
	}
	slot, err := c.slots.GetByID(ctx, res.SlotID)
	if err != nil {
		return nil, ErrLedgerWrite
	}

	if err := c.ledger.Cancel(ctx, reservationID); err != nil {
		if errors.Is(err, repository.ErrAlreadyCancelled) {
			return nil, ErrAlreadyCancelled
		}
		return nil, ErrLedgerWrite
	}
	if _, err := c.stock.Increment(ctx, res.SlotID, slot.MaxCapacity); err != nil {
		// Ledger says cancelled, counter not yet released: recoverable,
		// the reconciliation sweep heals it from the confirmed count.
		log.Printf("coordinator: stock release for slot %d failed after cancel of reservation %d: %v", res.SlotID, reservationID, err)
	}
	res.Status = model.ReservationCancelled
	return res, nil
}

// rollbackStock compensates a spent decrement after a failed ledger
// write.  It retries a few times; if every attempt fails the leaked
// seat is logged for the reconciliation sweep to recover.
func (c *Coordinator) rollbackStock(ctx context.Context, slotID uint64, maxCapacity uint32) {
	for attempt := 1; attempt <= rollbackAttempts; attempt++ {
		if _, err := c.stock.Increment(ctx, slotID, maxCapacity); err == nil {
			return
		} else if attempt == rollbackAttempts {
			log.Printf("coordinator: stock rollback for slot %d failed after %d attempts, capacity leaked until reconciliation: %v", slotID, attempt, err)
			return
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
}
