package service

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/event-slot-reservation/internal/repository"
	"github.com/iliyamo/event-slot-reservation/internal/stock"
)

// Reconciler periodically recomputes every slot's remaining stock from
// the ledger's confirmed count and writes it back to the Redis counter
// and the mirrored current_count column.  This heals the drift left by
// partial failures: a stock rollback that never landed, or a crash
// between a cancellation's ledger commit and its stock release.  The
// counter write is a compare-and-set against the value observed before
// the ledger read; a slot taking live traffic fails the compare and is
// skipped until a quiet tick, so the sweep can never resurrect a seat
// consumed while it was computing.
type Reconciler struct {
	slots        *repository.SlotRepo
	reservations *repository.ReservationRepo
	stock        *stock.Store
	interval     time.Duration
}

// NewReconciler constructs a Reconciler ticking at the given interval.
func NewReconciler(slots *repository.SlotRepo, reservations *repository.ReservationRepo, st *stock.Store, interval time.Duration) *Reconciler {
	if slots == nil || reservations == nil || st == nil {
		panic("nil dependency passed to NewReconciler")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{slots: slots, reservations: reservations, stock: st, interval: interval}
}

// Run blocks until the context is cancelled.  Call it from its own
// goroutine.  A failing pass is logged and skipped; the next tick
// starts from scratch.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick reconciles every slot once.  Per-slot failures are logged and do
// not stop the pass.
func (r *Reconciler) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("reconciler: recovered from panic: %v", rec)
		}
	}()
	slots, err := r.slots.ListAll(ctx)
	if err != nil {
		log.Printf("reconciler: list slots: %v", err)
		return
	}
	for _, s := range slots {
		if err := r.reconcileSlot(ctx, s.ID, s.MaxCapacity); err != nil {
			log.Printf("reconciler: slot %d: %v", s.ID, err)
		}
	}
}

// reconcileSlot recomputes one slot.  The confirmed count is clamped to
// the capacity before deriving the remainder, so a corrupt ledger can
// not push the counter negative.
func (r *Reconciler) reconcileSlot(ctx context.Context, slotID uint64, maxCapacity uint32) error {
	observed, live, err := r.stock.Remaining(ctx, slotID)
	if err != nil {
		return err
	}
	confirmed, err := r.reservations.ConfirmedCountBySlot(ctx, slotID)
	if err != nil {
		return err
	}
	if confirmed > maxCapacity {
		log.Printf("reconciler: slot %d has %d confirmed rows over capacity %d", slotID, confirmed, maxCapacity)
		confirmed = maxCapacity
	}
	applied, err := r.stock.SetIfUnchanged(ctx, slotID, observed, live, int64(maxCapacity-confirmed))
	if err != nil {
		return err
	}
	if !applied {
		// The counter moved while we were reading the ledger, so the
		// value we computed is already stale.  Leave the slot for the
		// next tick.
		return nil
	}
	tx, err := r.slots.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := r.slots.SetCountTx(ctx, tx, slotID, confirmed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// WarmStock seeds the Redis counters for every slot from the durable
// mirror at startup.  Seeding is idempotent (SETNX) so concurrently
// starting instances cannot reset a live counter.
func WarmStock(ctx context.Context, slots *repository.SlotRepo, st *stock.Store) error {
	all, err := slots.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, s := range all {
		if err := st.Init(ctx, s.ID, s.MaxCapacity, s.CurrentCount); err != nil {
			return err
		}
	}
	return nil
}
