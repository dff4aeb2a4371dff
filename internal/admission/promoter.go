package admission

import (
	"context"
	"log"
	"time"
)

// EventLister supplies the event IDs whose admission queues need
// servicing.  It is implemented by the events repository (events whose
// reservation window has not yet closed).
type EventLister interface {
	ActiveEventIDs(ctx context.Context) ([]uint64, error)
}

// Promoter drives the queue's timer loops: the promotion cycle that
// issues admission tokens and the heartbeat sweep that purges abandoned
// entries.  A failed or panicking iteration is logged and skipped; it
// never takes the process down, the next tick simply tries again.
type Promoter struct {
	queue    *Queue
	events   EventLister
	interval time.Duration
}

// NewPromoter constructs a Promoter ticking at the given interval.
func NewPromoter(queue *Queue, events EventLister, interval time.Duration) *Promoter {
	if queue == nil || events == nil {
		panic("nil dependency passed to admission.NewPromoter")
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Promoter{queue: queue, events: events, interval: interval}
}

// Run blocks until the context is cancelled, servicing every active
// event's queue once per tick.  Call it from its own goroutine.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one sweep+promote pass across all active events.
func (p *Promoter) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("admission-promoter: recovered from panic: %v", r)
		}
	}()
	ids, err := p.events.ActiveEventIDs(ctx)
	if err != nil {
		log.Printf("admission-promoter: list events: %v", err)
		return
	}
	for _, eventID := range ids {
		if _, err := p.queue.SweepExpired(ctx, eventID); err != nil {
			log.Printf("admission-promoter: sweep event %d: %v", eventID, err)
			continue
		}
		if n, err := p.queue.Promote(ctx, eventID); err != nil {
			log.Printf("admission-promoter: promote event %d: %v", eventID, err)
		} else if n > 0 {
			log.Printf("admission-promoter: event %d issued %d token(s)", eventID, n)
		}
	}
}
