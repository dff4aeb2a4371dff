// Package stock implements the live seat counter for slots on top of
// Redis.  Every mutation runs as a server-side Lua script so the
// check-and-update is a single indivisible step: concurrent callers
// serialize on the slot key inside Redis and the classic read-then-write
// race cannot occur.  No code in this repository may mutate a stock key
// with a separate read followed by a write.
package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Key returns the Redis key holding the remaining-seat counter for a slot.
func Key(slotID uint64) string {
	return fmt.Sprintf("slot:%d:stock", slotID)
}

// decrScript atomically takes one seat if any remain.  It never creates
// the key and never drives the counter negative.  Returns 1 when a seat
// was taken, 0 when the slot is sold out and -1 when the key is absent.
var decrScript = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if not v then
		return -1
	end
	if tonumber(v) <= 0 then
		return 0
	end
	redis.call('DECR', KEYS[1])
	return 1
`)

// incrScript atomically returns one seat, clamped at the slot's maximum
// capacity.  Returns the new value, or -1 when the key is absent so a
// release can never invent stock for an uninitialised slot.
var incrScript = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if not v then
		return -1
	end
	local cap = tonumber(ARGV[1])
	if tonumber(v) >= cap then
		return tonumber(v)
	end
	return redis.call('INCR', KEYS[1])
`)

// Store provides atomic stock accounting for slots.  It is the sole
// authority on remaining capacity during a sale window; the durable
// slots.current_count column only mirrors it.
type Store struct {
	rdb *redis.Client
}

// NewStore returns a Store bound to the given Redis client.  The client
// must be non-nil: unlike caching and rate limiting, stock accounting
// cannot degrade gracefully without Redis.
func NewStore(rdb *redis.Client) *Store {
	if rdb == nil {
		panic("nil redis client passed to stock.NewStore")
	}
	return &Store{rdb: rdb}
}

// Init seeds the counter for a slot with maxCapacity-currentCount.  It
// uses SETNX so it is idempotent: when the key already exists the call
// is a no-op, which prevents double-init races from resetting a live
// counter.  currentCount greater than maxCapacity is rejected.
func (s *Store) Init(ctx context.Context, slotID uint64, maxCapacity, currentCount uint32) error {
	if currentCount > maxCapacity {
		return fmt.Errorf("stock: slot %d current count %d exceeds capacity %d", slotID, currentCount, maxCapacity)
	}
	if err := s.rdb.SetNX(ctx, Key(slotID), int64(maxCapacity-currentCount), 0).Err(); err != nil {
		return fmt.Errorf("stock: init slot %d: %w", slotID, err)
	}
	return nil
}

// Decrement takes one seat from the slot.  It returns true when a seat
// was granted and false when the slot is sold out or uninitialised.
// The boolean result is the sole admission decision for the final seat
// grant; callers must not second-guess it with their own reads.  Any
// Redis error fails closed: the caller must reject the reservation.
func (s *Store) Decrement(ctx context.Context, slotID uint64) (bool, error) {
	n, err := decrScript.Run(ctx, s.rdb, []string{Key(slotID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("stock: decrement slot %d: %w", slotID, err)
	}
	return n == 1, nil
}

// Increment returns one seat to the slot, clamping at maxCapacity so
// repeated releases can never push remaining stock above the slot's
// capacity.  It returns the counter value after the call; 0 with no
// error when the slot is uninitialised.
func (s *Store) Increment(ctx context.Context, slotID uint64, maxCapacity uint32) (int64, error) {
	n, err := incrScript.Run(ctx, s.rdb, []string{Key(slotID)}, int64(maxCapacity)).Int64()
	if err != nil {
		return 0, fmt.Errorf("stock: increment slot %d: %w", slotID, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Remaining reads the current counter for display purposes.  The second
// return value reports whether the value is live: false means the key is
// absent (or Redis failed) and the caller should fall back to the
// durable mirror and flag the number as stale.  Remaining must never be
// used for admission decisions; that is Decrement's job.
func (s *Store) Remaining(ctx context.Context, slotID uint64) (int64, bool, error) {
	n, err := s.rdb.Get(ctx, Key(slotID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stock: read slot %d: %w", slotID, err)
	}
	return n, true, nil
}

// setIfScript applies a recomputed counter value only while the counter
// still holds the value observed before the computation started (or is
// still absent when it was observed absent).  An empty ARGV[1] encodes
// the observed-absent case.
var setIfScript = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if ARGV[1] == '' then
		if v then
			return 0
		end
	elseif not v or v ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
`)

// SetIfUnchanged overwrites the counter with remaining, but only when it
// still matches an earlier Remaining read (observed/live).  It exists
// solely for the reconciliation sweep: the sweep computes remaining
// stock from the ledger's confirmed count, and the compare-and-set
// guarantees a seat consumed between that read and this write is not
// resurrected.  It reports whether the write was applied; false means
// the counter moved and the caller should recompute.
func (s *Store) SetIfUnchanged(ctx context.Context, slotID uint64, observed int64, live bool, remaining int64) (bool, error) {
	expected := ""
	if live {
		expected = strconv.FormatInt(observed, 10)
	}
	n, err := setIfScript.Run(ctx, s.rdb, []string{Key(slotID)}, expected, remaining).Int64()
	if err != nil {
		return false, fmt.Errorf("stock: set slot %d: %w", slotID, err)
	}
	return n == 1, nil
}
