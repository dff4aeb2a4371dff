package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testTokenTTL     = 2 * time.Minute
	testHeartbeatTTL = 30 * time.Second
)

func newTestQueue(t *testing.T, budget int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb, "test-secret", testTokenTTL, testHeartbeatTTL, budget), mr
}

func TestEnterAssignsFIFOPositions(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 1)

	for i, userID := range []uint64{11, 22, 33} {
		res, err := q.Enter(ctx, 1, userID)
		if err != nil {
			t.Fatalf("enter user %d: %v", userID, err)
		}
		if !res.IsNew {
			t.Fatalf("user %d: expected new entry", userID)
		}
		if res.Position != int64(i+1) {
			t.Fatalf("user %d: position = %d, want %d", userID, res.Position, i+1)
		}
		if res.SessionID == "" {
			t.Fatalf("user %d: empty session id", userID)
		}
	}
}

func TestEnterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 1)

	first, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("enter second user: %v", err)
	}

	again, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("re-enter: %v", err)
	}
	if again.IsNew {
		t.Fatal("re-entry must not create a new entry")
	}
	if again.Position != first.Position {
		t.Fatalf("re-entry position = %d, want %d", again.Position, first.Position)
	}
	if again.SessionID != first.SessionID {
		t.Fatalf("re-entry session = %q, want %q", again.SessionID, first.SessionID)
	}

	st, err := q.GetStatus(ctx, 1, 22)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TotalWaiting != 2 {
		t.Fatalf("total waiting = %d, want 2 (no duplicate entries)", st.TotalWaiting)
	}
}

func TestStatusForUnknownUser(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	if _, err := q.GetStatus(context.Background(), 1, 404); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("err = %v, want ErrNotQueued", err)
	}
}

func TestPromoteHonorsConcurrencyBudget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 2)

	for _, userID := range []uint64{11, 22, 33, 44} {
		if _, err := q.Enter(ctx, 1, userID); err != nil {
			t.Fatalf("enter user %d: %v", userID, err)
		}
	}

	issued, err := q.Promote(ctx, 1)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if issued != 2 {
		t.Fatalf("issued = %d, want 2", issued)
	}

	// The first two entrants hold tokens, FIFO.
	for _, userID := range []uint64{11, 22} {
		st, err := q.GetStatus(ctx, 1, userID)
		if err != nil {
			t.Fatalf("status user %d: %v", userID, err)
		}
		if !st.HasToken {
			t.Fatalf("user %d should hold a token", userID)
		}
		if st.TokenExpiresAt == nil {
			t.Fatalf("user %d: missing token expiry", userID)
		}
	}
	// The rest moved up but still wait.
	st, err := q.GetStatus(ctx, 1, 33)
	if err != nil {
		t.Fatalf("status user 33: %v", err)
	}
	if st.HasToken || st.Position != 1 {
		t.Fatalf("user 33: hasToken=%v position=%d, want waiting at head", st.HasToken, st.Position)
	}

	// A second cycle with the budget exhausted must not over-issue.
	issued, err = q.Promote(ctx, 1)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if issued != 0 {
		t.Fatalf("issued = %d with full budget, want 0", issued)
	}
}

func TestConcurrentPromoteCannotExceedBudget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 1)

	for _, userID := range []uint64{11, 22} {
		if _, err := q.Enter(ctx, 1, userID); err != nil {
			t.Fatalf("enter user %d: %v", userID, err)
		}
	}

	// Promotion cycles racing from two instances must serialize on the
	// claim script: exactly one token for a budget of one.
	var wg sync.WaitGroup
	var issued int64
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := q.Promote(ctx, 1)
			if err != nil {
				t.Errorf("promote: %v", err)
				return
			}
			atomic.AddInt64(&issued, int64(n))
		}()
	}
	wg.Wait()

	if issued != 1 {
		t.Fatalf("issued = %d across concurrent cycles, want exactly 1", issued)
	}
	holders := 0
	for _, userID := range []uint64{11, 22} {
		st, err := q.GetStatus(ctx, 1, userID)
		if err != nil {
			t.Fatalf("status user %d: %v", userID, err)
		}
		if st.HasToken {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("token holders = %d, want exactly 1", holders)
	}
}

func TestEnterKeepsArrivalOrderAcrossSequenceBoundary(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	// Same-instant arrivals around a sequence boundary must keep their
	// arrival order; the score is the raw insertion sequence.
	if err := mr.Set("adm:1:seq", "999"); err != nil {
		t.Fatalf("seed sequence: %v", err)
	}
	first, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("enter first: %v", err)
	}
	second, err := q.Enter(ctx, 1, 22)
	if err != nil {
		t.Fatalf("enter second: %v", err)
	}
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("positions = %d, %d, want 1, 2", first.Position, second.Position)
	}
	st, err := q.GetStatus(ctx, 1, 11)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Position != 1 {
		t.Fatalf("first entrant position = %d after boundary, want 1", st.Position)
	}
}

func TestEnterReusesStoredSession(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	// A session key written by a racing duplicate request wins; Enter
	// reads it back instead of overwriting it with a fresh ID.
	if err := mr.Set("adm:1:sess:11", "stored-session"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	res, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if !res.IsNew {
		t.Fatal("expected a new queue entry")
	}
	if res.SessionID != "stored-session" {
		t.Fatalf("session = %q, want the stored one", res.SessionID)
	}
}

func TestConsumeTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Promote(ctx, 1); err != nil {
		t.Fatalf("promote: %v", err)
	}

	tok, err := q.ConsumeToken(ctx, 1, 11)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if tok.EventID != 1 || tok.UserID != 11 {
		t.Fatalf("token claims = event %d user %d, want event 1 user 11", tok.EventID, tok.UserID)
	}
	if !tok.ExpiresAt.After(tok.IssuedAt) {
		t.Fatal("token expiry must be after issue time")
	}

	if _, err := q.ConsumeToken(ctx, 1, 11); !errors.Is(err, ErrNoToken) {
		t.Fatalf("second consume err = %v, want ErrNoToken", err)
	}
}

func TestConsumeWithoutTokenFails(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	if _, err := q.ConsumeToken(context.Background(), 1, 11); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestExpiredTokenCannotBeConsumed(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Promote(ctx, 1); err != nil {
		t.Fatalf("promote: %v", err)
	}

	mr.FastForward(testTokenTTL + time.Second)

	if _, err := q.ConsumeToken(ctx, 1, 11); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken after TTL", err)
	}
}

func TestExpiredTokenFreesBudgetForNextInLine(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Promote(ctx, 1); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("enter second: %v", err)
	}

	// While 11's token lives, 22 cannot be promoted.
	if issued, _ := q.Promote(ctx, 1); issued != 0 {
		t.Fatalf("issued = %d, want 0 while budget is taken", issued)
	}

	// Let 11's token lapse unused, keep 22's heartbeat alive.
	mr.FastForward(testTokenTTL + time.Second)
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("refresh heartbeat: %v", err)
	}

	issued, err := q.Promote(ctx, 1)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if issued != 1 {
		t.Fatalf("issued = %d, want 1 after token expiry", issued)
	}
	st, err := q.GetStatus(ctx, 1, 22)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.HasToken {
		t.Fatal("user 22 should hold the freed token")
	}
}

func TestSweepRemovesEntriesWithLapsedHeartbeat(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("enter: %v", err)
	}

	mr.FastForward(testHeartbeatTTL + time.Second)
	// 22 polls in time (after the jump), 11 went silent.
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	removed, err := q.SweepExpired(ctx, 1)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := q.GetStatus(ctx, 1, 11); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("user 11 status err = %v, want ErrNotQueued", err)
	}
	st, err := q.GetStatus(ctx, 1, 22)
	if err != nil {
		t.Fatalf("user 22 status: %v", err)
	}
	if st.Position != 1 {
		t.Fatalf("user 22 position = %d, want 1 after sweep", st.Position)
	}
}

func TestStatusPollRestoresLapsedHeartbeat(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	mr.FastForward(testHeartbeatTTL + time.Second)

	// The session key lapsed between polls, but the user is still
	// polling: the poll must re-arm the heartbeat so the sweep keeps
	// the entry.
	if _, err := q.GetStatus(ctx, 1, 11); err != nil {
		t.Fatalf("status: %v", err)
	}
	removed, err := q.SweepExpired(ctx, 1)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 for an actively polling user", removed)
	}
	st, err := q.GetStatus(ctx, 1, 11)
	if err != nil {
		t.Fatalf("status after sweep: %v", err)
	}
	if st.Position != 1 {
		t.Fatalf("position = %d, want 1", st.Position)
	}
}

func TestPromoteSkipsAbandonedEntries(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, 1)

	if _, err := q.Enter(ctx, 1, 11); err != nil {
		t.Fatalf("enter: %v", err)
	}
	mr.FastForward(testHeartbeatTTL + time.Second)
	if _, err := q.Enter(ctx, 1, 22); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// 11's heartbeat lapsed; the single budget seat must go to 22 in
	// the same cycle instead of being burned on the abandoned entry.
	issued, err := q.Promote(ctx, 1)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if issued != 1 {
		t.Fatalf("issued = %d, want 1", issued)
	}
	if _, err := q.ConsumeToken(ctx, 1, 11); !errors.Is(err, ErrNoToken) {
		t.Fatal("abandoned user must not receive a token")
	}
	if _, err := q.ConsumeToken(ctx, 1, 22); err != nil {
		t.Fatalf("live user consume: %v", err)
	}
}

func TestEnterAfterPromotionReportsExistingToken(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 1)

	first, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := q.Promote(ctx, 1); err != nil {
		t.Fatalf("promote: %v", err)
	}

	res, err := q.Enter(ctx, 1, 11)
	if err != nil {
		t.Fatalf("re-enter: %v", err)
	}
	if res.IsNew {
		t.Fatal("token holder re-entry must not create a new entry")
	}
	if res.Position != 0 {
		t.Fatalf("position = %d, want 0 for token holder", res.Position)
	}
	if res.SessionID != first.SessionID {
		t.Fatalf("session = %q, want %q", res.SessionID, first.SessionID)
	}
}
