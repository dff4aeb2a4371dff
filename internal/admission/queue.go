// Package admission implements the pre-reservation waiting line.  Each
// event has a FIFO queue of waiting users backed by a Redis sorted set;
// a background promotion cycle pops the head of the line and issues
// time-limited admission tokens, keeping the number of live tokens per
// event within a configured concurrency budget.  Holding a token is the
// precondition for attempting a reservation.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-slot-reservation/internal/model"
)

// ErrNoToken is returned by ConsumeToken when the caller holds no live
// admission token.  The client should re-enter the queue.
var ErrNoToken = errors.New("no admission token")

// ErrNotQueued is returned by Status when the user is neither waiting
// nor holding a token.
var ErrNotQueued = errors.New("not in queue")

// Redis key layout, all scoped per event:
//  adm:<event>:waiting      sorted set of waiting user IDs, FIFO by score
//  adm:<event>:seq          insertion sequence counter for tie-breaking
//  adm:<event>:sess:<user>  session ID, doubles as the heartbeat key
//  adm:<event>:token:<user> signed admission token, TTL = token lifetime
//  adm:<event>:tokens       set of user IDs with an issued token
func waitingKey(eventID uint64) string { return fmt.Sprintf("adm:%d:waiting", eventID) }
func seqKey(eventID uint64) string     { return fmt.Sprintf("adm:%d:seq", eventID) }
func sessKey(eventID, userID uint64) string {
	return fmt.Sprintf("adm:%d:sess:%d", eventID, userID)
}
func tokenKey(eventID, userID uint64) string {
	return fmt.Sprintf("adm:%d:token:%d", eventID, userID)
}
func tokenSetKey(eventID uint64) string { return fmt.Sprintf("adm:%d:tokens", eventID) }

// claimScript pops the earliest waiting entry and claims a budget seat
// for it in one atomic step: the budget check (token-set cardinality),
// the pop and the token-set SADD all happen inside Redis, so concurrent
// promotion cycles across service instances can never issue past the
// budget.  Entries whose session key is gone are discarded in the same
// step.  KEYS[1] waiting ZSET, KEYS[2] token set; ARGV[1] budget,
// ARGV[2] session key prefix.
var claimScript = redis.NewScript(`
	local budget = tonumber(ARGV[1])
	while true do
		if redis.call('SCARD', KEYS[2]) >= budget then
			return false
		end
		local m = redis.call('ZRANGE', KEYS[1], 0, 0)
		if #m == 0 then
			return false
		end
		redis.call('ZREM', KEYS[1], m[1])
		if redis.call('EXISTS', ARGV[2] .. m[1]) == 1 then
			redis.call('SADD', KEYS[2], m[1])
			return m[1]
		end
	end
`)

// EnterResult is returned by Enter.  IsNew is false when the user was
// already waiting or already holds a token; in that case Position and
// SessionID describe the existing entry.
type EnterResult struct {
	Position  int64  `json:"position"`
	IsNew     bool   `json:"is_new"`
	SessionID string `json:"session_id"`
}

// Status describes a user's place in the line.  Position is 1-based and
// zero when the user holds a token (they are past the line).
type Status struct {
	Position       int64      `json:"position"`
	TotalWaiting   int64      `json:"total_waiting"`
	HasToken       bool       `json:"has_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// tokenClaims is the signed payload of an admission token.
type tokenClaims struct {
	EventID uint64 `json:"event_id"`
	UserID  uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Queue manages admission for all events.  All state lives in Redis so
// multiple service instances share one line per event.
type Queue struct {
	rdb          *redis.Client
	secret       []byte
	tokenTTL     time.Duration
	heartbeatTTL time.Duration
	budget       int64
}

// NewQueue constructs a Queue.  secret signs admission tokens; budget is
// the maximum number of live tokens per event.
func NewQueue(rdb *redis.Client, secret string, tokenTTL, heartbeatTTL time.Duration, budget int) *Queue {
	if rdb == nil {
		panic("nil redis client passed to admission.NewQueue")
	}
	return &Queue{
		rdb:          rdb,
		secret:       []byte(secret),
		tokenTTL:     tokenTTL,
		heartbeatTTL: heartbeatTTL,
		budget:       int64(budget),
	}
}

// Enter appends the user to the event's waiting line.  Re-entry is
// idempotent: a user who is already waiting or already holds a token
// gets their existing position and session back with IsNew=false, never
// a duplicate queue entry.
func (q *Queue) Enter(ctx context.Context, eventID, userID uint64) (*EnterResult, error) {
	member := strconv.FormatUint(userID, 10)

	// A live token means the user is already past the line.
	if n, err := q.rdb.Exists(ctx, tokenKey(eventID, userID)).Result(); err != nil {
		return nil, fmt.Errorf("admission: enter: %w", err)
	} else if n > 0 {
		sess, err := q.ensureSession(ctx, eventID, userID)
		if err != nil {
			return nil, err
		}
		return &EnterResult{Position: 0, IsNew: false, SessionID: sess}, nil
	}

	// Existing waiting entry: refresh the heartbeat and report position.
	if _, err := q.rdb.ZScore(ctx, waitingKey(eventID), member).Result(); err == nil {
		sess, serr := q.ensureSession(ctx, eventID, userID)
		if serr != nil {
			return nil, serr
		}
		rank, rerr := q.rdb.ZRank(ctx, waitingKey(eventID), member).Result()
		if rerr != nil {
			return nil, fmt.Errorf("admission: enter: %w", rerr)
		}
		return &EnterResult{Position: rank + 1, IsNew: false, SessionID: sess}, nil
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("admission: enter: %w", err)
	}

	// New entry: the per-event INCR sequence is the arrival order, and
	// using it directly as the score gives the line a total FIFO order
	// with nothing left to tie-break.
	seq, err := q.rdb.Incr(ctx, seqKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("admission: enter: %w", err)
	}
	if err := q.rdb.ZAddNX(ctx, waitingKey(eventID), redis.Z{Score: float64(seq), Member: member}).Err(); err != nil {
		return nil, fmt.Errorf("admission: enter: %w", err)
	}
	sess, err := q.ensureSession(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	rank, err := q.rdb.ZRank(ctx, waitingKey(eventID), member).Result()
	if err != nil {
		return nil, fmt.Errorf("admission: enter: %w", err)
	}
	return &EnterResult{Position: rank + 1, IsNew: true, SessionID: sess}, nil
}

// GetStatus reports the user's place in the line.  It refreshes the
// heartbeat key as a side effect (polling is the heartbeat) but never
// mutates queue order.  ErrNotQueued is returned when the user neither
// waits nor holds a token.
func (q *Queue) GetStatus(ctx context.Context, eventID, userID uint64) (*Status, error) {
	member := strconv.FormatUint(userID, 10)
	total, err := q.rdb.ZCard(ctx, waitingKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("admission: status: %w", err)
	}

	if ttl, err := q.rdb.PTTL(ctx, tokenKey(eventID, userID)).Result(); err != nil {
		return nil, fmt.Errorf("admission: status: %w", err)
	} else if ttl > 0 {
		exp := time.Now().Add(ttl).UTC()
		return &Status{Position: 0, TotalWaiting: total, HasToken: true, TokenExpiresAt: &exp}, nil
	}

	rank, err := q.rdb.ZRank(ctx, waitingKey(eventID), member).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotQueued
		}
		return nil, fmt.Errorf("admission: status: %w", err)
	}
	// Polling keeps the entry alive, recreating the session key when its
	// TTL lapsed between polls.
	if _, err := q.ensureSession(ctx, eventID, userID); err != nil {
		return nil, err
	}
	return &Status{Position: rank + 1, TotalWaiting: total, HasToken: false}, nil
}

// ConsumeToken redeems the user's admission token.  The token is single
// use: the backing key is deleted before the signature is checked, so a
// second call (or a concurrent duplicate request) gets ErrNoToken.  An
// expired key has already been evicted by Redis, which is what enforces
// the TTL.
func (q *Queue) ConsumeToken(ctx context.Context, eventID, userID uint64) (*model.AdmissionToken, error) {
	raw, err := q.rdb.GetDel(ctx, tokenKey(eventID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("admission: consume: %w", err)
	}
	_ = q.rdb.SRem(ctx, tokenSetKey(eventID), strconv.FormatUint(userID, 10)).Err()

	claims := &tokenClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return q.secret, nil
	})
	if err != nil || !tok.Valid || claims.EventID != eventID || claims.UserID != userID {
		return nil, ErrNoToken
	}
	return &model.AdmissionToken{
		EventID:   claims.EventID,
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Promote runs one promotion cycle for an event: while the live token
// count is under the concurrency budget, the earliest waiting entry
// with a live session is claimed and granted a token.  The claim is a
// single script, so cycles running concurrently on several instances
// serialize inside Redis and the budget holds.  Returns the number of
// tokens issued.
func (q *Queue) Promote(ctx context.Context, eventID uint64) (int, error) {
	// Drop token-set members whose token key expired so the claim
	// script's cardinality check counts live tokens only.
	if _, err := q.pruneTokens(ctx, eventID); err != nil {
		return 0, err
	}
	issued := 0
	sessPrefix := fmt.Sprintf("adm:%d:sess:", eventID)
	for {
		v, err := claimScript.Run(ctx, q.rdb,
			[]string{waitingKey(eventID), tokenSetKey(eventID)},
			q.budget, sessPrefix).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break // budget exhausted or line empty
			}
			return issued, fmt.Errorf("admission: promote: %w", err)
		}
		member, _ := v.(string)
		userID, perr := strconv.ParseUint(member, 10, 64)
		if perr != nil {
			_ = q.rdb.SRem(ctx, tokenSetKey(eventID), member).Err()
			continue
		}
		if err := q.issueToken(ctx, eventID, userID); err != nil {
			// Release the claimed seat so the budget cannot leak.
			_ = q.rdb.SRem(ctx, tokenSetKey(eventID), member).Err()
			return issued, err
		}
		issued++
	}
	return issued, nil
}

// SweepExpired removes waiting entries whose heartbeat key is gone and
// prunes the token set.  Abandoned sessions therefore cannot block the
// line indefinitely.  Returns the number of entries removed.
func (q *Queue) SweepExpired(ctx context.Context, eventID uint64) (int, error) {
	members, err := q.rdb.ZRange(ctx, waitingKey(eventID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("admission: sweep: %w", err)
	}
	removed := 0
	for _, member := range members {
		userID, perr := strconv.ParseUint(member, 10, 64)
		if perr != nil {
			_ = q.rdb.ZRem(ctx, waitingKey(eventID), member).Err()
			removed++
			continue
		}
		n, eerr := q.rdb.Exists(ctx, sessKey(eventID, userID)).Result()
		if eerr != nil {
			return removed, fmt.Errorf("admission: sweep: %w", eerr)
		}
		if n == 0 {
			if err := q.rdb.ZRem(ctx, waitingKey(eventID), member).Err(); err != nil {
				return removed, fmt.Errorf("admission: sweep: %w", err)
			}
			removed++
		}
	}
	if _, err := q.pruneTokens(ctx, eventID); err != nil {
		return removed, err
	}
	return removed, nil
}

// issueToken mints a signed admission token for the user and stores it
// under a key whose Redis TTL matches the token lifetime, so store-level
// expiry and claim expiry agree.  The caller has already claimed the
// user's seat in the token set.
func (q *Queue) issueToken(ctx context.Context, eventID, userID uint64) error {
	now := time.Now().UTC()
	claims := &tokenClaims{
		EventID: eventID,
		UserID:  userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(q.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(q.secret)
	if err != nil {
		return fmt.Errorf("admission: sign token: %w", err)
	}
	if err := q.rdb.Set(ctx, tokenKey(eventID, userID), signed, q.tokenTTL).Err(); err != nil {
		return fmt.Errorf("admission: issue token: %w", err)
	}
	// Keep the session alive through the token window so Enter stays
	// idempotent for token holders.
	_ = q.rdb.Expire(ctx, sessKey(eventID, userID), q.tokenTTL+q.heartbeatTTL).Err()
	return nil
}

// pruneTokens drops token-set members whose token key has expired and
// returns the number of live tokens left.  The set only exists for this
// count; the TTL'd token keys are the source of truth.
func (q *Queue) pruneTokens(ctx context.Context, eventID uint64) (int64, error) {
	members, err := q.rdb.SMembers(ctx, tokenSetKey(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("admission: prune tokens: %w", err)
	}
	live := int64(0)
	for _, member := range members {
		userID, perr := strconv.ParseUint(member, 10, 64)
		if perr != nil {
			_ = q.rdb.SRem(ctx, tokenSetKey(eventID), member).Err()
			continue
		}
		n, eerr := q.rdb.Exists(ctx, tokenKey(eventID, userID)).Result()
		if eerr != nil {
			return live, fmt.Errorf("admission: prune tokens: %w", eerr)
		}
		if n == 0 {
			_ = q.rdb.SRem(ctx, tokenSetKey(eventID), member).Err()
			continue
		}
		live++
	}
	return live, nil
}

// ensureSession returns the user's session ID, creating one when none is
// stored, and refreshes its TTL.  Creation goes through SETNX with a
// read-back, so racing duplicate requests settle on the one session ID
// that actually got stored instead of overwriting each other.
func (q *Queue) ensureSession(ctx context.Context, eventID, userID uint64) (string, error) {
	key := sessKey(eventID, userID)
	for {
		fresh := uuid.NewString()
		ok, err := q.rdb.SetNX(ctx, key, fresh, q.heartbeatTTL).Result()
		if err != nil {
			return "", fmt.Errorf("admission: session: %w", err)
		}
		if ok {
			return fresh, nil
		}
		sess, err := q.rdb.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // lapsed between SETNX and GET, start over
			}
			return "", fmt.Errorf("admission: session: %w", err)
		}
		if err := q.rdb.Expire(ctx, key, q.heartbeatTTL).Err(); err != nil {
			return "", fmt.Errorf("admission: session: %w", err)
		}
		return sess, nil
	}
}
