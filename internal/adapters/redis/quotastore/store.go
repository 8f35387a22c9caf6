package quotastore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/quotastore"
)

// consumeScript atomically increments the window counter, arming the
// window TTL on first use, and reports allowance against the limit.
// An over-limit attempt is undone immediately so denials never consume
// refundable capacity. Returns {allowed, remaining, pttl}.
var consumeScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local ttl = redis.call('PTTL', KEYS[1])
local limit = tonumber(ARGV[1])
if c > limit then
  redis.call('DECR', KEYS[1])
  return {0, 0, ttl}
end
return {1, limit - c, ttl}
`)

// refundScript decrements the counter only while the window is still
// live and the counter positive, so a late refund cannot credit the
// next window.
var refundScript = redis.NewScript(`
local c = redis.call('GET', KEYS[1])
if not c or tonumber(c) <= 0 then
  return 0
end
redis.call('DECR', KEYS[1])
return 1
`)

// Store is a Redis implementation of quotastore.Store using fixed
// windows keyed per (subject, scope). Atomicity comes from server-side
// scripts, so concurrent callers across API replicas never double-admit.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Consume(ctx context.Context, subject domain.SubjectID, scope quotastore.Scope, limit int, window time.Duration) (quotastore.Result, error) {
	key := counterKey(subject, scope)
	vals, err := consumeScript.Run(ctx, s.rdb, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return quotastore.Result{}, fmt.Errorf("quota consume: %w", err)
	}
	if len(vals) != 3 {
		return quotastore.Result{}, fmt.Errorf("quota consume: unexpected script reply %v", vals)
	}

	res := quotastore.Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
	}
	if vals[2] > 0 {
		res.ResetAt = time.Now().UTC().Add(time.Duration(vals[2]) * time.Millisecond)
	}
	return res, nil
}

func (s *Store) Refund(ctx context.Context, subject domain.SubjectID, scope quotastore.Scope, window time.Duration) error {
	_ = window
	key := counterKey(subject, scope)
	if err := refundScript.Run(ctx, s.rdb, []string{key}).Err(); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

func counterKey(subject domain.SubjectID, scope quotastore.Scope) string {
	return fmt.Sprintf("%s:v1:%s", scope, subject)
}
