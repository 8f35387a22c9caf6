package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

const keyPrefix = "cache:v1:"

// hitScript bumps the hit counter and clamps its lifetime to the
// entry's remaining TTL, so the counter can never outlive the entry it
// counts for. Returns {hits, pttl}.
var hitScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
local hits = redis.call('INCR', KEYS[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return {hits, ttl}
`)

// entryDoc is the JSON shape stored under the cache key. Expiry is
// delegated to Redis TTL; the hit counter lives in a sibling key so a
// hit does not rewrite the entry itself.
type entryDoc struct {
	Artifact  domain.Artifact `json:"artifact"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Cache is a Redis implementation of resultcache.Cache.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Lookup(ctx context.Context, fp domain.Fingerprint) (resultcache.Entry, bool, error) {
	key := keyPrefix + string(fp)

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return resultcache.Entry{}, false, nil
	}
	if err != nil {
		return resultcache.Entry{}, false, fmt.Errorf("cache lookup: %w", err)
	}

	var doc entryDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return resultcache.Entry{}, false, fmt.Errorf("cache entry decode: %w", err)
	}

	vals, err := hitScript.Run(ctx, c.rdb, []string{key, key + ":hits"}).Int64Slice()
	if err != nil {
		return resultcache.Entry{}, false, fmt.Errorf("cache hit accounting: %w", err)
	}
	if len(vals) != 2 {
		return resultcache.Entry{}, false, fmt.Errorf("cache hit accounting: unexpected script reply %v", vals)
	}

	e := resultcache.Entry{
		Fingerprint: fp,
		Artifact:    doc.Artifact,
		CreatedAt:   doc.CreatedAt,
		HitCount:    vals[0],
	}
	if vals[1] > 0 {
		e.ExpiresAt = time.Now().UTC().Add(time.Duration(vals[1]) * time.Millisecond)
	}
	return e, true, nil
}

func (c *Cache) Store(ctx context.Context, fp domain.Fingerprint, artifact domain.Artifact, ttl time.Duration) error {
	key := keyPrefix + string(fp)
	doc := entryDoc{Artifact: artifact, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache entry encode: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, key, raw, ttl)
	// A replacing store resets hit accounting for the new entry.
	pipe.Del(ctx, key+":hits")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func (c *Cache) Evict(ctx context.Context, fp domain.Fingerprint) error {
	key := keyPrefix + string(fp)
	if err := c.rdb.Del(ctx, key, key+":hits").Err(); err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}
	return nil
}
