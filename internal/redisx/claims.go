package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

// releaseScript deletes the claim only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Claims guards a submission key against concurrent duplicates. The database
// unique index on external_id stays the source of truth.
type Claims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClaims(rdb *redis.Client, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Claims{rdb: rdb, ttl: ttl}
}

func (c *Claims) Claim(ctx context.Context, key, owner string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemSubmission, key), owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *Claims) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf(KeyIdemSubmission, key)}, owner).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
