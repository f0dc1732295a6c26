package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"time"
)

type cachedStatus struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache is a short-lived read-through cache of order statuses.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return &StatusCache{rdb: rdb, ttl: ttl}
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, s orders.Status, at time.Time) error {
	b, err := json.Marshal(cachedStatus{Status: s, UpdatedAt: at})
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

func (c *StatusCache) Status(ctx context.Context, orderID string) (orders.Status, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get status: %w", err)
	}
	var cs cachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return "", false, fmt.Errorf("unmarshal status: %w", err)
	}
	return cs.Status, cs.Status != "", nil
}
