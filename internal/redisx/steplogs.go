package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/redis/go-redis/v9"
	"time"
)

// StepLogs keeps submission step logs for a bounded time.
type StepLogs struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStepLogs(rdb *redis.Client, ttl time.Duration) *StepLogs {
	if ttl <= 0 {
		ttl = TTLStepLog
	}
	return &StepLogs{rdb: rdb, ttl: ttl}
}

func (s *StepLogs) SaveStepLog(ctx context.Context, l checkout.StepLog) error {
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(KeyStepLog, l.CorrelationID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set step log: %w", err)
	}
	return nil
}

func (s *StepLogs) StepLog(ctx context.Context, correlationID string) (checkout.StepLog, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(KeyStepLog, correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return checkout.StepLog{}, checkout.ErrStepLogNotFound
	}
	if err != nil {
		return checkout.StepLog{}, fmt.Errorf("redis get step log: %w", err)
	}
	var l checkout.StepLog
	if err := json.Unmarshal(b, &l); err != nil {
		return checkout.StepLog{}, fmt.Errorf("unmarshal step log: %w", err)
	}
	return l, nil
}
