package inventory

import (
	"context"
	"go.uber.org/zap"
	"time"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 100
)

// Sweeper periodically reclaims expired reservations. It compensates for
// submissions abandoned between reservation and confirmation.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewSweeper(m *Manager, interval time.Duration, batch int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{manager: m, interval: interval, batch: batch, log: log}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("reservation sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce drains expired reservations batch by batch.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.manager.Sweep(ctx, s.batch)
		total += n
		if err != nil {
			s.log.Error("reservation sweep", zap.Error(err))
			break
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.log.Info("reservation sweep finished", zap.Int("released", total))
	}
	return total
}
