package grants

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSweepInterval  = time.Hour
	DefaultSweepBatchSize = 100
)

// Sweeper removes expired grants in bounded batches on a timer. Grants already removed by a
// concurrent redemption are simply not counted.
type Sweeper struct {
	store     Store
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = d
	}
}

func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		s.batchSize = n
	}
}

func WithSweeperLogger(l zerolog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = l
	}
}

func NewSweeper(store Store, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("[NewSweeper] grant store is required")
	}
	s := &Sweeper{
		store:     store,
		interval:  DefaultSweepInterval,
		batchSize: DefaultSweepBatchSize,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 || s.batchSize <= 0 {
		return nil, fmt.Errorf("[NewSweeper] interval and batch size must be positive")
	}
	return s, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Err(err).Msg("grant expiration sweep failed")
			}
		}
	}
}

// SweepOnce removes batches until a batch comes back smaller than the batch size.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.store.RemoveExpired(ctx, s.batchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("[Sweeper.SweepOnce] %w", err)
		}
		if n < s.batchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Debug().Int("removed", total).Msg("removed expired grants")
	}
	return total, nil
}
