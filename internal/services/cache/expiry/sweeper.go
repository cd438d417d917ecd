package expiry

import (
	"context"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/platform/timeouts"
	"github.com/robfig/cron/v3"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = time.Minute

// Clearer deletes expired documents.
type Clearer interface {
	ClearExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically deletes expired documents.
type Sweeper struct {
	clearer  Clearer
	interval time.Duration
	logger   cron.Logger
}

// NewSweeper creates a sweeper. Intervals are scheduled at one second
// resolution; zero selects DefaultSweepInterval.
func NewSweeper(clearer Clearer, interval time.Duration) (*Sweeper, error) {
	if clearer == nil {
		return nil, fmt.Errorf("clearer is required")
	}
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval < time.Second {
		return nil, fmt.Errorf("sweep interval must be at least 1s, got %s", interval)
	}
	return &Sweeper{
		clearer:  clearer,
		interval: interval,
		logger:   cron.PrintfLogger(log.Default()),
	}, nil
}

// Mode reports ModeSweep.
func (s *Sweeper) Mode() Mode {
	return ModeSweep
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Sweep runs one bounded sweep and returns the number of removed documents.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Sweep)
	defer cancel()
	removed, err := s.clearer.ClearExpired(ctx)
	if err != nil {
		return removed, fmt.Errorf("sweep expired entries: %w", err)
	}
	return removed, nil
}

// Run sweeps once immediately and then on every interval until ctx is
// cancelled. A sweep still running when the next one is due is skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.sweepAndLog(ctx)

	scheduler := cron.New(
		cron.WithLogger(s.logger),
		cron.WithChain(cron.Recover(s.logger), cron.SkipIfStillRunning(s.logger)),
	)
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.sweepAndLog(ctx)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	removed, err := s.Sweep(ctx)
	if err != nil {
		if apperrors.IsRetryable(err) {
			log.Printf("expiry sweep deferred to next run: %v", err)
			return
		}
		log.Printf("expiry sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("expiry sweep removed %d entries", removed)
	}
}
