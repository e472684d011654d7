package booking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const sweepBatch = 500

// ReleaseExpired releases pending reservations created more than PendingTTL
// before now and returns how many it released.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.opts.PendingTTL)
	released := 0
	for {
		batch, err := s.store.Reservations.ListPendingBefore(ctx, cutoff, sweepBatch)
		if err != nil {
			return released, systemFailure("release expired", err)
		}
		progress := 0
		for _, res := range batch {
			if _, err := s.Release(ctx, res.ID); err != nil {
				// Confirmed between the listing and the release.
				if errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return released, err
			}
			progress++
		}
		released += progress
		if len(batch) < sweepBatch || progress == 0 {
			return released, nil
		}
	}
}

// Sweeper runs ReleaseExpired on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Start sweeps until ctx is done.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sw.RunOnce(ctx, now)
		}
	}
}

func (sw *Sweeper) RunOnce(ctx context.Context, now time.Time) int {
	n, err := sw.svc.ReleaseExpired(ctx, now)
	if err != nil {
		sw.logger.Error().Err(err).Msg("release expired reservations")
	}
	if n > 0 {
		sw.logger.Info().Int("released", n).Msg("released expired reservations")
	}
	return n
}
