package rentals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper expires rentals whose running session has used up the remaining time.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	onSweep  func(expired int, err error)
}

// NewSweeper creates a sweeper that runs every interval. onSweep, when set, is called after each
// pass.
func NewSweeper(svc *Service, interval time.Duration, onSweep func(expired int, err error)) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval, onSweep: onSweep}
}

// Start sweeps on every tick until ctx is cancelled. A failing pass is logged and retried on the
// next tick.
func (w *Sweeper) Start(ctx context.Context) error {
	if w == nil || w.svc == nil {
		return errors.New("nil sweeper")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("sweep rentals")
			} else if n > 0 {
				log.Ctx(ctx).Info().Int("expired", n).Msg("expired rentals")
			}
		}
	}
}

// Sweep runs one pass and returns how many rentals it expired.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := w.svc.ExpireExhausted(ctx)
	if w.onSweep != nil {
		w.onSweep(n, err)
	}
	return n, err
}

// ExpireExhausted marks every running rental with no time left as expired.
func (s *Service) ExpireExhausted(ctx context.Context) (int, error) {
	var running []rentalModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND session_started_at IS NOT NULL", string(StatusActive)).
		Find(&running).Error
	if err != nil {
		return 0, fmt.Errorf("find running rentals: %w", err)
	}

	var expired int
	for _, m := range running {
		if remainingAt(m, s.now()) > 0 {
			continue
		}

		var changed bool
		rental, err := s.mutate(ctx, m.ID, func(cur rentalModel, now time.Time) (map[string]any, error) {
			if cur.Status != string(StatusActive) || cur.SessionStartedAt == nil || remainingAt(cur, now) > 0 {
				return nil, nil
			}
			changed = true
			return map[string]any{
				"remaining_seconds":  int64(0),
				"status":             string(StatusExpired),
				"session_started_at": nil,
			}, nil
		})
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
			// deleted or touched by a request since the scan; the next pass sees the new state
			continue
		case err != nil:
			return expired, err
		}
		if !changed {
			continue
		}

		expired++
		s.publish(ctx, SubjectRentalExpired, rentalEvent(rental))
	}
	return expired, nil
}
