package rentals

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// remainingAt is the playable time left at now, counting a running session against the stored
// budget.
func remainingAt(m rentalModel, now time.Time) Seconds {
	left := Seconds(m.RemainingSeconds)
	if m.SessionStartedAt == nil {
		return left
	}
	elapsed := now.Sub(*m.SessionStartedAt)
	if elapsed <= 0 {
		return left
	}
	left -= SecondsFrom(elapsed)
	if left < 0 {
		return 0
	}
	return left
}

func sessionState(m rentalModel, now time.Time) SessionState {
	return SessionState{
		RentalID:  m.ID,
		Remaining: remainingAt(m, now),
		Running:   m.SessionStartedAt != nil,
		Status:    Status(m.Status),
	}
}

// StartSession starts the play clock. Starting a running session is a no-op.
func (s *Service) StartSession(ctx context.Context, id uuid.UUID) (SessionState, error) {
	var started time.Time
	rental, err := s.mutate(ctx, id, func(m rentalModel, now time.Time) (map[string]any, error) {
		started = now
		if m.Status != string(StatusActive) {
			return nil, conflict("rental %s is %s", m.ID, m.Status)
		}
		if m.SessionStartedAt != nil {
			return nil, nil
		}
		if m.RemainingSeconds <= 0 {
			return nil, conflict("rental %s has no time left", m.ID)
		}
		return map[string]any{"session_started_at": now}, nil
	})
	if err != nil {
		return SessionState{}, err
	}
	return sessionState(rentalToModel(rental), started), nil
}

// StopSession folds the elapsed play time into the stored budget and stops the clock.
func (s *Service) StopSession(ctx context.Context, id uuid.UUID) (SessionState, error) {
	var (
		stopped time.Time
		expired bool
	)
	rental, err := s.mutate(ctx, id, func(m rentalModel, now time.Time) (map[string]any, error) {
		stopped = now
		if m.SessionStartedAt == nil {
			return nil, nil
		}
		left := remainingAt(m, now)
		changes := map[string]any{
			"remaining_seconds":  int64(left),
			"session_started_at": nil,
		}
		if left == 0 {
			changes["status"] = string(StatusExpired)
			expired = true
		}
		return changes, nil
	})
	if err != nil {
		return SessionState{}, err
	}

	state := sessionState(rentalToModel(rental), stopped)
	if expired {
		s.publish(ctx, SubjectRentalExpired, rentalEvent(rental))
	}
	return state, nil
}

// Remaining reports the server side remaining time without writing anything.
func (s *Service) Remaining(ctx context.Context, id uuid.UUID) (SessionState, error) {
	m, err := s.loadRental(s.db.WithContext(ctx), id)
	if err != nil {
		return SessionState{}, err
	}
	return sessionState(m, s.now()), nil
}

func rentalToModel(r Rental) rentalModel {
	return rentalModel{
		ID:               r.ID,
		UserID:           r.UserID,
		GameID:           r.GameID,
		RemainingSeconds: int64(r.Time),
		Price:            r.Price,
		Status:           string(r.Status),
		SessionStartedAt: r.SessionStartedAt,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
