package rentals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns the rental and rental payment stores.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	events Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for timestamps and session accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher attaches an event publisher. Without one, no events are sent.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService builds a Service on top of db.
func NewService(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("rentals: nil database")
	}
	s := &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRental persists a new active rental.
func (s *Service) CreateRental(ctx context.Context, in CreateInput) (Rental, error) {
	m, err := s.newRental(in)
	if err != nil {
		return Rental{}, err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Rental{}, fmt.Errorf("create rental: %w", err)
	}

	rental := m.toAPI()
	s.publish(ctx, SubjectRentalCreated, rentalEvent(rental))
	return rental, nil
}

func (s *Service) newRental(in CreateInput) (rentalModel, error) {
	userID, gameID, err := refs(in.UserID, in.GameID)
	if err != nil {
		return rentalModel{}, err
	}
	if in.Time < 0 {
		return rentalModel{}, invalid("time must not be negative")
	}
	if in.Price.IsNegative() {
		return rentalModel{}, invalid("price must not be negative")
	}

	now := s.now()
	return rentalModel{
		ID:               newID(),
		UserID:           userID,
		GameID:           gameID,
		RemainingSeconds: int64(in.Time),
		Price:            in.Price,
		Status:           string(StatusActive),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// ListRentals returns every rental, newest first.
func (s *Service) ListRentals(ctx context.Context) ([]Rental, error) {
	return s.findRentals(ctx, s.db.WithContext(ctx))
}

// RentalsByUser returns the rentals of one user, newest first.
func (s *Service) RentalsByUser(ctx context.Context, userID string) ([]Rental, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user id is required")
	}
	return s.findRentals(ctx, s.db.WithContext(ctx).Where("user_id = ?", userID))
}

// RentalsByGame returns the rentals of one game, newest first.
func (s *Service) RentalsByGame(ctx context.Context, gameID string) ([]Rental, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, invalid("game id is required")
	}
	return s.findRentals(ctx, s.db.WithContext(ctx).Where("game_id = ?", gameID))
}

func (s *Service) findRentals(_ context.Context, q *gorm.DB) ([]Rental, error) {
	var models []rentalModel
	if err := q.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list rentals: %w", err)
	}
	out := make([]Rental, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// GetRental loads a rental by id.
func (s *Service) GetRental(ctx context.Context, id uuid.UUID) (Rental, error) {
	m, err := s.loadRental(s.db.WithContext(ctx), id)
	if err != nil {
		return Rental{}, err
	}
	return m.toAPI(), nil
}

func (s *Service) loadRental(q *gorm.DB, id uuid.UUID) (rentalModel, error) {
	if id == uuid.Nil {
		return rentalModel{}, invalid("rental id is required")
	}
	var m rentalModel
	if err := q.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rentalModel{}, notFound("rental %s", id)
		}
		return rentalModel{}, fmt.Errorf("load rental: %w", err)
	}
	return m, nil
}

// UpdateRental replaces the time and price of a rental. Reaching zero time expires it.
func (s *Service) UpdateRental(ctx context.Context, id uuid.UUID, t Seconds, price decimal.Decimal) (Rental, error) {
	if t < 0 {
		return Rental{}, invalid("time must not be negative")
	}
	if price.IsNegative() {
		return Rental{}, invalid("price must not be negative")
	}

	return s.mutate(ctx, id, func(m rentalModel, now time.Time) (map[string]any, error) {
		changes := map[string]any{
			"remaining_seconds": int64(t),
			"price":             price,
		}
		switch {
		case m.Status == string(StatusClosed):
		case t == 0:
			changes["status"] = string(StatusExpired)
			changes["session_started_at"] = nil
		default:
			changes["status"] = string(StatusActive)
			if m.SessionStartedAt != nil {
				changes["session_started_at"] = now
			}
		}
		return changes, nil
	})
}

// DeleteRental removes a rental. Its payments are left untouched.
func (s *Service) DeleteRental(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid("rental id is required")
	}

	var m rentalModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = s.loadRental(tx, id); err != nil {
			return err
		}
		return tx.Delete(&rentalModel{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete rental: %w", err)
	}

	s.publish(ctx, SubjectRentalDeleted, rentalEvent(m.toAPI()))
	return nil
}

// LatestRental returns the most recently created rental for the pair.
func (s *Service) LatestRental(ctx context.Context, userID, gameID string) (Rental, error) {
	userID, gameID, err := refs(userID, gameID)
	if err != nil {
		return Rental{}, err
	}
	m, err := latest(s.db.WithContext(ctx), userID, gameID)
	if err != nil {
		return Rental{}, err
	}
	return m.toAPI(), nil
}

func latest(q *gorm.DB, userID, gameID string) (rentalModel, error) {
	var m rentalModel
	err := q.Where("user_id = ? AND game_id = ?", userID, gameID).
		Order("created_at DESC, id DESC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rentalModel{}, notFound("rental for user %s and game %s", userID, gameID)
		}
		return rentalModel{}, fmt.Errorf("latest rental: %w", err)
	}
	return m, nil
}

// CheckExisting reports whether the pair has any rental, and whether one of them is still
// playable.
func (s *Service) CheckExisting(ctx context.Context, userID, gameID string) (Existence, error) {
	userID, gameID, err := refs(userID, gameID)
	if err != nil {
		return Existence{}, err
	}

	q := s.db.WithContext(ctx).Model(&rentalModel{}).Where("user_id = ? AND game_id = ?", userID, gameID)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Existence{}, fmt.Errorf("check rental: %w", err)
	}
	if total == 0 {
		return Existence{}, nil
	}

	var active int64
	err = q.Session(&gorm.Session{}).
		Where("status = ? AND remaining_seconds > 0", string(StatusActive)).
		Count(&active).Error
	if err != nil {
		return Existence{}, fmt.Errorf("check rental: %w", err)
	}
	return Existence{HasExisting: true, HasActive: active > 0}, nil
}

// mutate applies fn to the current row and writes the result only if nobody else wrote in
// between. Every successful write bumps version.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(m rentalModel, now time.Time) (map[string]any, error)) (Rental, error) {
	var out rentalModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.loadRental(tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		changes, err := fn(m, now)
		if err != nil {
			return err
		}
		if changes == nil {
			out = m
			return nil
		}
		changes["version"] = gorm.Expr("version + 1")
		changes["updated_at"] = now

		res := tx.Model(&rentalModel{}).
			Where("id = ? AND version = ?", id, m.Version).
			Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("rental %s was modified concurrently", id)
		}

		out, err = s.loadRental(tx, id)
		return err
	})
	if err != nil {
		if isDomainErr(err) {
			return Rental{}, err
		}
		return Rental{}, fmt.Errorf("update rental: %w", err)
	}
	return out.toAPI(), nil
}

func refs(userID, gameID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	gameID = strings.TrimSpace(gameID)
	if userID == "" {
		return "", "", invalid("user id is required")
	}
	if gameID == "" {
		return "", "", invalid("game id is required")
	}
	return userID, gameID, nil
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
