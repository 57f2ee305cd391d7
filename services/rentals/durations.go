package rentals

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListDurations returns the purchasable options of a game, shortest first.
func (s *Service) ListDurations(ctx context.Context, gameID string) ([]Duration, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, invalid("game id is required")
	}

	var models []durationModel
	err := s.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("duration ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list durations: %w", err)
	}

	out := make([]Duration, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// UpsertDuration sets the price of a game's duration option, creating it when missing.
func (s *Service) UpsertDuration(ctx context.Context, gameID string, d Seconds, price decimal.Decimal) (Duration, error) {
	return s.upsertDuration(s.db.WithContext(ctx), gameID, d, price)
}

func (s *Service) upsertDuration(q *gorm.DB, gameID string, d Seconds, price decimal.Decimal) (Duration, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return Duration{}, invalid("game id is required")
	}
	if d <= 0 {
		return Duration{}, invalid("duration must be greater than zero")
	}
	if price.IsNegative() {
		return Duration{}, invalid("price must not be negative")
	}

	now := s.now()
	m := durationModel{
		ID:        newID(),
		GameID:    gameID,
		Duration:  int64(d),
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "duration"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return Duration{}, fmt.Errorf("upsert duration: %w", err)
	}

	var stored durationModel
	if err := q.First(&stored, "game_id = ? AND duration = ?", gameID, int64(d)).Error; err != nil {
		return Duration{}, fmt.Errorf("upsert duration: %w", err)
	}
	return stored.toAPI(), nil
}

// DeleteDuration removes one duration option.
func (s *Service) DeleteDuration(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid("duration id is required")
	}
	res := s.db.WithContext(ctx).Delete(&durationModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete duration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("duration %s", id)
	}
	return nil
}
