package rentals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type rentalModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID           string          `gorm:"type:text;not null;index:idx_rentals_user_game,priority:1"`
	GameID           string          `gorm:"type:text;not null;index:idx_rentals_user_game,priority:2"`
	RemainingSeconds int64           `gorm:"type:bigint;not null"`
	Price            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status           string          `gorm:"type:text;not null"`
	SessionStartedAt *time.Time
	Version          int64 `gorm:"type:bigint;not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (rentalModel) TableName() string { return "rentals" }

func (m rentalModel) toAPI() Rental {
	return Rental{
		ID:               m.ID,
		UserID:           m.UserID,
		GameID:           m.GameID,
		Time:             Seconds(m.RemainingSeconds),
		Price:            m.Price,
		Status:           Status(m.Status),
		SessionStartedAt: m.SessionStartedAt,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

type paymentModel struct {
	ID       uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID   string            `gorm:"type:text;not null;index"`
	GameID   string            `gorm:"type:text;not null"`
	RentalID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Amount   decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	Kind     string            `gorm:"type:text;not null"`
	Meta     datatypes.JSONMap `gorm:"type:jsonb"`
	Date     time.Time         `gorm:"not null;index"`
}

func (paymentModel) TableName() string { return "rental_payments" }

func (m paymentModel) toAPI() Payment {
	return Payment{
		ID:       m.ID,
		UserID:   m.UserID,
		GameID:   m.GameID,
		RentalID: m.RentalID,
		Amount:   m.Amount,
		Kind:     PaymentKind(m.Kind),
		Meta:     mapFromJSONMap(m.Meta),
		Date:     m.Date,
	}
}

type durationModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	GameID    string          `gorm:"type:text;not null;uniqueIndex:idx_rental_durations_game_seconds,priority:1"`
	Duration  int64           `gorm:"type:bigint;not null;uniqueIndex:idx_rental_durations_game_seconds,priority:2"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (durationModel) TableName() string { return "rental_durations" }

func (m durationModel) toAPI() Duration {
	return Duration{
		ID:       m.ID,
		GameID:   m.GameID,
		Duration: Seconds(m.Duration),
		Price:    m.Price,
	}
}

// AutoMigrate creates the rental tables. Production schemas are owned by pkg/db/migrations;
// this is for tests and local SQLite runs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&rentalModel{}, &paymentModel{}, &durationModel{})
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
