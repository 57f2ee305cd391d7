package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Rental struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID           string          `gorm:"type:text;not null;index:idx_rentals_user_game,priority:1"`
	GameID           string          `gorm:"type:text;not null;index:idx_rentals_user_game,priority:2;index"`
	RemainingSeconds int64           `gorm:"type:bigint;not null;check:remaining_seconds >= 0"`
	Price            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status           string          `gorm:"type:text;not null;index"`
	SessionStartedAt *time.Time
	Version          int64 `gorm:"type:bigint;not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type RentalPayment struct {
	ID       uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID   string            `gorm:"type:text;not null;index"`
	GameID   string            `gorm:"type:text;not null"`
	RentalID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Amount   decimal.Decimal   `gorm:"type:numeric(12,2);not null;check:amount > 0"`
	Kind     string            `gorm:"type:text;not null"`
	Meta     datatypes.JSONMap `gorm:"type:jsonb"`
	Date     time.Time         `gorm:"not null;index"`
}

type RentalDuration struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	GameID    string          `gorm:"type:text;not null;uniqueIndex:idx_rental_durations_game_seconds,priority:1"`
	Duration  int64           `gorm:"type:bigint;not null;uniqueIndex:idx_rental_durations_game_seconds,priority:2"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"type:text;not null;index"`
	Type      string     `gorm:"type:text;not null"`
	Content   string     `gorm:"type:text;not null"`
	RentalID  *uuid.UUID `gorm:"type:uuid"`
	Read      bool       `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Rental{},
		&RentalPayment{},
		&RentalDuration{},
		&Notification{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Notification{},
		&RentalDuration{},
		&RentalPayment{},
		&Rental{},
	)
}
