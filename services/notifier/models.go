package notifier

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Type classifies a notification.
type Type string

const (
	TypeRentalCreated  Type = "rental_created"
	TypeRentalExtended Type = "rental_extended"
	TypeRentalExpired  Type = "rental_expired"
	TypeOther          Type = "other"
)

// Notification is a message shown to a user in the store.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"userId"`
	Type      Type       `json:"type"`
	Content   string     `json:"content"`
	RentalID  *uuid.UUID `json:"rental,omitempty"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
}

type notificationModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"type:text;not null;index"`
	Type      string     `gorm:"type:text;not null"`
	Content   string     `gorm:"type:text;not null"`
	RentalID  *uuid.UUID `gorm:"type:uuid"`
	Read      bool       `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (notificationModel) TableName() string { return "notifications" }

func (m notificationModel) toAPI() Notification {
	return Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      Type(m.Type),
		Content:   m.Content,
		RentalID:  m.RentalID,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

// AutoMigrate creates the notifications table for tests and local SQLite runs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&notificationModel{})
}
