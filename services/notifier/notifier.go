package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gamerent/pkg/render"
	"gamerent/services/rentals"
)

const (
	rentalSubjects = "gamerent.rentals.>"
	durableName    = "notifier-rentals"
)

// Subscriber is the part of the bus the notifier consumes from. *bus.Bus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, subject string, data []byte) error) (io.Closer, error)
}

// Notifier turns rental events into user notifications and serves them back.
type Notifier struct {
	orm *gorm.DB
	bus Subscriber
	now func() time.Time

	subMu sync.Mutex
	sub   io.Closer
}

// New constructs a Notifier. bus may be nil when only the read side is needed.
func New(orm *gorm.DB, bus Subscriber) (*Notifier, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Notifier{
		orm: orm,
		bus: bus,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start subscribes to rental events and processes them until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	if n == nil {
		return errors.New("nil notifier")
	}
	if n.bus == nil {
		return errors.New("bus is required")
	}

	sub, err := n.bus.Subscribe(ctx, rentalSubjects, durableName, n.Handle)
	if err != nil {
		return err
	}

	n.subMu.Lock()
	n.sub = sub
	n.subMu.Unlock()
	return nil
}

// Close stops the subscription if it was created.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}

	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.sub == nil {
		return nil
	}
	err := n.sub.Close()
	n.sub = nil
	return err
}

// Handle stores the notification for one rental event. Redelivered events map to the same id
// and are written once.
func (n *Notifier) Handle(ctx context.Context, subject string, data []byte) error {
	var evt rentals.RentalEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		// a payload that cannot decode will never decode; ack it
		log.Ctx(ctx).Warn().Err(err).Str("subject", subject).Msg("drop malformed rental event")
		return nil
	}
	if evt.RentalID == uuid.Nil || strings.TrimSpace(evt.UserID) == "" {
		log.Ctx(ctx).Warn().Str("subject", subject).Msg("drop rental event without ids")
		return nil
	}

	typ, content, ok := describe(subject, evt)
	if !ok {
		return nil
	}

	rentalID := evt.RentalID
	m := notificationModel{
		ID:        eventID(subject, evt),
		UserID:    evt.UserID,
		Type:      string(typ),
		Content:   content,
		RentalID:  &rentalID,
		CreatedAt: n.now(),
	}
	err := n.orm.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

func describe(subject string, evt rentals.RentalEvent) (Type, string, bool) {
	switch subject {
	case rentals.SubjectRentalCreated:
		return TypeRentalCreated, fmt.Sprintf("Your rental of %s is ready: %s of play time.", evt.GameID, render.Playtime(int64(evt.Time))), true
	case rentals.SubjectRentalExtended:
		return TypeRentalExtended, fmt.Sprintf("Your rental of %s was extended by %s. %s remaining.", evt.GameID, render.Playtime(int64(evt.Added)), render.Playtime(int64(evt.Time))), true
	case rentals.SubjectRentalExpired:
		return TypeRentalExpired, fmt.Sprintf("Your rental of %s has run out of time.", evt.GameID), true
	case rentals.SubjectRentalClosed:
		return TypeOther, fmt.Sprintf("Your rental of %s was closed.", evt.GameID), true
	default:
		return "", "", false
	}
}

func eventID(subject string, evt rentals.RentalEvent) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rentals.MessageID(subject, evt.RentalID, evt.Version)))
}

// List returns a user's notifications, newest first.
func (n *Notifier) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", rentals.ErrValidation)
	}

	q := n.orm.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}

	var models []notificationModel
	if err := q.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]Notification, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// MarkRead flags one notification as read.
func (n *Notifier) MarkRead(ctx context.Context, id uuid.UUID) error {
	res := n.orm.WithContext(ctx).Model(&notificationModel{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, rentals.ErrNotFound)
	}
	return nil
}

// MarkAllRead flags every unread notification of a user and returns how many changed.
func (n *Notifier) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := n.orm.WithContext(ctx).Model(&notificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
