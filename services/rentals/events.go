package rentals

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event subjects published after a change commits.
const (
	StreamName = "GAMERENT"

	SubjectRentalCreated  = "gamerent.rentals.created"
	SubjectRentalExtended = "gamerent.rentals.extended"
	SubjectRentalExpired  = "gamerent.rentals.expired"
	SubjectRentalClosed   = "gamerent.rentals.closed"
	SubjectRentalDeleted  = "gamerent.rentals.deleted"
	SubjectPaymentCreated = "gamerent.payments.created"
)

// Subjects lists the wildcards the event stream must capture.
var Subjects = []string{"gamerent.rentals.>", "gamerent.payments.>"}

// Publisher sends events to the bus. *bus.Bus satisfies it. msgID is stable per event so the
// bus can drop republished duplicates.
type Publisher interface {
	PublishWithID(ctx context.Context, subject, msgID string, v any) error
}

// MessageID identifies one rental event: a subject applied to a rental at a version.
func MessageID(subject string, rentalID uuid.UUID, version int64) string {
	return fmt.Sprintf("%s/%s/%d", subject, rentalID, version)
}

type event interface {
	messageID(subject string) string
}

// RentalEvent is the payload of every rental subject.
type RentalEvent struct {
	RentalID uuid.UUID `json:"rental_id"`
	UserID   string    `json:"user_id"`
	GameID   string    `json:"game_id"`
	Time     Seconds   `json:"time"`
	Price    string    `json:"price"`
	Status   Status    `json:"status"`
	Version  int64     `json:"version"`
	// Added is the time granted by an extension.
	Added Seconds `json:"added,omitempty"`
}

// PaymentEvent is the payload of payment subjects.
type PaymentEvent struct {
	PaymentID uuid.UUID   `json:"payment_id"`
	RentalID  uuid.UUID   `json:"rental_id"`
	UserID    string      `json:"user_id"`
	GameID    string      `json:"game_id"`
	Amount    string      `json:"amount"`
	Kind      PaymentKind `json:"kind"`
}

func (e RentalEvent) messageID(subject string) string {
	return MessageID(subject, e.RentalID, e.Version)
}

func (e PaymentEvent) messageID(subject string) string {
	return subject + "/" + e.PaymentID.String()
}

func rentalEvent(r Rental) RentalEvent {
	return RentalEvent{
		RentalID: r.ID,
		UserID:   r.UserID,
		GameID:   r.GameID,
		Time:     r.Time,
		Price:    r.Price.String(),
		Status:   r.Status,
		Version:  r.Version,
	}
}

func paymentEvent(p Payment) PaymentEvent {
	return PaymentEvent{
		PaymentID: p.ID,
		RentalID:  p.RentalID,
		UserID:    p.UserID,
		GameID:    p.GameID,
		Amount:    p.Amount.String(),
		Kind:      p.Kind,
	}
}

// publish is best effort: the database is the source of truth and a lost event only delays
// notifications.
func (s *Service) publish(ctx context.Context, subject string, payload event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishWithID(ctx, subject, payload.messageID(subject), payload); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}
