package rentals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the liveness of a rental.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusClosed  Status = "closed"
)

// Rental is a time-boxed entitlement for a user to play a game.
type Rental struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user"`
	GameID           string          `json:"game"`
	Time             Seconds         `json:"time"`
	Price            decimal.Decimal `json:"price"`
	Status           Status          `json:"status"`
	SessionStartedAt *time.Time      `json:"session_started_at,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PaymentKind says which event a payment settles.
type PaymentKind string

const (
	PaymentPurchase  PaymentKind = "purchase"
	PaymentExtension PaymentKind = "extension"
	PaymentManual    PaymentKind = "manual"
)

// Payment is a financial record tied to the creation or extension of a rental.
type Payment struct {
	ID       uuid.UUID       `json:"id"`
	UserID   string          `json:"user"`
	GameID   string          `json:"game"`
	RentalID uuid.UUID       `json:"rental"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     PaymentKind     `json:"kind"`
	Meta     map[string]any  `json:"meta,omitempty"`
	Date     time.Time       `json:"date"`
}

// PaymentList is every payment, newest first, with server side totals.
type PaymentList struct {
	Payments    []Payment       `json:"rentalPayments"`
	Count       int             `json:"totalPayments"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Duration is one purchasable rental option for a game.
type Duration struct {
	ID       uuid.UUID       `json:"id"`
	GameID   string          `json:"game"`
	Duration Seconds         `json:"duration"`
	Price    decimal.Decimal `json:"price"`
}

// Existence reports whether a (user, game) pair has rentals.
type Existence struct {
	// HasExisting is true when any rental row exists, whatever its time or status.
	HasExisting bool `json:"hasExistingRental"`
	// HasActive is true only when an active rental with time left exists.
	HasActive bool `json:"hasActiveRental"`
}

// SessionState is the server side view of a rental's play clock.
type SessionState struct {
	RentalID  uuid.UUID `json:"rental"`
	Remaining Seconds   `json:"remaining"`
	Running   bool      `json:"running"`
	Status    Status    `json:"status"`
}

// CreateInput holds the fields needed to create a rental.
type CreateInput struct {
	UserID string
	GameID string
	Time   Seconds
	Price  decimal.Decimal
}

// ExtendInput adds time and price to the latest rental of a pair.
type ExtendInput struct {
	UserID          string
	GameID          string
	AdditionalTime  Seconds
	AdditionalPrice decimal.Decimal
	// RecordPayment creates an extension payment in the same transaction.
	RecordPayment bool
	PaymentMeta   map[string]any
}

// PaymentInput holds the fields needed to record a payment.
type PaymentInput struct {
	UserID   string
	GameID   string
	RentalID uuid.UUID
	Amount   decimal.Decimal
	Kind     PaymentKind
	Meta     map[string]any
}
