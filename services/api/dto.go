package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gamerent/services/rentals"
)

func init() {
	// prices and amounts go out as JSON numbers, as the storefront expects
	decimal.MarshalJSONWithoutQuotes = true
}

type createRentalRequest struct {
	User  string           `json:"user" validate:"required"`
	Game  string           `json:"game" validate:"required"`
	Time  *rentals.Seconds `json:"time" validate:"required,gte=0"`
	Price *decimal.Decimal `json:"price" validate:"required"`
}

func (r createRentalRequest) input() rentals.CreateInput {
	return rentals.CreateInput{UserID: r.User, GameID: r.Game, Time: *r.Time, Price: *r.Price}
}

type purchaseRequest struct {
	createRentalRequest
	Meta map[string]any `json:"meta"`
}

type updateRentalRequest struct {
	Time  *rentals.Seconds `json:"time" validate:"required,gte=0"`
	Price *decimal.Decimal `json:"price" validate:"required"`
}

// updateRentalTimeRequest accepts the storefront's remainingTime as well as time.
type updateRentalTimeRequest struct {
	Time          *rentals.Seconds `json:"time" validate:"required_without=RemainingTime"`
	RemainingTime *rentals.Seconds `json:"remainingTime" validate:"required_without=Time"`
	Version       *int64           `json:"version" validate:"omitempty,gt=0"`
}

func (r updateRentalTimeRequest) remaining() rentals.Seconds {
	if r.Time != nil {
		return *r.Time
	}
	return *r.RemainingTime
}

type extendRequest struct {
	AdditionalTime  *rentals.Seconds `json:"additionalTime" validate:"required,gt=0"`
	AdditionalPrice *decimal.Decimal `json:"additionalPrice" validate:"required"`
	RecordPayment   bool             `json:"recordPayment"`
	Meta            map[string]any   `json:"meta"`
}

type createPaymentRequest struct {
	User   string              `json:"user" validate:"required"`
	Game   string              `json:"game" validate:"required"`
	Rental uuid.UUID           `json:"rental" validate:"required"`
	Amount *decimal.Decimal    `json:"amount" validate:"required"`
	Kind   rentals.PaymentKind `json:"kind" validate:"omitempty,oneof=purchase extension manual"`
	Meta   map[string]any      `json:"meta"`
}

type upsertDurationRequest struct {
	Duration *rentals.Seconds `json:"duration" validate:"required,gt=0"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
}

type rentalResponse struct {
	Message string           `json:"message"`
	Rental  rentals.Rental   `json:"rental"`
	Payment *rentals.Payment `json:"payment,omitempty"`
}

type receiptRental struct {
	Seconds int64
	Status  rentals.Status
}

type receiptData struct {
	PaymentID uuid.UUID
	Date      time.Time
	UserID    string
	GameID    string
	RentalID  uuid.UUID
	Kind      rentals.PaymentKind
	Rental    *receiptRental
	Currency  string
	Amount    decimal.Decimal
}
