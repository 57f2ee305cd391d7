package rentals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Purchase creates a rental and the payment that paid for it in one transaction.
func (s *Service) Purchase(ctx context.Context, in CreateInput, meta map[string]any) (Rental, Payment, error) {
	m, err := s.newRental(in)
	if err != nil {
		return Rental{}, Payment{}, err
	}
	if !m.Price.IsPositive() {
		return Rental{}, Payment{}, invalid("price must be greater than zero")
	}

	p := paymentModel{
		ID:       newID(),
		UserID:   m.UserID,
		GameID:   m.GameID,
		RentalID: m.ID,
		Amount:   m.Price,
		Kind:     string(PaymentPurchase),
		Meta:     toJSONMap(meta),
		Date:     m.CreatedAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		return Rental{}, Payment{}, fmt.Errorf("purchase rental: %w", err)
	}

	rental, payment := m.toAPI(), p.toAPI()
	s.publish(ctx, SubjectRentalCreated, rentalEvent(rental))
	s.publish(ctx, SubjectPaymentCreated, paymentEvent(payment))
	return rental, payment, nil
}

// Extend adds time and price to the latest rental of the pair. The row is locked and
// incremented in place so concurrent extensions add up exactly.
func (s *Service) Extend(ctx context.Context, in ExtendInput) (Rental, *Payment, error) {
	userID, gameID, err := refs(in.UserID, in.GameID)
	if err != nil {
		return Rental{}, nil, err
	}
	if in.AdditionalTime <= 0 {
		return Rental{}, nil, invalid("additional time must be greater than zero")
	}
	if in.AdditionalPrice.IsNegative() {
		return Rental{}, nil, invalid("additional price must not be negative")
	}
	if in.RecordPayment && !in.AdditionalPrice.IsPositive() {
		return Rental{}, nil, invalid("a payment needs an additional price greater than zero")
	}

	var (
		out     rentalModel
		payment *paymentModel
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := latest(tx.Clauses(clause.Locking{Strength: "UPDATE"}), userID, gameID)
		if err != nil {
			return err
		}
		if m.Status == string(StatusClosed) {
			return conflict("rental %s is closed", m.ID)
		}

		now := s.now()
		changes := map[string]any{
			"remaining_seconds": gorm.Expr("remaining_seconds + ?", int64(in.AdditionalTime)),
			"price":             gorm.Expr("price + ?", in.AdditionalPrice),
			"status":            string(StatusActive),
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now,
		}
		// a running session is checkpointed first, so time past an exhausted budget is not
		// charged against the extension
		if m.SessionStartedAt != nil {
			changes["remaining_seconds"] = int64(remainingAt(m, now) + in.AdditionalTime)
			changes["session_started_at"] = now
		}
		if err := tx.Model(&rentalModel{}).Where("id = ?", m.ID).Updates(changes).Error; err != nil {
			return err
		}
		if out, err = s.loadRental(tx, m.ID); err != nil {
			return err
		}

		if in.RecordPayment {
			payment = &paymentModel{
				ID:       newID(),
				UserID:   userID,
				GameID:   gameID,
				RentalID: m.ID,
				Amount:   in.AdditionalPrice,
				Kind:     string(PaymentExtension),
				Meta:     toJSONMap(in.PaymentMeta),
				Date:     now,
			}
			return tx.Create(payment).Error
		}
		return nil
	})
	if err != nil {
		if isDomainErr(err) {
			return Rental{}, nil, err
		}
		return Rental{}, nil, fmt.Errorf("extend rental: %w", err)
	}

	rental := out.toAPI()
	ev := rentalEvent(rental)
	ev.Added = in.AdditionalTime
	s.publish(ctx, SubjectRentalExtended, ev)

	if payment == nil {
		return rental, nil, nil
	}
	p := payment.toAPI()
	s.publish(ctx, SubjectPaymentCreated, paymentEvent(p))
	return rental, &p, nil
}

// UpdateRentalTime stores remaining verbatim. It can only lower the authoritative remaining
// time; version, when given, must match the stored one.
func (s *Service) UpdateRentalTime(ctx context.Context, id uuid.UUID, remaining Seconds, version *int64) (Rental, error) {
	if remaining < 0 {
		return Rental{}, invalid("time must not be negative")
	}

	rental, err := s.mutate(ctx, id, func(m rentalModel, now time.Time) (map[string]any, error) {
		if version != nil && *version != m.Version {
			return nil, conflict("rental %s is at version %d, not %d", m.ID, m.Version, *version)
		}
		if m.Status == string(StatusClosed) {
			return nil, conflict("rental %s is closed", m.ID)
		}
		if current := remainingAt(m, now); remaining > current {
			return nil, invalid("time %d exceeds the %d seconds remaining", remaining, current)
		}

		changes := map[string]any{"remaining_seconds": int64(remaining)}
		switch {
		case remaining == 0:
			changes["status"] = string(StatusExpired)
			changes["session_started_at"] = nil
		case m.SessionStartedAt != nil:
			changes["session_started_at"] = now
		}
		return changes, nil
	})
	if err != nil {
		return Rental{}, err
	}

	if rental.Status == StatusExpired && remaining == 0 {
		s.publish(ctx, SubjectRentalExpired, rentalEvent(rental))
	}
	return rental, nil
}

// CloseRental ends a rental for good. Remaining time is frozen at its current value.
func (s *Service) CloseRental(ctx context.Context, id uuid.UUID) (Rental, error) {
	var already bool
	rental, err := s.mutate(ctx, id, func(m rentalModel, now time.Time) (map[string]any, error) {
		if m.Status == string(StatusClosed) {
			already = true
			return nil, nil
		}
		return map[string]any{
			"remaining_seconds":  int64(remainingAt(m, now)),
			"status":             string(StatusClosed),
			"session_started_at": nil,
		}, nil
	})
	if err != nil {
		return Rental{}, err
	}

	if !already {
		s.publish(ctx, SubjectRentalClosed, rentalEvent(rental))
	}
	return rental, nil
}
