package rentals

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreatePayment records a payment against an existing rental.
func (s *Service) CreatePayment(ctx context.Context, in PaymentInput) (Payment, error) {
	userID, gameID, err := refs(in.UserID, in.GameID)
	if err != nil {
		return Payment{}, err
	}
	if in.RentalID == uuid.Nil {
		return Payment{}, invalid("rental id is required")
	}
	if !in.Amount.IsPositive() {
		return Payment{}, invalid("amount must be greater than zero")
	}
	kind := in.Kind
	if kind == "" {
		kind = PaymentManual
	}
	switch kind {
	case PaymentPurchase, PaymentExtension, PaymentManual:
	default:
		return Payment{}, invalid("unknown payment kind %q", kind)
	}

	var p paymentModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rental, err := s.loadRental(tx, in.RentalID)
		if err != nil {
			return err
		}
		if rental.UserID != userID || rental.GameID != gameID {
			return invalid("rental %s does not belong to user %s and game %s", rental.ID, userID, gameID)
		}

		p = paymentModel{
			ID:       newID(),
			UserID:   userID,
			GameID:   gameID,
			RentalID: rental.ID,
			Amount:   in.Amount,
			Kind:     string(kind),
			Meta:     toJSONMap(in.Meta),
			Date:     s.now(),
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		if isDomainErr(err) {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("create payment: %w", err)
	}

	payment := p.toAPI()
	s.publish(ctx, SubjectPaymentCreated, paymentEvent(payment))
	return payment, nil
}

// GetPayment loads a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	p, err := loadPayment(s.db.WithContext(ctx), id)
	if err != nil {
		return Payment{}, err
	}
	return p.toAPI(), nil
}

func loadPayment(q *gorm.DB, id uuid.UUID) (paymentModel, error) {
	if id == uuid.Nil {
		return paymentModel{}, invalid("payment id is required")
	}
	var p paymentModel
	if err := q.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return paymentModel{}, notFound("payment %s", id)
		}
		return paymentModel{}, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// DeletePayment removes a payment whose rental no longer exists.
func (s *Service) DeletePayment(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPayment(tx, id)
		if err != nil {
			return err
		}

		var live int64
		if err := tx.Model(&rentalModel{}).Where("id = ?", p.RentalID).Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return conflict("payment %s belongs to rental %s which still exists", p.ID, p.RentalID)
		}
		return tx.Delete(&paymentModel{}, "id = ?", p.ID).Error
	})
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

// ListPayments returns every payment, newest first, with the count and total amount.
func (s *Service) ListPayments(ctx context.Context) (PaymentList, error) {
	var models []paymentModel
	if err := s.db.WithContext(ctx).Order("date DESC, id DESC").Find(&models).Error; err != nil {
		return PaymentList{}, fmt.Errorf("list payments: %w", err)
	}

	out := PaymentList{
		Payments:    make([]Payment, 0, len(models)),
		TotalAmount: decimal.Zero,
	}
	for _, m := range models {
		out.Payments = append(out.Payments, m.toAPI())
		out.TotalAmount = out.TotalAmount.Add(m.Amount)
	}
	out.Count = len(out.Payments)
	return out, nil
}
