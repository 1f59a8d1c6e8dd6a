package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/repository"
)

var (
	ErrUnknownPackage      = errors.New("unknown credit package")
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

// CheckoutEvent is the payment provider's webhook payload for a finished
// checkout session.
type CheckoutEvent struct {
	Type       string `json:"type"`
	ChargeID   string `json:"charge_id"`
	Provider   string `json:"provider"`
	UserID     string `json:"user_id"`
	PackageID  int64  `json:"package_id"`
	Currency   string `json:"currency"`
	Amount     int    `json:"amount"`
	RawPayload string `json:"-"`
}

// PaymentService turns completed checkouts into credit grants. Checkout
// session creation lives with the payment provider; this side only consumes
// its webhook.
type PaymentService struct {
	log      *slog.Logger
	payments *repository.PaymentRepository
	packages *PackageService
	credits  *ledger.Accessor
}

func NewPaymentService(log *slog.Logger, payments *repository.PaymentRepository, packages *PackageService, credits *ledger.Accessor) *PaymentService {
	return &PaymentService{
		log:      log,
		payments: payments,
		packages: packages,
		credits:  credits,
	}
}

// HandleCheckoutCompleted records the payment and credits the purchased
// package. Replayed webhooks for a charge already recorded are ignored.
func (s *PaymentService) HandleCheckoutCompleted(ctx context.Context, event CheckoutEvent) error {
	if event.Type != "checkout.completed" {
		return ErrPaymentNotCompleted
	}
	if event.ChargeID == "" || event.UserID == "" {
		return fmt.Errorf("checkout event missing charge or user id")
	}

	existing, err := s.payments.FindByProviderCharge(ctx, event.Provider, event.ChargeID)
	if err != nil {
		return fmt.Errorf("lookup payment: %w", err)
	}
	if existing != nil {
		s.log.Info("duplicate checkout webhook ignored", "provider", event.Provider, "charge", event.ChargeID)
		return nil
	}

	pkg, err := s.packages.GetByID(ctx, event.PackageID)
	if err != nil {
		return err
	}
	if pkg == nil || !pkg.IsActive {
		return ErrUnknownPackage
	}

	packageID := pkg.ID
	record := &models.Payment{
		UserID:         event.UserID,
		PackageID:      &packageID,
		Provider:       event.Provider,
		ProviderCharge: event.ChargeID,
		Currency:       event.Currency,
		Amount:         event.Amount,
		Status:         "completed",
		RawPayload:     event.RawPayload,
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}

	actor := models.Actor{ID: event.UserID}
	if err := s.credits.Credit(ctx, actor, pkg.Credits, "purchase"); err != nil {
		// The payment row exists, so a replay will not double-credit; flag
		// the grant for manual follow-up.
		if updateErr := s.payments.UpdateStatus(ctx, record.ID, "credit_failed", event.RawPayload); updateErr != nil {
			s.log.Error("mark payment credit_failed", "payment", record.ID, "err", updateErr)
		}
		return fmt.Errorf("grant purchased credits: %w", err)
	}

	s.log.Info("credits purchased", "user", event.UserID, "package", pkg.ID, "credits", pkg.Credits)
	return nil
}
