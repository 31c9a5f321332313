package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"otp-service/internal/domain"
	"otp-service/internal/errors"
	"otp-service/internal/fivesim"
)

// ProviderClient is the slice of the 5sim client the lifecycle needs.
type ProviderClient interface {
	Countries(ctx context.Context) (map[string]string, error)
	Products(ctx context.Context, country, operator string) (map[string]fivesim.Product, error)
	Prices(ctx context.Context, country, product string) (fivesim.PriceTable, error)
	BuyActivation(ctx context.Context, country, operator, product string) (*fivesim.Activation, error)
	CheckActivation(ctx context.Context, providerID string) (*fivesim.Activation, error)
	CancelActivation(ctx context.Context, providerID string) (*fivesim.Activation, error)
	FinishActivation(ctx context.Context, providerID string) (*fivesim.Activation, error)
}

// RentalService orchestrates the provider, the rental store and the user
// ledger. Every operation takes the acting user explicitly; nothing is read
// from ambient state.
type RentalService struct {
	store    domain.Store
	provider ProviderClient
	logger   *slog.Logger
	now      func() time.Time
}

func NewRentalService(store domain.Store, provider ProviderClient, logger *slog.Logger) *RentalService {
	return &RentalService{
		store:    store,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Countries never fails: on provider outage or an empty listing it serves
// the static fallback so the selection page still renders.
func (s *RentalService) Countries(ctx context.Context) map[string]string {
	countries, err := s.provider.Countries(ctx)
	if err != nil || len(countries) == 0 {
		s.logger.Warn("Falling back to static country list", "error", err)
		return fivesim.FallbackCountries()
	}
	return countries
}

func (s *RentalService) Products(ctx context.Context, country, operator string) (map[string]fivesim.Product, error) {
	return s.provider.Products(ctx, country, operator)
}

func (s *RentalService) Prices(ctx context.Context, country, product string) (fivesim.PriceTable, error) {
	return s.provider.Prices(ctx, country, product)
}

// Purchase rents a number and charges the user. The buy call is the only
// source of the authoritative price, so the funds check runs after it; on
// insufficient funds the provider-side allocation is released with a
// best-effort compensating cancel and no local state is kept. The rental
// insert and the debit commit as one database transaction.
func (s *RentalService) Purchase(ctx context.Context, userID uuid.UUID, country, operator, product string) (*domain.PhoneRental, error) {
	s.logger.Info("Processing purchase",
		"user_id", userID,
		"country", country,
		"operator", operator,
		"product", product)

	activation, err := s.provider.BuyActivation(ctx, country, operator, product)
	if err != nil {
		return nil, err
	}

	rental := &domain.PhoneRental{
		ID:          uuid.New(),
		UserID:      userID,
		ProviderID:  activation.ProviderID(),
		PhoneNumber: activation.Phone,
		Country:     activation.Country,
		Operator:    activation.Operator,
		Service:     activation.Product,
		Price:       activation.Price,
		Status:      activation.Status,
		ExpiresAt:   activation.Expires,
	}
	if rental.Status == "" {
		rental.Status = domain.StatusPending
	}

	err = s.store.WithTransaction(func(ts domain.Store) error {
		if err := ts.Rentals().CreateRental(rental); err != nil {
			return err
		}
		return ts.Users().Debit(userID, rental.Price)
	})

	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.InsufficientFunds {
			s.compensateCancel(ctx, rental.ProviderID)
		}
		s.logger.Error("Purchase failed", "user_id", userID, "provider_id", rental.ProviderID, "error", err)
		return nil, err
	}

	s.logger.Info("Purchase completed",
		"rental_id", rental.ID,
		"provider_id", rental.ProviderID,
		"price", rental.Price)
	return rental, nil
}

// compensateCancel releases a provider-side allocation that was never
// charged locally. Failure here only loses provider-side money, never
// local consistency, so it is logged and dropped. The release must happen
// even when the original request is already gone, so cancellation of the
// incoming context is not propagated.
func (s *RentalService) compensateCancel(ctx context.Context, providerID string) {
	activation, err := s.provider.CancelActivation(context.WithoutCancel(ctx), providerID)
	if err != nil {
		s.logger.Error("Compensating cancel failed", "provider_id", providerID, "error", err)
		return
	}
	s.logger.Info("Compensating cancel issued", "provider_id", providerID, "status", activation.Status)
}

// CheckStatus refreshes a rental from the provider. The provider's status
// field is copied verbatim, but a non-empty SMS list always wins: the last
// entry (most recent) is captured and the status forced to RECEIVED.
// Recomputed on every call, so repeated checks against an unchanged
// provider response store the same result.
func (s *RentalService) CheckStatus(ctx context.Context, userID, rentalID uuid.UUID) (*domain.PhoneRental, error) {
	rental, err := s.store.Rentals().GetOwnedRental(userID, rentalID)
	if err != nil {
		return nil, err
	}

	// Terminal rentals never change again; skip the provider round-trip.
	if domain.IsTerminalStatus(rental.Status) {
		return rental, nil
	}

	activation, err := s.provider.CheckActivation(ctx, rental.ProviderID)
	if err != nil {
		return nil, err
	}

	status := activation.Status
	var smsText *string
	var smsReceivedAt *time.Time
	if len(activation.SMS) > 0 {
		last := activation.SMS[len(activation.SMS)-1]
		smsText = &last.Text
		smsReceivedAt = &last.CreatedAt
		status = domain.StatusReceived
	}

	if err := s.store.Rentals().RecordCheck(rental.ID, status, smsText, smsReceivedAt); err != nil {
		return nil, err
	}

	rental.Status = status
	if smsText != nil {
		rental.SMSText = smsText
		rental.SMSReceivedAt = smsReceivedAt
	}
	return rental, nil
}

// Cancel refunds a rental. The provider's confirmation is authoritative:
// only a literal CANCELED response triggers the local transition, and the
// credit shares a database transaction with the compare-and-set out of the
// non-terminal state, so a lost race rolls the refund back.
func (s *RentalService) Cancel(ctx context.Context, userID, rentalID uuid.UUID) (*domain.PhoneRental, error) {
	rental, err := s.store.Rentals().GetOwnedRental(userID, rentalID)
	if err != nil {
		return nil, err
	}

	if domain.IsTerminalStatus(rental.Status) {
		return nil, errors.ErrInvalidTransition
	}

	activation, err := s.provider.CancelActivation(ctx, rental.ProviderID)
	if err != nil {
		return nil, err
	}

	if activation.Status != domain.StatusCanceled {
		s.logger.Warn("Provider declined cancellation",
			"rental_id", rental.ID,
			"provider_status", activation.Status)
		return nil, errors.NewAppError(errors.ProviderRejected, "provider did not confirm cancellation")
	}

	err = s.store.WithTransaction(func(ts domain.Store) error {
		if err := ts.Rentals().MarkTerminal(rental.ID, domain.StatusCanceled); err != nil {
			return err
		}
		return ts.Users().Credit(userID, rental.Price)
	})
	if err != nil {
		return nil, err
	}

	rental.Status = domain.StatusCanceled
	s.logger.Info("Rental canceled and refunded",
		"rental_id", rental.ID,
		"refund", rental.Price)
	return rental, nil
}

// Finish completes a rental. No balance effect; the provider must confirm
// FINISHED before the local transition happens.
func (s *RentalService) Finish(ctx context.Context, userID, rentalID uuid.UUID) (*domain.PhoneRental, error) {
	rental, err := s.store.Rentals().GetOwnedRental(userID, rentalID)
	if err != nil {
		return nil, err
	}

	if domain.IsTerminalStatus(rental.Status) {
		return nil, errors.ErrInvalidTransition
	}

	activation, err := s.provider.FinishActivation(ctx, rental.ProviderID)
	if err != nil {
		return nil, err
	}

	if activation.Status != domain.StatusFinished {
		s.logger.Warn("Provider declined finish",
			"rental_id", rental.ID,
			"provider_status", activation.Status)
		return nil, errors.NewAppError(errors.ProviderRejected, "provider did not confirm finish")
	}

	if err := s.store.Rentals().MarkTerminal(rental.ID, domain.StatusFinished); err != nil {
		return nil, err
	}

	rental.Status = domain.StatusFinished
	s.logger.Info("Rental finished", "rental_id", rental.ID)
	return rental, nil
}

// GetRental returns an ownership-checked snapshot without touching the
// provider.
func (s *RentalService) GetRental(userID, rentalID uuid.UUID) (*domain.PhoneRental, error) {
	return s.store.Rentals().GetOwnedRental(userID, rentalID)
}

// ActiveRentals lists the user's non-terminal rentals, newest first.
func (s *RentalService) ActiveRentals(userID uuid.UUID) ([]domain.PhoneRental, error) {
	return s.store.Rentals().ListActiveByUser(userID)
}

// History returns one page of the user's rentals, newest first, plus the
// total count for pagination.
func (s *RentalService) History(userID uuid.UUID, page, perPage int) ([]domain.PhoneRental, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	total, err := s.store.Rentals().CountByUser(userID)
	if err != nil {
		return nil, 0, err
	}

	rentals, err := s.store.Rentals().ListByUser(userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	return rentals, total, nil
}

// Expired reports whether a rental is past its expiry at the current time.
func (s *RentalService) Expired(rental *domain.PhoneRental) bool {
	return rental.Expired(s.now())
}
