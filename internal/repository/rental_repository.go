package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"otp-service/internal/domain"
	"otp-service/internal/errors"
)

type rentalRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewRentalRepository(db SQLExecutor, logger *slog.Logger) domain.RentalRepository {
	return &rentalRepository{
		db:     db,
		logger: logger,
	}
}

const rentalColumns = `
	id, user_id, provider_id, phone_number, country, operator, service,
	price, status, expires_at, sms_text, sms_received_at, created_at, updated_at
`

func (r *rentalRepository) CreateRental(rental *domain.PhoneRental) error {
	query := `
		INSERT INTO phone_rentals
		(id, user_id, provider_id, phone_number, country, operator, service,
		 price, status, expires_at, sms_text, sms_received_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	now := time.Now()
	_, err := r.db.Exec(
		query,
		rental.ID,
		rental.UserID,
		rental.ProviderID,
		rental.PhoneNumber,
		rental.Country,
		rental.Operator,
		rental.Service,
		rental.Price.String(),
		rental.Status,
		rental.ExpiresAt,
		rental.SMSText,
		rental.SMSReceivedAt,
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation on provider_id
				r.logger.Error("Duplicate provider transaction id", "provider_id", rental.ProviderID)
				return errors.ErrDuplicateProviderID
			}
		}
		r.logger.Error("Failed to create rental",
			"user_id", rental.UserID,
			"provider_id", rental.ProviderID,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create rental").WithDetails(err.Error())
	}

	rental.CreatedAt = now
	rental.UpdatedAt = now
	r.logger.Info("Rental created successfully", "rental_id", rental.ID, "provider_id", rental.ProviderID)
	return nil
}

// GetOwnedRental filters by owner in the query itself: a missing row and a
// row owned by someone else are indistinguishable to the caller.
func (r *rentalRepository) GetOwnedRental(userID, id uuid.UUID) (*domain.PhoneRental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM phone_rentals WHERE id = $1 AND user_id = $2
	`

	rental, err := r.scanRental(r.db.QueryRow(query, id, userID))
	if err != nil {
		return nil, err
	}
	if rental == nil {
		return nil, errors.ErrRentalNotFound
	}
	return rental, nil
}

func (r *rentalRepository) scanRental(row *sql.Row) (*domain.PhoneRental, error) {
	var rental domain.PhoneRental
	var priceStr string
	var smsText sql.NullString
	var smsReceivedAt sql.NullTime

	err := row.Scan(
		&rental.ID,
		&rental.UserID,
		&rental.ProviderID,
		&rental.PhoneNumber,
		&rental.Country,
		&rental.Operator,
		&rental.Service,
		&priceStr,
		&rental.Status,
		&rental.ExpiresAt,
		&smsText,
		&smsReceivedAt,
		&rental.CreatedAt,
		&rental.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get rental", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get rental").WithDetails(err.Error())
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse price").WithDetails(err.Error())
	}
	rental.Price = price

	if smsText.Valid {
		rental.SMSText = &smsText.String
	}
	if smsReceivedAt.Valid {
		rental.SMSReceivedAt = &smsReceivedAt.Time
	}

	return &rental, nil
}

// RecordCheck merges a provider poll result. Terminal rentals are never
// touched: a poll that loses the race against a concurrent cancel or finish
// must not revert the stored state, so zero affected rows is a no-op.
func (r *rentalRepository) RecordCheck(id uuid.UUID, status string, smsText *string, smsReceivedAt *time.Time) error {
	query := `
		UPDATE phone_rentals
		SET status = $1,
		    sms_text = COALESCE($2, sms_text),
		    sms_received_at = COALESCE($3, sms_received_at),
		    updated_at = $4
		WHERE id = $5 AND status NOT IN ('CANCELED', 'FINISHED')
	`

	result, err := r.db.Exec(query, status, smsText, smsReceivedAt, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to record status check", "rental_id", id, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update rental").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Info("Check result dropped, rental already terminal", "rental_id", id)
		return nil
	}

	r.logger.Info("Rental check recorded", "rental_id", id, "status", status)
	return nil
}

// MarkTerminal is the compare-and-set out of a non-terminal state. Zero rows
// affected means the rental was already terminal (or gone) and the caller
// must not apply any side effect such as a refund.
func (r *rentalRepository) MarkTerminal(id uuid.UUID, status string) error {
	query := `
		UPDATE phone_rentals
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('CANCELED', 'FINISHED')
	`

	result, err := r.db.Exec(query, status, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to mark rental terminal", "rental_id", id, "status", status, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update rental status").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Terminal transition rejected", "rental_id", id, "status", status)
		return errors.ErrInvalidTransition
	}

	r.logger.Info("Rental marked terminal", "rental_id", id, "status", status)
	return nil
}

func (r *rentalRepository) ListByUser(userID uuid.UUID, limit, offset int) ([]domain.PhoneRental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM phone_rentals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryRentals(query, userID, limit, offset)
}

func (r *rentalRepository) ListActiveByUser(userID uuid.UUID) ([]domain.PhoneRental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM phone_rentals
		WHERE user_id = $1 AND status IN ('PENDING', 'RECEIVED')
		ORDER BY created_at DESC
	`

	return r.queryRentals(query, userID)
}

func (r *rentalRepository) CountByUser(userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM phone_rentals WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count rentals", "user_id", userID, "error", err)
		return 0, errors.NewAppError(errors.InternalError, "failed to count rentals").WithDetails(err.Error())
	}
	return count, nil
}

func (r *rentalRepository) queryRentals(query string, args ...interface{}) ([]domain.PhoneRental, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list rentals", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list rentals").WithDetails(err.Error())
	}
	defer rows.Close()

	rentals := make([]domain.PhoneRental, 0)
	for rows.Next() {
		var rental domain.PhoneRental
		var priceStr string
		var smsText sql.NullString
		var smsReceivedAt sql.NullTime

		err := rows.Scan(
			&rental.ID,
			&rental.UserID,
			&rental.ProviderID,
			&rental.PhoneNumber,
			&rental.Country,
			&rental.Operator,
			&rental.Service,
			&priceStr,
			&rental.Status,
			&rental.ExpiresAt,
			&smsText,
			&smsReceivedAt,
			&rental.CreatedAt,
			&rental.UpdatedAt,
		)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan rental").WithDetails(err.Error())
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse price").WithDetails(err.Error())
		}
		rental.Price = price

		if smsText.Valid {
			text := smsText.String
			rental.SMSText = &text
		}
		if smsReceivedAt.Valid {
			at := smsReceivedAt.Time
			rental.SMSReceivedAt = &at
		}

		rentals = append(rentals, rental)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to iterate rentals").WithDetails(err.Error())
	}

	return rentals, nil
}
