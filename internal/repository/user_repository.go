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

type userRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewUserRepository(db SQLExecutor, logger *slog.Logger) domain.UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

func (r *userRepository) CreateUser(user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	_, err := r.db.Exec(
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Balance.String(),
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				r.logger.Warn("Duplicate user registration attempt", "email", user.Email)
				return errors.ErrDuplicateUser
			}
		}
		r.logger.Error("Failed to create user", "email", user.Email, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create user").WithDetails(err.Error())
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	r.logger.Info("User created successfully", "user_id", user.ID)
	return nil
}

func (r *userRepository) GetUserByID(id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, balance, created_at, updated_at
		FROM users WHERE id = $1
	`

	return r.scanUser(query, id)
}

func (r *userRepository) GetUserByEmail(email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, balance, created_at, updated_at
		FROM users WHERE email = $1
	`

	return r.scanUser(query, email)
}

func (r *userRepository) scanUser(query string, arg interface{}) (*domain.User, error) {
	var user domain.User
	var balanceStr string

	err := r.db.QueryRow(query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&balanceStr,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get user", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get user").WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.logger.Error("Failed to parse balance", "balance_str", balanceStr, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}

	user.Balance = balance
	return &user, nil
}

// Debit charges the balance with a single conditional UPDATE, so the
// sufficient-funds check and the subtraction are one atomic statement.
func (r *userRepository) Debit(id uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE users
		SET balance = balance - $1, updated_at = $2
		WHERE id = $3 AND balance >= $1
	`

	result, err := r.db.Exec(query, amount.String(), time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to debit user", "user_id", id, "amount", amount, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to debit balance").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}

	if rowsAffected == 0 {
		r.logger.Warn("Debit rejected", "user_id", id, "amount", amount)
		return errors.ErrInsufficientFunds
	}

	r.logger.Info("Balance debited", "user_id", id, "amount", amount)
	return nil
}

func (r *userRepository) Credit(id uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE users
		SET balance = balance + $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.Exec(query, amount.String(), time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to credit user", "user_id", id, "amount", amount, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to credit balance").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}

	if rowsAffected == 0 {
		r.logger.Warn("No user found to credit", "user_id", id)
		return errors.NewAppError(errors.InternalError, "user not found for credit")
	}

	r.logger.Info("Balance credited", "user_id", id, "amount", amount)
	return nil
}
