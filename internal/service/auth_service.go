package service

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"

	"otp-service/internal/domain"
	"otp-service/internal/errors"
)

// minPasswordEntropy rejects passwords a dictionary attack would walk
// through in seconds.
const minPasswordEntropy = 50

type AuthService struct {
	store  domain.Store
	logger *slog.Logger
}

func NewAuthService(store domain.Store, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:  store,
		logger: logger,
	}
}

func (s *AuthService) Register(email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid email address")
	}

	if err := passwordvalidator.Validate(password, minPasswordEntropy); err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "password is too weak").WithDetails(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("Failed to hash password", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to hash password")
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Balance:      decimal.Zero,
	}

	if err := s.store.Users().CreateUser(user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", "user_id", user.ID)
	return user, nil
}

func (s *AuthService) Login(email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users().GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("Login rejected", "email", email)
		return nil, errors.ErrInvalidCredentials
	}

	return user, nil
}

func (s *AuthService) GetUser(id uuid.UUID) (*domain.User, error) {
	user, err := s.store.Users().GetUserByID(id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.ErrUnauthorized
	}
	return user, nil
}
