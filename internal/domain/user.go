package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID           uuid.UUID       `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UserRepository is the ledger: all balance mutation funnels through
// Debit and Credit so concurrent access per user stays serialized.
type UserRepository interface {
	CreateUser(user *User) error
	GetUserByID(id uuid.UUID) (*User, error)
	GetUserByEmail(email string) (*User, error)
	// Debit subtracts amount only if the current balance covers it;
	// otherwise it fails without mutation.
	Debit(id uuid.UUID, amount decimal.Decimal) error
	Credit(id uuid.UUID, amount decimal.Decimal) error
}
