package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Known rental statuses. The provider may report other values; those are
// stored verbatim (the enumeration is open at the boundary).
const (
	StatusPending  = "PENDING"
	StatusReceived = "RECEIVED"
	StatusCanceled = "CANCELED"
	StatusFinished = "FINISHED"
)

// IsTerminalStatus reports whether no further transitions are permitted.
func IsTerminalStatus(status string) bool {
	return status == StatusCanceled || status == StatusFinished
}

// PhoneRental is one locally-tracked phone-number rental and its lifecycle.
type PhoneRental struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	ProviderID    string          `json:"provider_id"`
	PhoneNumber   string          `json:"phone_number"`
	Country       string          `json:"country"`
	Operator      string          `json:"operator"`
	Service       string          `json:"service"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	ExpiresAt     time.Time       `json:"expires_at"`
	SMSText       *string         `json:"sms_text"`
	SMSReceivedAt *time.Time      `json:"sms_received_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Expired is a derived display condition. The stored status never
// auto-advances past ExpiresAt; polling clients use this to stop.
func (r *PhoneRental) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *PhoneRental) HasSMS() bool {
	return r.SMSText != nil && *r.SMSText != ""
}

type RentalRepository interface {
	// CreateRental fails if the provider transaction id is already recorded.
	CreateRental(rental *PhoneRental) error
	// GetOwnedRental returns the rental only when it exists and belongs to
	// userID; both failure modes look identical to the caller.
	GetOwnedRental(userID, id uuid.UUID) (*PhoneRental, error)
	// RecordCheck merges the outcome of a provider status check. SMS fields
	// may be nil to leave the stored values untouched. Rentals already in a
	// terminal state are not modified.
	RecordCheck(id uuid.UUID, status string, smsText *string, smsReceivedAt *time.Time) error
	// MarkTerminal advances status with a compare-and-set: it fails if the
	// rental is already in a terminal state.
	MarkTerminal(id uuid.UUID, status string) error
	ListByUser(userID uuid.UUID, limit, offset int) ([]PhoneRental, error)
	CountByUser(userID uuid.UUID) (int64, error)
	ListActiveByUser(userID uuid.UUID) ([]PhoneRental, error)
}

// Store bundles the repositories with cross-entity transaction support, so
// a rental insert and the matching balance mutation commit as one unit.
type Store interface {
	Users() UserRepository
	Rentals() RentalRepository
	WithTransaction(fn func(Store) error) error
}
