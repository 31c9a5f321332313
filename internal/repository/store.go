package repository

import (
	"database/sql"
	"log/slog"

	"otp-service/internal/domain"
	"otp-service/internal/errors"
)

// Store provides a unified interface for all repository operations with
// transaction support. It implements domain.Store.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

// Users returns the ledger repository using the current executor
func (s *Store) Users() domain.UserRepository {
	return NewUserRepository(s.executor, s.logger)
}

// Rentals returns the rental repository using the current executor
func (s *Store) Rentals() domain.RentalRepository {
	return NewRentalRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(fn func(domain.Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	txStore := &Store{
		executor: &TxWrapper{Tx: tx},
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

var _ domain.Store = (*Store)(nil)
