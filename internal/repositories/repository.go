package repositories

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNoRowsAffected is returned by the compare-and-set operations when the
// guarded update matched no rows, meaning another writer got there first or
// the precondition no longer holds.
var ErrNoRowsAffected = errors.New("no rows affected")

// IsNotFoundError reports whether err means the record does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKeyError reports whether err is a unique-constraint violation.
// The string checks cover drivers that are not routed through gorm's error
// translation (PostgreSQL SQLSTATE 23505).
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// Repository aggregates every sub-repository behind one interface.
type Repository interface {
	Contract() ContractRepository
	Challenge() ChallengeRepository
	Signature() SignatureRepository

	// User domain (read-only, backed by Casdoor)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
