package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ContractFilters struct {
	Status    *models.ContractStatus `json:"status"`
	StudentID *string                `json:"student_id"`
	TutorID   *string                `json:"tutor_id"`
	DateFrom  *time.Time             `json:"date_from"`
	DateTo    *time.Time             `json:"date_to"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	SortBy    string                 `json:"sort_by"`    // "created_at", "expires_at", "status"
	SortOrder string                 `json:"sort_order"` // "asc", "desc"
}

// ===== REPOSITORY INTERFACES =====

type ContractRepository interface {
	Create(ctx context.Context, tx *gorm.DB, contract *models.Contract) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error)
	GetByIDWithSignatures(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error)
	Update(ctx context.Context, tx *gorm.DB, contract *models.Contract) error
	List(ctx context.Context, tx *gorm.DB, filters ContractFilters) ([]*models.Contract, int64, error)

	// UpdateStatus transitions a contract from one status to another,
	// optionally setting extra columns in the same statement. The
	// from-status is part of the WHERE clause, so a concurrent transition
	// loses and gets ErrNoRowsAffected.
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.ContractStatus, extra map[string]interface{}) error

	// SetRoleSigned stamps the per-role signed_at column only when it is
	// still NULL.
	SetRoleSigned(ctx context.Context, tx *gorm.DB, id uint, role models.SignerRole, signedAt time.Time) error

	// LockIfFullySigned flips is_locked exactly once when both parties have
	// signed. Returns ErrNoRowsAffected for every caller but the first.
	LockIfFullySigned(ctx context.Context, tx *gorm.DB, id uint, lockedAt time.Time) (*models.Contract, error)

	// ExpireOverdue moves every pending contract past its deadline to
	// Expired and returns the affected IDs.
	ExpireOverdue(ctx context.Context, tx *gorm.DB, now time.Time) ([]uint, error)
}

type ChallengeRepository interface {
	// CreateSuperseding inserts a new challenge and marks any active one for
	// the same contract and role as superseded, in that order.
	CreateSuperseding(ctx context.Context, tx *gorm.DB, challenge *models.OTPChallenge) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.OTPChallenge, error)
	GetActive(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole, now time.Time) (*models.OTPChallenge, error)

	// GetLatest returns the newest non-superseded challenge regardless of
	// expiry or consumption, for classifying verification failures.
	GetLatest(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.OTPChallenge, error)

	// Consume marks a challenge used. The consumed_at IS NULL guard makes
	// the operation single-shot under concurrency.
	Consume(ctx context.Context, tx *gorm.DB, id string, consumedAt time.Time) error
	IncrementAttempts(ctx context.Context, tx *gorm.DB, id string) error
}

type SignatureRepository interface {
	Create(ctx context.Context, tx *gorm.DB, record *models.SignatureRecord) error
	GetByContract(ctx context.Context, tx *gorm.DB, contractID uint) ([]*models.SignatureRecord, error)
	GetByContractAndRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.SignatureRecord, error)
	ExistsForRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (bool, error)
}

// UserRepository reads identities from Casdoor (read-only for this service).
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	HasRole(ctx context.Context, userID string, role models.UserRole) (bool, error)
}
