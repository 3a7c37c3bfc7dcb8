package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
)

// ChallengePostgreSQL never caches: challenges are single-use secrets and a
// stale read would defeat the consumed_at guard.
type ChallengePostgreSQL struct {
	db *gorm.DB
}

func NewChallengePostgreSQL(db *gorm.DB) repositories.ChallengeRepository {
	return &ChallengePostgreSQL{db: db}
}

func (c *ChallengePostgreSQL) CreateSuperseding(ctx context.Context, tx *gorm.DB, challenge *models.OTPChallenge) error {
	db := c.getDB(tx)

	return db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		now := time.Now()
		if err := inner.Model(&models.OTPChallenge{}).
			Where("contract_id = ? AND signer_role = ? AND consumed_at IS NULL AND superseded_at IS NULL",
				challenge.ContractID, challenge.SignerRole).
			Update("superseded_at", now).Error; err != nil {
			return fmt.Errorf("failed to supersede previous challenges: %w", err)
		}

		if err := inner.Create(challenge).Error; err != nil {
			return fmt.Errorf("failed to create challenge: %w", err)
		}
		return nil
	})
}

func (c *ChallengePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.OTPChallenge, error) {
	db := c.getDB(tx)
	var challenge models.OTPChallenge
	if err := db.WithContext(ctx).Where("id = ?", id).First(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (c *ChallengePostgreSQL) GetActive(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole, now time.Time) (*models.OTPChallenge, error) {
	db := c.getDB(tx)
	var challenge models.OTPChallenge
	if err := db.WithContext(ctx).
		Where("contract_id = ? AND signer_role = ? AND consumed_at IS NULL AND superseded_at IS NULL AND expires_at > ?",
			contractID, role, now).
		Order("issued_at DESC").
		First(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (c *ChallengePostgreSQL) GetLatest(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.OTPChallenge, error) {
	db := c.getDB(tx)
	var challenge models.OTPChallenge
	if err := db.WithContext(ctx).
		Where("contract_id = ? AND signer_role = ? AND superseded_at IS NULL", contractID, role).
		Order("issued_at DESC").
		First(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (c *ChallengePostgreSQL) Consume(ctx context.Context, tx *gorm.DB, id string, consumedAt time.Time) error {
	db := c.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.OTPChallenge{}).
		Where("id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", consumedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to consume challenge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNoRowsAffected
	}
	return nil
}

func (c *ChallengePostgreSQL) IncrementAttempts(ctx context.Context, tx *gorm.DB, id string) error {
	db := c.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.OTPChallenge{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1")).Error
}

func (c *ChallengePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}
