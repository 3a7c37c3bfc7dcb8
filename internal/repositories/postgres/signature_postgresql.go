package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
)

type SignaturePostgreSQL struct {
	db *gorm.DB
}

func NewSignaturePostgreSQL(db *gorm.DB) repositories.SignatureRepository {
	return &SignaturePostgreSQL{db: db}
}

// Create relies on the (contract_id, signer_role) unique index so a second
// signature for the same role fails at the database even under races.
func (s *SignaturePostgreSQL) Create(ctx context.Context, tx *gorm.DB, record *models.SignatureRecord) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create signature record: %w", err)
	}
	return nil
}

func (s *SignaturePostgreSQL) GetByContract(ctx context.Context, tx *gorm.DB, contractID uint) ([]*models.SignatureRecord, error) {
	db := s.getDB(tx)
	var records []*models.SignatureRecord
	if err := db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("signed_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}
	return records, nil
}

func (s *SignaturePostgreSQL) GetByContractAndRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.SignatureRecord, error) {
	db := s.getDB(tx)
	var record models.SignatureRecord
	if err := db.WithContext(ctx).
		Where("contract_id = ? AND signer_role = ?", contractID, role).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SignaturePostgreSQL) ExistsForRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (bool, error) {
	db := s.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.SignatureRecord{}).
		Where("contract_id = ? AND signer_role = ?", contractID, role).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SignaturePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
