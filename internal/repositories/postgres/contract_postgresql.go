package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/cache"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
)

type ContractPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager

	// inTx marks a repository bound to an open transaction. Its reads go
	// straight to the database so they see the transaction's own writes and
	// never populate the cache from an uncommitted snapshot.
	inTx bool
}

func NewContractPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ContractRepository {
	return &ContractPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func newTxContractPostgreSQL(tx *gorm.DB, redisClient *redis.Client) repositories.ContractRepository {
	return &ContractPostgreSQL{
		db:           tx,
		cacheManager: cache.NewCacheManager(redisClient),
		inTx:         true,
	}
}

func (c *ContractPostgreSQL) Create(ctx context.Context, tx *gorm.DB, contract *models.Contract) error {
	db := c.getDB(tx)
	if err := db.WithContext(ctx).Create(contract).Error; err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (c *ContractPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error) {
	db := c.getDB(tx)

	if !c.useCache() {
		var contract models.Contract
		if err := db.WithContext(ctx).First(&contract, id).Error; err != nil {
			return nil, err
		}
		return &contract, nil
	}

	cacheKey := fmt.Sprintf("id:%d", id)
	var contract models.Contract

	err := c.cacheManager.Contract.CacheOrExecute(ctx, cacheKey, &contract, cache.ContractCacheConfig.TTL, func() (interface{}, error) {
		var dbContract models.Contract
		if err := db.WithContext(ctx).First(&dbContract, id).Error; err != nil {
			return nil, err
		}
		return &dbContract, nil
	})

	return &contract, err
}

func (c *ContractPostgreSQL) GetByIDWithSignatures(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error) {
	db := c.getDB(tx)
	var contract models.Contract
	if err := db.WithContext(ctx).
		Preload("Signatures").
		First(&contract, id).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (c *ContractPostgreSQL) Update(ctx context.Context, tx *gorm.DB, contract *models.Contract) error {
	db := c.getDB(tx)
	if err := db.WithContext(ctx).Save(contract).Error; err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}

	cache.InvalidateContractCache(ctx, c.cacheManager, contract.ID)
	return nil
}

func (c *ContractPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ContractFilters) ([]*models.Contract, int64, error) {
	db := c.getDB(tx)
	var contracts []*models.Contract
	var total int64

	query := db.WithContext(ctx).Model(&models.Contract{})
	query = c.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = c.applyPaginationAndSort(query, filters)

	if err := query.Find(&contracts).Error; err != nil {
		return nil, 0, err
	}

	return contracts, total, nil
}

// UpdateStatus performs a guarded transition. The expected from-status is in
// the WHERE clause so concurrent transitions cannot both succeed.
func (c *ContractPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.ContractStatus, extra map[string]interface{}) error {
	db := c.getDB(tx)

	updates := map[string]interface{}{"status": to}
	for column, value := range extra {
		updates[column] = value
	}

	result := db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update contract status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNoRowsAffected
	}

	cache.InvalidateContractCache(ctx, c.cacheManager, id)
	return nil
}

func (c *ContractPostgreSQL) SetRoleSigned(ctx context.Context, tx *gorm.DB, id uint, role models.SignerRole, signedAt time.Time) error {
	db := c.getDB(tx)

	column := "student_signed_at"
	if role == models.SignerTutor {
		column = "tutor_signed_at"
	}

	result := db.WithContext(ctx).
		Model(&models.Contract{}).
		Where(fmt.Sprintf("id = ? AND %s IS NULL", column), id).
		Update(column, signedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to set %s signed: %w", role, result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNoRowsAffected
	}

	cache.InvalidateContractCache(ctx, c.cacheManager, id)
	return nil
}

func (c *ContractPostgreSQL) LockIfFullySigned(ctx context.Context, tx *gorm.DB, id uint, lockedAt time.Time) (*models.Contract, error) {
	db := c.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND is_locked = ? AND student_signed_at IS NOT NULL AND tutor_signed_at IS NOT NULL", id, false).
		Updates(map[string]interface{}{
			"is_locked": true,
			"is_signed": true,
			"locked_at": lockedAt,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to lock contract: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, repositories.ErrNoRowsAffected
	}

	cache.InvalidateContractCache(ctx, c.cacheManager, id)

	var contract models.Contract
	if err := db.WithContext(ctx).First(&contract, id).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (c *ContractPostgreSQL) ExpireOverdue(ctx context.Context, tx *gorm.DB, now time.Time) ([]uint, error) {
	db := c.getDB(tx)

	var ids []uint
	if err := db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("status = ? AND is_locked = ? AND expires_at IS NOT NULL AND expires_at < ?",
			models.ContractPendingApproval, false, now).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to find overdue contracts: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	result := db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id IN ? AND status = ? AND is_locked = ?", ids, models.ContractPendingApproval, false).
		Update("status", models.ContractExpired)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to expire contracts: %w", result.Error)
	}

	for _, id := range ids {
		cache.InvalidateContractCache(ctx, c.cacheManager, id)
	}

	return ids, nil
}

func (c *ContractPostgreSQL) applyFilters(query *gorm.DB, filters repositories.ContractFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.TutorID != nil {
		query = query.Where("tutor_id = ?", *filters.TutorID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

func (c *ContractPostgreSQL) applyPaginationAndSort(query *gorm.DB, filters repositories.ContractFilters) *gorm.DB {
	sortBy := filters.SortBy
	switch sortBy {
	case "created_at", "expires_at", "status":
	default:
		sortBy = "created_at"
	}

	sortOrder := "DESC"
	if filters.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}

func (c *ContractPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}

func (c *ContractPostgreSQL) useCache() bool {
	return !c.inTx
}
