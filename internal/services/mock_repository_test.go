package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
)

// memRepository is an in-memory Repository for service tests. The guarded
// updates keep the same single-winner semantics as the SQL implementation,
// so the concurrency tests exercise real behavior.
type memRepository struct {
	mu sync.Mutex

	contracts  map[uint]*models.Contract
	challenges []*models.OTPChallenge
	signatures []*models.SignatureRecord
	users      map[string]*models.User

	nextContractID  uint
	nextSignatureID uint

	// forced failure for the next signature insert
	signatureCreateErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		contracts: make(map[uint]*models.Contract),
		users:     make(map[string]*models.User),
	}
}

func (m *memRepository) addUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *memRepository) putContract(c *models.Contract) *models.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		m.nextContractID++
		c.ID = m.nextContractID
	}
	c.CreatedAt = time.Now()
	stored := *c
	m.contracts[c.ID] = &stored
	return c
}

func (m *memRepository) getChallenge(id string) *models.OTPChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// ===== Repository interface =====

func (m *memRepository) Contract() repositories.ContractRepository   { return (*memContractRepo)(m) }
func (m *memRepository) Challenge() repositories.ChallengeRepository { return (*memChallengeRepo)(m) }
func (m *memRepository) Signature() repositories.SignatureRepository { return (*memSignatureRepo)(m) }
func (m *memRepository) User() repositories.UserRepository           { return (*memUserRepo)(m) }

func (m *memRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}

func (m *memRepository) Ping(ctx context.Context) error { return nil }
func (m *memRepository) Close() error                   { return nil }

// ===== ContractRepository =====

type memContractRepo memRepository

func (m *memContractRepo) Create(ctx context.Context, tx *gorm.DB, contract *models.Contract) error {
	(*memRepository)(m).putContract(contract)
	return nil
}

func (m *memContractRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contracts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *stored
	return &copied, nil
}

func (m *memContractRepo) GetByIDWithSignatures(ctx context.Context, tx *gorm.DB, id uint) (*models.Contract, error) {
	contract, err := m.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range m.signatures {
		if sig.ContractID == id {
			contract.Signatures = append(contract.Signatures, *sig)
		}
	}
	return contract, nil
}

func (m *memContractRepo) Update(ctx context.Context, tx *gorm.DB, contract *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[contract.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *contract
	m.contracts[contract.ID] = &stored
	return nil
}

func (m *memContractRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ContractFilters) ([]*models.Contract, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Contract
	for _, c := range m.contracts {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		if filters.StudentID != nil && c.StudentID != *filters.StudentID {
			continue
		}
		if filters.TutorID != nil && c.TutorID != *filters.TutorID {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	if filters.Offset > 0 {
		if filters.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}
	return matched, total, nil
}

func (m *memContractRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.ContractStatus, extra map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.contracts[id]
	if !ok || stored.Status != from {
		return repositories.ErrNoRowsAffected
	}
	stored.Status = to
	for key, value := range extra {
		switch key {
		case "response_action":
			action := value.(models.ResponseAction)
			stored.ResponseAction = &action
		case "response_message":
			stored.ResponseMessage = value.(*string)
		case "requested_changes":
			stored.RequestedChanges = value.(*string)
		case "responded_at":
			at := value.(time.Time)
			stored.RespondedAt = &at
		case "cancel_reason":
			reason := value.(string)
			stored.CancelReason = &reason
		}
	}
	return nil
}

func (m *memContractRepo) SetRoleSigned(ctx context.Context, tx *gorm.DB, id uint, role models.SignerRole, signedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.contracts[id]
	if !ok {
		return repositories.ErrNoRowsAffected
	}
	if role == models.SignerStudent {
		if stored.StudentSignedAt != nil {
			return repositories.ErrNoRowsAffected
		}
		stored.StudentSignedAt = &signedAt
		return nil
	}
	if stored.TutorSignedAt != nil {
		return repositories.ErrNoRowsAffected
	}
	stored.TutorSignedAt = &signedAt
	return nil
}

func (m *memContractRepo) LockIfFullySigned(ctx context.Context, tx *gorm.DB, id uint, lockedAt time.Time) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.contracts[id]
	if !ok || stored.IsLocked || stored.StudentSignedAt == nil || stored.TutorSignedAt == nil {
		return nil, repositories.ErrNoRowsAffected
	}
	stored.IsLocked = true
	stored.IsSigned = true
	stored.LockedAt = &lockedAt
	copied := *stored
	return &copied, nil
}

func (m *memContractRepo) ExpireOverdue(ctx context.Context, tx *gorm.DB, now time.Time) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint
	for _, c := range m.contracts {
		if c.Status == models.ContractPendingApproval && !c.IsLocked && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			c.Status = models.ContractExpired
			ids = append(ids, c.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ===== ChallengeRepository =====

type memChallengeRepo memRepository

func (m *memChallengeRepo) CreateSuperseding(ctx context.Context, tx *gorm.DB, challenge *models.OTPChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, ch := range m.challenges {
		if ch.ContractID == challenge.ContractID && ch.SignerRole == challenge.SignerRole && ch.SupersededAt == nil && ch.ConsumedAt == nil {
			supersededAt := now
			ch.SupersededAt = &supersededAt
		}
	}
	stored := *challenge
	m.challenges = append(m.challenges, &stored)
	return nil
}

func (m *memChallengeRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.ID == id {
			copied := *ch
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memChallengeRepo) GetActive(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole, now time.Time) (*models.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.challenges) - 1; i >= 0; i-- {
		ch := m.challenges[i]
		if ch.ContractID == contractID && ch.SignerRole == role && ch.Active(now) {
			copied := *ch
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memChallengeRepo) GetLatest(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.challenges) - 1; i >= 0; i-- {
		ch := m.challenges[i]
		if ch.ContractID == contractID && ch.SignerRole == role && ch.SupersededAt == nil {
			copied := *ch
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memChallengeRepo) Consume(ctx context.Context, tx *gorm.DB, id string, consumedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.ID == id {
			if ch.ConsumedAt != nil {
				return repositories.ErrNoRowsAffected
			}
			ch.ConsumedAt = &consumedAt
			return nil
		}
	}
	return repositories.ErrNoRowsAffected
}

func (m *memChallengeRepo) IncrementAttempts(ctx context.Context, tx *gorm.DB, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.ID == id {
			ch.AttemptCount++
			return nil
		}
	}
	return repositories.ErrNoRowsAffected
}

// ===== SignatureRepository =====

type memSignatureRepo memRepository

func (m *memSignatureRepo) Create(ctx context.Context, tx *gorm.DB, record *models.SignatureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signatureCreateErr != nil {
		return m.signatureCreateErr
	}
	for _, sig := range m.signatures {
		if sig.ContractID == record.ContractID && sig.SignerRole == record.SignerRole {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	m.nextSignatureID++
	record.ID = m.nextSignatureID
	stored := *record
	m.signatures = append(m.signatures, &stored)
	return nil
}

func (m *memSignatureRepo) GetByContract(ctx context.Context, tx *gorm.DB, contractID uint) ([]*models.SignatureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SignatureRecord
	for _, sig := range m.signatures {
		if sig.ContractID == contractID {
			copied := *sig
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignedAt.Before(out[j].SignedAt) })
	return out, nil
}

func (m *memSignatureRepo) GetByContractAndRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (*models.SignatureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range m.signatures {
		if sig.ContractID == contractID && sig.SignerRole == role {
			copied := *sig
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memSignatureRepo) ExistsForRole(ctx context.Context, tx *gorm.DB, contractID uint, role models.SignerRole) (bool, error) {
	_, err := m.GetByContractAndRole(ctx, tx, contractID, role)
	if repositories.IsNotFoundError(err) {
		return false, nil
	}
	return err == nil, err
}

// ===== UserRepository =====

type memUserRepo memRepository

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUserRepo) HasRole(ctx context.Context, userID string, role models.UserRole) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	return user.Role == role, nil
}
