package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/events"
	"github.com/EduMatch-2025/contract-service/internal/integrity"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

// validTransitions is the full lifecycle state machine. Terminal states have
// no outgoing edges.
var validTransitions = map[models.ContractStatus][]models.ContractStatus{
	models.ContractDraft: {
		models.ContractPendingApproval,
		models.ContractCancelled,
	},
	models.ContractPendingApproval: {
		models.ContractApproved,
		models.ContractRejected,
		models.ContractExpired,
		models.ContractCancelled,
	},
	models.ContractApproved: {
		models.ContractCancelled, // admin override only
	},
}

func canTransition(from, to models.ContractStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type contractService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	approvalTTL    time.Duration
}

func NewContractService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher, approvalTTL time.Duration) ContractService {
	return &contractService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      v,
		eventPublisher: publisher,
		approvalTTL:    approvalTTL,
	}
}

// ===== LIFECYCLE OPERATIONS =====

func (s *contractService) Create(ctx context.Context, req *CreateContractRequest, tutorID string) (*ContractResponse, error) {
	s.logger.Info("Creating contract",
		"tutor_id", tutorID,
		"student_id", req.StudentID,
		"subject", req.Subject)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	isTutor, err := s.repo.User().HasRole(ctx, tutorID, models.RoleTutor)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tutor: %w", err)
	}
	if !isTutor {
		return nil, NewPermissionError("contract", "create", "caller is not a tutor")
	}

	student, err := s.repo.User().GetByID(ctx, req.StudentID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if student.Role != models.RoleStudent {
		return nil, NewBusinessRuleError("student_required",
			"contract counterparty must be a student",
			map[string]interface{}{"user_id": req.StudentID})
	}

	scheduleJSON, err := json.Marshal(req.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule: %w", err)
	}

	terms := map[string]interface{}{
		"student_id":        req.StudentID,
		"tutor_id":          tutorID,
		"subject":           req.Subject,
		"total_sessions":    req.TotalSessions,
		"price_per_session": req.PricePerSession,
		"schedule":          req.Schedule,
		"is_online":         req.IsOnline,
		"location":          req.Location,
		"meeting_url":       req.MeetingURL,
	}
	hash, canonical, err := integrity.Stamp(terms)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp contract terms: %w", err)
	}

	expiresAt := time.Now().Add(s.approvalTTL)
	if req.ExpiresAt != nil {
		if req.ExpiresAt.Before(time.Now()) {
			return nil, NewBusinessRuleError("expiry_in_past",
				"contract expiry must be in the future",
				map[string]interface{}{"expires_at": req.ExpiresAt})
		}
		expiresAt = *req.ExpiresAt
	}

	contract := &models.Contract{
		StudentID:       req.StudentID,
		TutorID:         tutorID,
		Subject:         req.Subject,
		TotalSessions:   req.TotalSessions,
		PricePerSession: req.PricePerSession,
		Schedule:        datatypes.JSON(scheduleJSON),
		IsOnline:        req.IsOnline,
		Location:        req.Location,
		MeetingURL:      req.MeetingURL,
		Status:          models.ContractPendingApproval,
		ExpiresAt:       &expiresAt,
		ContractHash:    hash,
		OriginalContent: canonical,
		CreatedBy:       tutorID,
	}

	if err := s.repo.Contract().Create(ctx, s.db, contract); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}

	s.publishStatusChanged(ctx, contract.ID, models.ContractDraft, models.ContractPendingApproval, tutorID, "contract created")

	s.logger.Info("Contract created",
		"contract_id", contract.ID,
		"expires_at", expiresAt)

	return toContractResponse(contract), nil
}

func (s *contractService) Respond(ctx context.Context, id uint, req *RespondContractRequest, studentID string) (*ContractResponse, error) {
	s.logger.Info("Recording student response",
		"contract_id", id,
		"student_id", studentID,
		"action", req.Action)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	contract, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}

	if contract.StudentID != studentID {
		return nil, NewPermissionError("contract", "respond", "not the contract's student")
	}
	if contract.Status.IsTerminal() {
		return nil, ErrInvalidStatusTransition
	}
	if contract.Status != models.ContractPendingApproval {
		return nil, ErrContractNotPending
	}
	if contract.IsLocked {
		return nil, ErrContractLocked
	}
	hasSigned, err := s.repo.Signature().ExistsForRole(ctx, s.db, id, models.SignerStudent)
	if err != nil {
		return nil, err
	}
	if hasSigned {
		return nil, NewBusinessRuleError("already_signed",
			"cannot respond after signing",
			nil)
	}
	if contract.ExpiresAt != nil && time.Now().After(*contract.ExpiresAt) {
		return nil, NewBusinessRuleError("contract_expired",
			"contract approval window has passed",
			map[string]interface{}{"expires_at": contract.ExpiresAt})
	}

	action := models.ResponseAction(req.Action)
	now := time.Now()

	switch action {
	case models.ActionApprove:
		// Approval carries a signature, handled by the combined
		// approve-and-sign operation.
		return nil, NewBusinessRuleError("approval_requires_signature",
			"approval must go through the approve-and-sign flow",
			nil)

	case models.ActionReject:
		err = s.repo.Contract().UpdateStatus(ctx, s.db, id,
			models.ContractPendingApproval, models.ContractRejected,
			map[string]interface{}{
				"response_action":   models.ActionReject,
				"response_message":  req.Message,
				"requested_changes": req.RequestedChanges,
				"responded_at":      now,
			})
		if errors.Is(err, repositories.ErrNoRowsAffected) {
			return nil, ErrInvalidStatusTransition
		}
		if err != nil {
			return nil, err
		}

		contract.Status = models.ContractRejected
		s.stampResponse(contract, action, req, now)

		s.publishStatusChanged(ctx, id, models.ContractPendingApproval, models.ContractRejected, studentID, derefOrEmpty(req.Message))

	case models.ActionRequestChanges:
		// Recorded as a response only; the contract stays pending so the
		// tutor can revise under the same contract.
		s.stampResponse(contract, action, req, now)
		if err := s.repo.Contract().Update(ctx, s.db, contract); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Student response recorded",
		"contract_id", id,
		"action", req.Action,
		"status", contract.Status)

	return toContractResponse(contract), nil
}

func (s *contractService) Cancel(ctx context.Context, id uint, req *CancelContractRequest, actorID string) (*ContractResponse, error) {
	s.logger.Info("Cancelling contract", "contract_id", id, "actor_id", actorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	contract, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}

	isAdmin, err := s.repo.User().HasRole(ctx, actorID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor: %w", err)
	}
	if !isAdmin && contract.TutorID != actorID {
		return nil, NewPermissionError("contract", "cancel", "only the tutor or an admin may cancel")
	}

	if contract.Status.IsTerminal() {
		return nil, ErrInvalidStatusTransition
	}

	// A locked, fully signed contract can only be cancelled by an admin.
	if contract.IsLocked && !isAdmin {
		return nil, ErrContractLocked
	}
	if !canTransition(contract.Status, models.ContractCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	from := contract.Status
	err = s.repo.Contract().UpdateStatus(ctx, s.db, id, from, models.ContractCancelled,
		map[string]interface{}{"cancel_reason": req.Reason})
	if errors.Is(err, repositories.ErrNoRowsAffected) {
		return nil, ErrInvalidStatusTransition
	}
	if err != nil {
		return nil, err
	}

	contract.Status = models.ContractCancelled
	contract.CancelReason = &req.Reason

	s.publishStatusChanged(ctx, id, from, models.ContractCancelled, actorID, req.Reason)

	s.logger.Info("Contract cancelled", "contract_id", id, "from_status", from)

	return toContractResponse(contract), nil
}

// ===== READ OPERATIONS =====

func (s *contractService) GetByID(ctx context.Context, id uint, userID string) (*ContractResponse, error) {
	contract, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkReadAccess(ctx, contract, userID); err != nil {
		return nil, err
	}

	return toContractResponse(contract), nil
}

func (s *contractService) List(ctx context.Context, filters repositories.ContractFilters, userID string) (*ContractListResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	// Non-admins only ever see their own contracts.
	switch user.Role {
	case models.RoleAdmin:
	case models.RoleTutor:
		filters.TutorID = &userID
	default:
		filters.StudentID = &userID
	}

	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	contracts, total, err := s.repo.Contract().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	responses := make([]*ContractResponse, 0, len(contracts))
	for _, contract := range contracts {
		responses = append(responses, toContractResponse(contract))
	}

	page := 1
	if filters.Limit > 0 {
		page = (filters.Offset / filters.Limit) + 1
	}

	return &ContractListResponse{
		Contracts: responses,
		Total:     total,
		Page:      page,
		Limit:     filters.Limit,
	}, nil
}

// ===== EXPIRY SWEEP =====

// ExpireOverdue is idempotent and safe to run concurrently across instances:
// the status guard in the update means a contract expires at most once.
func (s *contractService) ExpireOverdue(ctx context.Context) ([]uint, error) {
	ids, err := s.repo.Contract().ExpireOverdue(ctx, s.db, time.Now())
	if err != nil {
		return nil, fmt.Errorf("expiry sweep failed: %w", err)
	}

	for _, id := range ids {
		s.publishStatusChanged(ctx, id, models.ContractPendingApproval, models.ContractExpired, "system", "approval window elapsed")
	}

	if len(ids) > 0 {
		s.logger.Info("Expired overdue contracts", "count", len(ids))
	}

	return ids, nil
}

// ===== HELPERS =====

func (s *contractService) getContract(ctx context.Context, id uint) (*models.Contract, error) {
	contract, err := s.repo.Contract().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract, nil
}

func (s *contractService) checkReadAccess(ctx context.Context, contract *models.Contract, userID string) error {
	if contract.StudentID == userID || contract.TutorID == userID {
		return nil
	}

	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}
	if !isAdmin {
		return NewPermissionError("contract", "read", "not a party to this contract")
	}
	return nil
}

func (s *contractService) stampResponse(contract *models.Contract, action models.ResponseAction, req *RespondContractRequest, at time.Time) {
	contract.ResponseAction = &action
	contract.ResponseMessage = req.Message
	contract.RequestedChanges = req.RequestedChanges
	contract.RespondedAt = &at
}

func (s *contractService) publishStatusChanged(ctx context.Context, contractID uint, from, to models.ContractStatus, actorID, reason string) {
	event := events.NewEvent("contract.status_changed", &events.ContractStatusChangedEvent{
		ContractID: contractID,
		FromStatus: string(from),
		ToStatus:   string(to),
		ActorID:    actorID,
		Reason:     reason,
		ChangedAt:  time.Now(),
	})

	if err := s.eventPublisher.Publish(ctx, events.TopicStatusChanged, event); err != nil {
		// The transition is already durable; the audit stream catches up on replay.
		s.logger.Error("Failed to publish status change",
			"contract_id", contractID,
			"to_status", to,
			"error", err)
	}
}

func toContractResponse(contract *models.Contract) *ContractResponse {
	return &ContractResponse{
		Contract:      contract,
		StudentSigned: contract.StudentSignedAt != nil,
		TutorSigned:   contract.TutorSignedAt != nil,
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
