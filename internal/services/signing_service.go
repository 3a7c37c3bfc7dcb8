package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/events"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

// maxVerifyAttempts caps wrong-code guesses per challenge before the signer
// has to request a fresh one.
const maxVerifyAttempts = 5

const systemAttestConsent = "Signed by the platform on behalf of the tutor at contract creation"

type signingService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	otpTTL         time.Duration
}

func NewSigningService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher, otpTTL time.Duration) SigningService {
	return &signingService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      v,
		eventPublisher: publisher,
		otpTTL:         otpTTL,
	}
}

// ===== OTP CHALLENGE PROTOCOL =====

func (s *signingService) InitiateSigning(ctx context.Context, contractID uint, req *InitiateSigningRequest, userID string) (*ChallengeResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return s.issueChallenge(ctx, contractID, models.SignerRole(req.Role), userID, false)
}

// ResendOTP supersedes the active challenge with a fresh code and deadline.
// It is the recovery path for expired or mistyped codes, so it is always
// permitted while the contract remains signable.
func (s *signingService) ResendOTP(ctx context.Context, contractID uint, req *ResendOTPRequest, userID string) (*ChallengeResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return s.issueChallenge(ctx, contractID, models.SignerRole(req.Role), userID, true)
}

func (s *signingService) issueChallenge(ctx context.Context, contractID uint, role models.SignerRole, userID string, resend bool) (*ChallengeResponse, error) {
	s.logger.Info("Issuing signing challenge",
		"contract_id", contractID,
		"role", role,
		"resend", resend)

	contract, err := s.getContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSignable(ctx, contract, role, userID); err != nil {
		return nil, err
	}

	signer, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := time.Now()
	challenge := &models.OTPChallenge{
		ID:         uuid.New().String(),
		ContractID: contractID,
		SignerRole: role,
		CodeHash:   hashOTPCode(code),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.otpTTL),
	}

	if err := s.repo.Challenge().CreateSuperseding(ctx, s.db, challenge); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	// The plaintext code exists only here and in the dispatcher's inbox.
	event := events.NewEvent("contract.otp_issued", &events.OTPIssuedEvent{
		ChallengeID: challenge.ID,
		ContractID:  contractID,
		SignerRole:  string(role),
		SignerID:    userID,
		Email:       signer.Email,
		Code:        code,
		ExpiresAt:   challenge.ExpiresAt,
		IssuedAt:    challenge.IssuedAt,
		Resend:      resend,
	})
	if err := s.eventPublisher.Publish(ctx, events.TopicOTPIssued, event); err != nil {
		return nil, fmt.Errorf("failed to dispatch code: %w", err)
	}

	s.logger.Info("Signing challenge issued",
		"contract_id", contractID,
		"challenge_id", challenge.ID,
		"expires_at", challenge.ExpiresAt)

	return &ChallengeResponse{
		ChallengeID: challenge.ID,
		ContractID:  contractID,
		SignerRole:  string(role),
		ExpiresAt:   challenge.ExpiresAt,
		Resend:      resend,
	}, nil
}

// ===== SIGNATURE RECORDING =====

func (s *signingService) VerifySignature(ctx context.Context, contractID uint, req *VerifySignatureRequest, userID, clientIP string) (*SignatureResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	role := models.SignerRole(req.Role)
	s.logger.Info("Verifying signature",
		"contract_id", contractID,
		"role", role)

	var record *models.SignatureRecord
	var locked *models.Contract
	var approved bool

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		contract, err := txRepo.Contract().GetByID(ctx, nil, contractID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrContractNotFound
			}
			return err
		}
		if err := s.checkSignable(ctx, contract, role, userID); err != nil {
			return err
		}

		if err := s.consumeChallenge(ctx, txRepo, contractID, role, req.Code); err != nil {
			return err
		}

		// A student signature on a pending contract is an approval. The
		// transition rides the same transaction as the signature so the
		// contract can never end up signed by both parties while still
		// pending.
		if role == models.SignerStudent && contract.Status == models.ContractPendingApproval {
			err = txRepo.Contract().UpdateStatus(ctx, nil, contractID,
				models.ContractPendingApproval, models.ContractApproved,
				map[string]interface{}{
					"response_action": models.ActionApprove,
					"responded_at":    time.Now(),
				})
			if errors.Is(err, repositories.ErrNoRowsAffected) {
				return ErrContractNotPending
			}
			if err != nil {
				return err
			}
			approved = true
		}

		record, err = s.recordSignature(ctx, txRepo, contract, role, userID, clientIP, req.ConsentText, false)
		if err != nil {
			return err
		}

		locked, err = s.afterSign(ctx, txRepo, contractID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if approved {
		s.publishStatusChanged(ctx, contractID, models.ContractPendingApproval, models.ContractApproved, userID)
	}
	s.publishFullySigned(ctx, locked)

	contract, err := s.getContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Signature recorded",
		"contract_id", contractID,
		"role", role,
		"fully_signed", locked != nil)

	return &SignatureResponse{
		SignatureRecord: record,
		ContractStatus:  contract.Status,
		FullySigned:     locked != nil,
	}, nil
}

// ApproveAndSign is the student's combined transaction: OTP consumption,
// the pending-to-approved transition and the signature either all happen
// or none do.
func (s *signingService) ApproveAndSign(ctx context.Context, contractID uint, req *ApproveAndSignRequest, studentID, clientIP string) (*SignatureResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	s.logger.Info("Approve and sign",
		"contract_id", contractID,
		"student_id", studentID)

	var record *models.SignatureRecord
	var locked *models.Contract

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		contract, err := txRepo.Contract().GetByID(ctx, nil, contractID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrContractNotFound
			}
			return err
		}
		if err := s.checkSignable(ctx, contract, models.SignerStudent, studentID); err != nil {
			return err
		}

		if err := s.consumeChallenge(ctx, txRepo, contractID, models.SignerStudent, req.Code); err != nil {
			return err
		}

		now := time.Now()
		err = txRepo.Contract().UpdateStatus(ctx, nil, contractID,
			models.ContractPendingApproval, models.ContractApproved,
			map[string]interface{}{
				"response_action":  models.ActionApprove,
				"response_message": req.Message,
				"responded_at":     now,
			})
		if errors.Is(err, repositories.ErrNoRowsAffected) {
			return ErrContractNotPending
		}
		if err != nil {
			return err
		}

		record, err = s.recordSignature(ctx, txRepo, contract, models.SignerStudent, studentID, clientIP, req.ConsentText, false)
		if err != nil {
			return err
		}

		locked, err = s.afterSign(ctx, txRepo, contractID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChanged(ctx, contractID, models.ContractPendingApproval, models.ContractApproved, studentID)
	s.publishFullySigned(ctx, locked)

	s.logger.Info("Contract approved and signed",
		"contract_id", contractID,
		"fully_signed", locked != nil)

	return &SignatureResponse{
		SignatureRecord: record,
		ContractStatus:  models.ContractApproved,
		FullySigned:     locked != nil,
	}, nil
}

// AutoSignForTutor records the tutor's signature at contract creation. The
// tutor authored the terms, so no OTP round-trip happens; the record is
// marked system-attested instead.
func (s *signingService) AutoSignForTutor(ctx context.Context, contractID uint, tutorID, clientIP string) (*SignatureResponse, error) {
	s.logger.Info("Auto-signing for tutor",
		"contract_id", contractID,
		"tutor_id", tutorID)

	var record *models.SignatureRecord
	var locked *models.Contract

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		contract, err := txRepo.Contract().GetByID(ctx, nil, contractID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrContractNotFound
			}
			return err
		}
		if err := s.checkSignable(ctx, contract, models.SignerTutor, tutorID); err != nil {
			return err
		}

		record, err = s.recordSignature(ctx, txRepo, contract, models.SignerTutor, tutorID, clientIP, systemAttestConsent, true)
		if err != nil {
			return err
		}

		locked, err = s.afterSign(ctx, txRepo, contractID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishFullySigned(ctx, locked)

	contract, err := s.getContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	return &SignatureResponse{
		SignatureRecord: record,
		ContractStatus:  contract.Status,
		FullySigned:     locked != nil,
	}, nil
}

// ===== INTERNAL STEPS =====

func (s *signingService) getContract(ctx context.Context, id uint) (*models.Contract, error) {
	contract, err := s.repo.Contract().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract, nil
}

// checkSignable enforces every precondition shared by issue, verify and sign.
func (s *signingService) checkSignable(ctx context.Context, contract *models.Contract, role models.SignerRole, userID string) error {
	if !role.Valid() {
		return NewBusinessRuleError("invalid_role", "signer role must be student or tutor", nil)
	}
	if contract.PartyID(role) != userID {
		return NewPermissionError("contract", "sign", fmt.Sprintf("caller is not the contract's %s", role))
	}
	if contract.IsLocked {
		return ErrContractLocked
	}
	if contract.Status.IsTerminal() {
		return ErrInvalidStatusTransition
	}
	// The approval deadline holds even before the sweep flips the status.
	if contract.Status == models.ContractPendingApproval &&
		contract.ExpiresAt != nil && time.Now().After(*contract.ExpiresAt) {
		return NewBusinessRuleError("contract_expired",
			"contract approval window has passed",
			map[string]interface{}{"expires_at": contract.ExpiresAt})
	}
	if contract.SignedAtForRole(role) != nil {
		return ErrAlreadySigned
	}
	return nil
}

// consumeChallenge validates the submitted code against the newest challenge
// and consumes it. The consumed_at compare-and-swap guarantees two concurrent
// calls with the same valid code never both pass.
func (s *signingService) consumeChallenge(ctx context.Context, txRepo repositories.Repository, contractID uint, role models.SignerRole, code string) error {
	challenge, err := txRepo.Challenge().GetLatest(ctx, nil, contractID, role)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrChallengeNotFound
		}
		return err
	}

	if challenge.ConsumedAt != nil {
		return ErrChallengeAlreadyUsed
	}
	if time.Now().After(challenge.ExpiresAt) {
		return ErrChallengeExpired
	}
	if challenge.AttemptCount >= maxVerifyAttempts {
		return NewBusinessRuleError("too_many_attempts",
			"challenge attempt limit reached, request a new code",
			map[string]interface{}{"challenge_id": challenge.ID})
	}

	if subtle.ConstantTimeCompare([]byte(challenge.CodeHash), []byte(hashOTPCode(code))) != 1 {
		if err := txRepo.Challenge().IncrementAttempts(ctx, nil, challenge.ID); err != nil {
			s.logger.Error("Failed to count attempt", "challenge_id", challenge.ID, "error", err)
		}
		return ErrInvalidCode
	}

	err = txRepo.Challenge().Consume(ctx, nil, challenge.ID, time.Now())
	if errors.Is(err, repositories.ErrNoRowsAffected) {
		return ErrChallengeAlreadyUsed
	}
	return err
}

func (s *signingService) recordSignature(ctx context.Context, txRepo repositories.Repository, contract *models.Contract, role models.SignerRole, signerID, clientIP, consentText string, attested bool) (*models.SignatureRecord, error) {
	signer, err := txRepo.User().GetByID(ctx, signerID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	now := time.Now()
	record := &models.SignatureRecord{
		ContractID:            contract.ID,
		SignerRole:            role,
		SignerID:              signerID,
		Email:                 signer.Email,
		IPAddress:             clientIP,
		ConsentText:           consentText,
		SignedAt:              now,
		ContractHashAtSigning: contract.ContractHash,
		SystemAttested:        attested,
	}

	if err := txRepo.Signature().Create(ctx, nil, record); err != nil {
		// The unique index catches the race the earlier read misses.
		if repositories.IsDuplicateKeyError(err) {
			return nil, ErrAlreadySigned
		}
		return nil, fmt.Errorf("failed to record signature: %w", err)
	}

	err = txRepo.Contract().SetRoleSigned(ctx, nil, contract.ID, role, now)
	if errors.Is(err, repositories.ErrNoRowsAffected) {
		return nil, ErrAlreadySigned
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// afterSign flips the one-shot lock when the second signature lands. Returns
// the locked contract for the winning caller, nil for everyone else.
func (s *signingService) afterSign(ctx context.Context, txRepo repositories.Repository, contractID uint) (*models.Contract, error) {
	locked, err := txRepo.Contract().LockIfFullySigned(ctx, nil, contractID, time.Now())
	if errors.Is(err, repositories.ErrNoRowsAffected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// publishFullySigned notifies class provisioning. Only the caller whose
// afterSign won the lock ever holds a non-nil contract, so the event goes
// out exactly once per contract.
func (s *signingService) publishFullySigned(ctx context.Context, locked *models.Contract) {
	if locked == nil {
		return
	}

	event := events.NewEvent("contract.fully_signed", &events.ContractFullySignedEvent{
		ContractID:   locked.ID,
		StudentID:    locked.StudentID,
		TutorID:      locked.TutorID,
		Subject:      locked.Subject,
		ContractHash: locked.ContractHash,
		LockedAt:     derefTime(locked.LockedAt),
	})
	if err := s.eventPublisher.Publish(ctx, events.TopicFullySigned, event); err != nil {
		s.logger.Error("Failed to publish fully-signed event",
			"contract_id", locked.ID,
			"error", err)
	}
}

func (s *signingService) publishStatusChanged(ctx context.Context, contractID uint, from, to models.ContractStatus, actorID string) {
	event := events.NewEvent("contract.status_changed", &events.ContractStatusChangedEvent{
		ContractID: contractID,
		FromStatus: string(from),
		ToStatus:   string(to),
		ActorID:    actorID,
		ChangedAt:  time.Now(),
	})
	if err := s.eventPublisher.Publish(ctx, events.TopicStatusChanged, event); err != nil {
		s.logger.Error("Failed to publish status change",
			"contract_id", contractID,
			"to_status", to,
			"error", err)
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
