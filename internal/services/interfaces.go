package services

import (
	"context"
	"time"

	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOS =====

// Request DTOs live in the validator package next to their rules.
type CreateContractRequest = validator.ContractCreateRequest
type RespondContractRequest = validator.ContractRespondRequest
type CancelContractRequest = validator.ContractCancelRequest
type InitiateSigningRequest = validator.InitiateSigningRequest
type ResendOTPRequest = validator.ResendOTPRequest
type VerifySignatureRequest = validator.VerifySignatureRequest
type ApproveAndSignRequest = validator.ApproveAndSignRequest

type ContractResponse struct {
	*models.Contract
	StudentSigned bool `json:"student_signed"`
	TutorSigned   bool `json:"tutor_signed"`
}

type ContractListResponse struct {
	Contracts []*ContractResponse `json:"contracts"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Limit     int                 `json:"limit"`
}

// ChallengeResponse deliberately omits the code. The plaintext goes to the
// email dispatcher through the event stream only.
type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ContractID  uint      `json:"contract_id"`
	SignerRole  string    `json:"signer_role"`
	ExpiresAt   time.Time `json:"expires_at"`
	Resend      bool      `json:"resend"`
}

type SignatureResponse struct {
	*models.SignatureRecord
	ContractStatus models.ContractStatus `json:"contract_status"`
	FullySigned    bool                  `json:"fully_signed"`
}

type AuditTrailResponse struct {
	Contract      *ContractResponse         `json:"contract"`
	Signatures    []*models.SignatureRecord `json:"signatures"`
	IntegrityOK   bool                      `json:"integrity_ok"`
	VerifiedAt    time.Time                 `json:"verified_at"`
	CanonicalHash string                    `json:"canonical_hash"`
}

// ===== SERVICE INTERFACES =====

type ContractService interface {
	// Lifecycle
	Create(ctx context.Context, req *CreateContractRequest, tutorID string) (*ContractResponse, error)
	Respond(ctx context.Context, id uint, req *RespondContractRequest, studentID string) (*ContractResponse, error)
	Cancel(ctx context.Context, id uint, req *CancelContractRequest, actorID string) (*ContractResponse, error)

	// Read operations
	GetByID(ctx context.Context, id uint, userID string) (*ContractResponse, error)
	List(ctx context.Context, filters repositories.ContractFilters, userID string) (*ContractListResponse, error)

	// Expiry sweep, called by the scheduler
	ExpireOverdue(ctx context.Context) ([]uint, error)
}

type SigningService interface {
	// OTP challenge protocol
	InitiateSigning(ctx context.Context, contractID uint, req *InitiateSigningRequest, userID string) (*ChallengeResponse, error)
	ResendOTP(ctx context.Context, contractID uint, req *ResendOTPRequest, userID string) (*ChallengeResponse, error)

	// Signature recording
	VerifySignature(ctx context.Context, contractID uint, req *VerifySignatureRequest, userID, clientIP string) (*SignatureResponse, error)
	ApproveAndSign(ctx context.Context, contractID uint, req *ApproveAndSignRequest, studentID, clientIP string) (*SignatureResponse, error)

	// Tutor auto-sign on contract creation, no OTP round-trip
	AutoSignForTutor(ctx context.Context, contractID uint, tutorID, clientIP string) (*SignatureResponse, error)
}

type AuditService interface {
	GetAuditTrail(ctx context.Context, contractID uint, userID string) (*AuditTrailResponse, error)
	ExportAuditTrail(ctx context.Context, contractID uint, userID string) ([]byte, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Contract() ContractService
	Signing() SigningService
	Audit() AuditService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
