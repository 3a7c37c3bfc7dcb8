package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/integrity"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
)

type auditService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewAuditService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) AuditService {
	return &auditService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

// GetAuditTrail recomputes the integrity hash from the stored canonical
// content on every read. A mismatch is never auto-corrected: the trail is
// returned with integrity_ok=false and an alarm is logged for the
// administrative surface.
func (s *auditService) GetAuditTrail(ctx context.Context, contractID uint, userID string) (*AuditTrailResponse, error) {
	contract, err := s.repo.Contract().GetByID(ctx, s.db, contractID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	if err := s.checkAccess(ctx, contract, userID); err != nil {
		return nil, err
	}

	signatures, err := s.repo.Signature().GetByContract(ctx, s.db, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	ok := integrity.Verify(contract.ContractHash, contract.OriginalContent)
	if !ok {
		s.logger.Error("CONTRACT INTEGRITY MISMATCH",
			"contract_id", contractID,
			"stored_hash", contract.ContractHash)
	}

	return &AuditTrailResponse{
		Contract:      toContractResponse(contract),
		Signatures:    signatures,
		IntegrityOK:   ok,
		VerifiedAt:    time.Now(),
		CanonicalHash: contract.ContractHash,
	}, nil
}

// ExportAuditTrail renders the trail as an xlsx workbook. It refuses to
// export a contract that fails integrity verification.
func (s *auditService) ExportAuditTrail(ctx context.Context, contractID uint, userID string) ([]byte, string, error) {
	trail, err := s.GetAuditTrail(ctx, contractID, userID)
	if err != nil {
		return nil, "", err
	}
	if !trail.IntegrityOK {
		return nil, "", ErrIntegrityMismatch
	}

	f := excelize.NewFile()
	defer f.Close()

	const contractSheet = "Contract"
	const signatureSheet = "Signatures"

	f.SetSheetName(f.GetSheetName(0), contractSheet)

	contract := trail.Contract
	rows := [][]interface{}{
		{"Contract ID", contract.ID},
		{"Status", string(contract.Status)},
		{"Student ID", contract.StudentID},
		{"Tutor ID", contract.TutorID},
		{"Subject", contract.Subject},
		{"Total sessions", contract.TotalSessions},
		{"Price per session", contract.PricePerSession},
		{"Contract hash", contract.ContractHash},
		{"Locked", contract.IsLocked},
		{"Created at", contract.CreatedAt.Format(time.RFC3339)},
		{"Verified at", trail.VerifiedAt.Format(time.RFC3339)},
		{"Integrity", "VALID"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(contractSheet, cell, &row); err != nil {
			return nil, "", fmt.Errorf("failed to write contract sheet: %w", err)
		}
	}

	if _, err := f.NewSheet(signatureSheet); err != nil {
		return nil, "", fmt.Errorf("failed to create signature sheet: %w", err)
	}

	header := []interface{}{"Role", "Signer ID", "Email", "Signed at", "IP address", "Hash at signing", "System attested", "Consent"}
	if err := f.SetSheetRow(signatureSheet, "A1", &header); err != nil {
		return nil, "", fmt.Errorf("failed to write signature header: %w", err)
	}

	for i, sig := range trail.Signatures {
		row := []interface{}{
			string(sig.SignerRole),
			sig.SignerID,
			sig.Email,
			sig.SignedAt.Format(time.RFC3339),
			sig.IPAddress,
			sig.ContractHashAtSigning,
			sig.SystemAttested,
			sig.ConsentText,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(signatureSheet, cell, &row); err != nil {
			return nil, "", fmt.Errorf("failed to write signature row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to render workbook: %w", err)
	}

	filename := fmt.Sprintf("contract-%d-audit-%s.xlsx", contractID, time.Now().Format("20060102"))
	return buf.Bytes(), filename, nil
}

func (s *auditService) checkAccess(ctx context.Context, contract *models.Contract, userID string) error {
	if contract.StudentID == userID || contract.TutorID == userID {
		return nil
	}

	isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}
	if !isAdmin {
		return NewPermissionError("audit_trail", "read", "not a party to this contract")
	}
	return nil
}
