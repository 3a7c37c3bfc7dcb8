package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/EduMatch-2025/contract-service/internal/models"
)

func TestAuditService_GetAuditTrail(t *testing.T) {
	ctx := context.Background()

	t.Run("IntactContract", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		if _, err := env.signing.AutoSignForTutor(ctx, id, "tutor-1", "198.51.100.4"); err != nil {
			t.Fatalf("AutoSignForTutor failed: %v", err)
		}

		trail, err := env.audit.GetAuditTrail(ctx, id, "student-1")
		if err != nil {
			t.Fatalf("GetAuditTrail failed: %v", err)
		}

		if !trail.IntegrityOK {
			t.Error("Expected integrity verification to pass")
		}
		if trail.CanonicalHash != trail.Contract.ContractHash {
			t.Error("Expected the canonical hash to match the contract hash")
		}
		if len(trail.Signatures) != 1 {
			t.Fatalf("Expected 1 signature in the trail, got %d", len(trail.Signatures))
		}
		if trail.Signatures[0].SignerRole != models.SignerTutor {
			t.Errorf("Expected the tutor signature, got %s", trail.Signatures[0].SignerRole)
		}
		if trail.VerifiedAt.IsZero() {
			t.Error("Expected a verification timestamp")
		}
	})

	t.Run("TamperedContentDetected", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		// simulate out-of-band mutation of the stored terms
		env.repo.contracts[id].OriginalContent += " "

		trail, err := env.audit.GetAuditTrail(ctx, id, "student-1")
		if err != nil {
			t.Fatalf("GetAuditTrail failed: %v", err)
		}
		if trail.IntegrityOK {
			t.Error("Expected integrity verification to fail on tampered content")
		}
	})

	t.Run("NonPartyDenied", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)
		env.repo.addUser(&models.User{ID: "student-2", Email: "s2@example.com", Role: models.RoleStudent})

		_, err := env.audit.GetAuditTrail(ctx, id, "student-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("Expected PermissionError, got %v", err)
		}

		// admins read any trail
		if _, err := env.audit.GetAuditTrail(ctx, id, "admin-1"); err != nil {
			t.Errorf("Admin read failed: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.audit.GetAuditTrail(ctx, 999, "student-1")
		if !errors.Is(err, ErrContractNotFound) {
			t.Errorf("Expected ErrContractNotFound, got %v", err)
		}
	})
}

func TestAuditService_ExportAuditTrail(t *testing.T) {
	ctx := context.Background()

	t.Run("ProducesWorkbook", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		if _, err := env.signing.AutoSignForTutor(ctx, id, "tutor-1", "198.51.100.4"); err != nil {
			t.Fatalf("AutoSignForTutor failed: %v", err)
		}

		data, filename, err := env.audit.ExportAuditTrail(ctx, id, "tutor-1")
		if err != nil {
			t.Fatalf("ExportAuditTrail failed: %v", err)
		}
		if len(data) == 0 {
			t.Fatal("Expected workbook bytes")
		}
		// xlsx files are zip archives
		if !bytes.HasPrefix(data, []byte("PK")) {
			t.Error("Expected a zip-based workbook")
		}
		if filename == "" {
			t.Error("Expected a filename")
		}
	})

	t.Run("RefusesTamperedContract", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)
		env.repo.contracts[id].OriginalContent = "{}"

		_, _, err := env.audit.ExportAuditTrail(ctx, id, "tutor-1")
		if !errors.Is(err, ErrIntegrityMismatch) {
			t.Errorf("Expected ErrIntegrityMismatch, got %v", err)
		}
	})
}
