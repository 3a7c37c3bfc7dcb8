package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/EduMatch-2025/contract-service/internal/events"
	"github.com/EduMatch-2025/contract-service/internal/integrity"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

type testEnv struct {
	repo      *memRepository
	publisher *events.MockEventPublisher
	contracts ContractService
	signing   SigningService
	audit     AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemRepository()
	publisher := events.NewMockEventPublisher(logger)
	v := validator.New()

	repo.addUser(&models.User{ID: "tutor-1", FullName: "Tina Tutor", Email: "tina@example.com", Role: models.RoleTutor})
	repo.addUser(&models.User{ID: "student-1", FullName: "Sam Student", Email: "sam@example.com", Role: models.RoleStudent})
	repo.addUser(&models.User{ID: "admin-1", FullName: "Ada Admin", Email: "ada@example.com", Role: models.RoleAdmin})

	return &testEnv{
		repo:      repo,
		publisher: publisher,
		contracts: NewContractService(repo, nil, logger, v, publisher, 7*24*time.Hour),
		signing:   NewSigningService(repo, nil, logger, v, publisher, 5*time.Minute),
		audit:     NewAuditService(repo, nil, logger),
	}
}

func strPtr(s string) *string { return &s }

func validCreateRequest() *CreateContractRequest {
	return &CreateContractRequest{
		StudentID:       "student-1",
		Subject:         "Mathematics",
		TotalSessions:   12,
		PricePerSession: 250000,
		Schedule:        map[string]interface{}{"monday": "18:00", "thursday": "18:00"},
		IsOnline:        true,
		MeetingURL:      strPtr("https://meet.example.com/room-1"),
	}
}

// seedPendingContract creates a contract through the service and returns its ID.
func seedPendingContract(t *testing.T, env *testEnv) uint {
	t.Helper()
	resp, err := env.contracts.Create(context.Background(), validCreateRequest(), "tutor-1")
	if err != nil {
		t.Fatalf("failed to seed contract: %v", err)
	}
	env.publisher.ClearEvents()
	return resp.ID
}

func TestContractService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		resp, err := env.contracts.Create(ctx, validCreateRequest(), "tutor-1")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if resp.Status != models.ContractPendingApproval {
			t.Errorf("Expected status %s, got %s", models.ContractPendingApproval, resp.Status)
		}
		if len(resp.ContractHash) != 64 {
			t.Errorf("Expected 64-char hash, got %d chars", len(resp.ContractHash))
		}
		if !integrity.Verify(resp.ContractHash, resp.OriginalContent) {
			t.Error("Stored canonical content does not verify against the hash")
		}
		if resp.ExpiresAt == nil {
			t.Fatal("Expected an approval deadline")
		}
		remaining := time.Until(*resp.ExpiresAt)
		if remaining < 6*24*time.Hour || remaining > 8*24*time.Hour {
			t.Errorf("Expected ~7 day approval window, got %s", remaining)
		}
		if resp.StudentSigned || resp.TutorSigned {
			t.Error("No party should be signed at creation")
		}

		changes := env.publisher.EventsForTopic(events.TopicStatusChanged)
		if len(changes) != 1 {
			t.Fatalf("Expected 1 status change event, got %d", len(changes))
		}
		data := changes[0].Data.(*events.ContractStatusChangedEvent)
		if data.ToStatus != string(models.ContractPendingApproval) {
			t.Errorf("Expected transition to %s, got %s", models.ContractPendingApproval, data.ToStatus)
		}
	})

	t.Run("NonTutorDenied", func(t *testing.T) {
		_, err := env.contracts.Create(ctx, validCreateRequest(), "student-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("Expected PermissionError, got %v", err)
		}
	})

	t.Run("CounterpartyMustBeStudent", func(t *testing.T) {
		req := validCreateRequest()
		req.StudentID = "admin-1"
		_, err := env.contracts.Create(ctx, req, "tutor-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("Expected BusinessRuleError, got %v", err)
		}
		if ruleErr.Rule != "student_required" {
			t.Errorf("Expected rule student_required, got %s", ruleErr.Rule)
		}
	})

	t.Run("ExpiryInPastRejected", func(t *testing.T) {
		req := validCreateRequest()
		past := time.Now().Add(-time.Hour)
		req.ExpiresAt = &past
		_, err := env.contracts.Create(ctx, req, "tutor-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("Expected BusinessRuleError, got %v", err)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		req := validCreateRequest()
		req.TotalSessions = 0
		if _, err := env.contracts.Create(ctx, req, "tutor-1"); err == nil {
			t.Fatal("Expected validation error for zero sessions")
		}
	})

	t.Run("FreeContractAllowed", func(t *testing.T) {
		req := validCreateRequest()
		req.PricePerSession = 0
		resp, err := env.contracts.Create(ctx, req, "tutor-1")
		if err != nil {
			t.Fatalf("Create with zero price failed: %v", err)
		}
		if resp.PricePerSession != 0 {
			t.Errorf("Expected zero price to be stored, got %d", resp.PricePerSession)
		}
	})

	t.Run("NegativePriceRejected", func(t *testing.T) {
		req := validCreateRequest()
		req.PricePerSession = -100
		if _, err := env.contracts.Create(ctx, req, "tutor-1"); err == nil {
			t.Fatal("Expected validation error for a negative price")
		}
	})
}

func TestContractService_Respond(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectMovesToTerminal", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		resp, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action:  string(models.ActionReject),
			Message: strPtr("price too high"),
		}, "student-1")
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if resp.Status != models.ContractRejected {
			t.Errorf("Expected status %s, got %s", models.ContractRejected, resp.Status)
		}

		changes := env.publisher.EventsForTopic(events.TopicStatusChanged)
		if len(changes) != 1 {
			t.Fatalf("Expected 1 status change event, got %d", len(changes))
		}

		// rejection is terminal
		_, err = env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action: string(models.ActionReject),
		}, "student-1")
		if !errors.Is(err, ErrInvalidStatusTransition) {
			t.Errorf("Expected ErrInvalidStatusTransition on second respond, got %v", err)
		}
	})

	t.Run("ApproveRedirectsToSigningFlow", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		_, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action: string(models.ActionApprove),
		}, "student-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("Expected BusinessRuleError, got %v", err)
		}
		if ruleErr.Rule != "approval_requires_signature" {
			t.Errorf("Expected rule approval_requires_signature, got %s", ruleErr.Rule)
		}
	})

	t.Run("RequestChangesKeepsContractPending", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		resp, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action:           string(models.ActionRequestChanges),
			Message:          strPtr("can we move to weekends?"),
			RequestedChanges: strPtr("schedule: saturday mornings"),
		}, "student-1")
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if resp.Status != models.ContractPendingApproval {
			t.Errorf("Expected contract to stay pending, got %s", resp.Status)
		}
		if resp.ResponseAction == nil || *resp.ResponseAction != models.ActionRequestChanges {
			t.Error("Expected the response action to be recorded")
		}
		if resp.RespondedAt == nil {
			t.Error("Expected responded_at to be stamped")
		}
	})

	t.Run("WrongStudentDenied", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		_, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action: string(models.ActionReject),
		}, "tutor-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("Expected PermissionError, got %v", err)
		}
	})

	t.Run("LockedContractRefused", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		now := time.Now()
		stored := env.repo.contracts[id]
		stored.StudentSignedAt = &now
		stored.TutorSignedAt = &now
		stored.IsLocked = true
		stored.IsSigned = true

		_, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action: string(models.ActionReject),
		}, "student-1")
		if !errors.Is(err, ErrContractLocked) {
			t.Fatalf("Expected ErrContractLocked, got %v", err)
		}
		if env.repo.contracts[id].Status != models.ContractPendingApproval {
			t.Error("A locked contract must not change status on respond")
		}
	})

	t.Run("RefusedAfterStudentSigned", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		if err := env.repo.Signature().Create(ctx, nil, &models.SignatureRecord{
			ContractID: id,
			SignerRole: models.SignerStudent,
			SignerID:   "student-1",
			SignedAt:   time.Now(),
		}); err != nil {
			t.Fatalf("failed to seed signature: %v", err)
		}

		_, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action:  string(models.ActionRequestChanges),
			Message: strPtr("second thoughts"),
		}, "student-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("Expected BusinessRuleError, got %v", err)
		}
		if ruleErr.Rule != "already_signed" {
			t.Errorf("Expected rule already_signed, got %s", ruleErr.Rule)
		}
	})

	t.Run("ExpiredWindowRejected", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		past := time.Now().Add(-time.Hour)
		env.repo.contracts[id].ExpiresAt = &past

		_, err := env.contracts.Respond(ctx, id, &RespondContractRequest{
			Action: string(models.ActionReject),
		}, "student-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("Expected BusinessRuleError, got %v", err)
		}
		if ruleErr.Rule != "contract_expired" {
			t.Errorf("Expected rule contract_expired, got %s", ruleErr.Rule)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.contracts.Respond(ctx, 999, &RespondContractRequest{
			Action: string(models.ActionReject),
		}, "student-1")
		if !errors.Is(err, ErrContractNotFound) {
			t.Errorf("Expected ErrContractNotFound, got %v", err)
		}
	})
}

func TestContractService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("TutorCancelsPending", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		resp, err := env.contracts.Cancel(ctx, id, &CancelContractRequest{Reason: "student moved away"}, "tutor-1")
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if resp.Status != models.ContractCancelled {
			t.Errorf("Expected status %s, got %s", models.ContractCancelled, resp.Status)
		}
		if resp.CancelReason == nil || *resp.CancelReason != "student moved away" {
			t.Error("Expected the cancel reason to be recorded")
		}

		// cancellation is terminal
		_, err = env.contracts.Cancel(ctx, id, &CancelContractRequest{Reason: "again"}, "tutor-1")
		if !errors.Is(err, ErrInvalidStatusTransition) {
			t.Errorf("Expected ErrInvalidStatusTransition on double cancel, got %v", err)
		}
	})

	t.Run("NonPartyDenied", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)
		env.repo.addUser(&models.User{ID: "tutor-2", Email: "other@example.com", Role: models.RoleTutor})

		_, err := env.contracts.Cancel(ctx, id, &CancelContractRequest{Reason: "not mine"}, "tutor-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("Expected PermissionError, got %v", err)
		}
	})

	t.Run("LockedContractRequiresAdmin", func(t *testing.T) {
		env := newTestEnv(t)
		id := seedPendingContract(t, env)

		now := time.Now()
		stored := env.repo.contracts[id]
		stored.Status = models.ContractApproved
		stored.StudentSignedAt = &now
		stored.TutorSignedAt = &now
		stored.IsLocked = true
		stored.IsSigned = true

		_, err := env.contracts.Cancel(ctx, id, &CancelContractRequest{Reason: "tutor change of plans"}, "tutor-1")
		if !errors.Is(err, ErrContractLocked) {
			t.Fatalf("Expected ErrContractLocked for tutor, got %v", err)
		}

		resp, err := env.contracts.Cancel(ctx, id, &CancelContractRequest{Reason: "dispute resolution"}, "admin-1")
		if err != nil {
			t.Fatalf("Admin cancel failed: %v", err)
		}
		if resp.Status != models.ContractCancelled {
			t.Errorf("Expected status %s, got %s", models.ContractCancelled, resp.Status)
		}
	})
}

func TestContractService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.repo.addUser(&models.User{ID: "tutor-2", Email: "t2@example.com", Role: models.RoleTutor})
	env.repo.addUser(&models.User{ID: "student-2", Email: "s2@example.com", Role: models.RoleStudent})

	seedPendingContract(t, env) // tutor-1 / student-1
	req := validCreateRequest()
	req.StudentID = "student-2"
	if _, err := env.contracts.Create(ctx, req, "tutor-2"); err != nil {
		t.Fatalf("failed to seed second contract: %v", err)
	}

	t.Run("TutorSeesOwnOnly", func(t *testing.T) {
		resp, err := env.contracts.List(ctx, repositories.ContractFilters{}, "tutor-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if resp.Total != 1 {
			t.Fatalf("Expected 1 contract for tutor-1, got %d", resp.Total)
		}
		if resp.Contracts[0].TutorID != "tutor-1" {
			t.Errorf("Expected tutor-1's contract, got tutor %s", resp.Contracts[0].TutorID)
		}
	})

	t.Run("StudentSeesOwnOnly", func(t *testing.T) {
		resp, err := env.contracts.List(ctx, repositories.ContractFilters{}, "student-2")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if resp.Total != 1 {
			t.Fatalf("Expected 1 contract for student-2, got %d", resp.Total)
		}
	})

	t.Run("AdminSeesAll", func(t *testing.T) {
		resp, err := env.contracts.List(ctx, repositories.ContractFilters{}, "admin-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if resp.Total != 2 {
			t.Fatalf("Expected 2 contracts for admin, got %d", resp.Total)
		}
	})

	t.Run("DefaultLimitApplied", func(t *testing.T) {
		resp, err := env.contracts.List(ctx, repositories.ContractFilters{}, "admin-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if resp.Limit != 20 {
			t.Errorf("Expected default limit 20, got %d", resp.Limit)
		}
		if resp.Page != 1 {
			t.Errorf("Expected page 1, got %d", resp.Page)
		}
	})
}

func TestContractService_ExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	overdueID := seedPendingContract(t, env)
	pendingID := seedPendingContract(t, env)
	lockedID := seedPendingContract(t, env)

	past := time.Now().Add(-time.Hour)
	env.repo.contracts[overdueID].ExpiresAt = &past
	env.repo.contracts[lockedID].ExpiresAt = &past
	env.repo.contracts[lockedID].IsLocked = true

	ids, err := env.contracts.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != overdueID {
		t.Fatalf("Expected [%d] expired, got %v", overdueID, ids)
	}

	if env.repo.contracts[overdueID].Status != models.ContractExpired {
		t.Errorf("Expected overdue contract to be %s, got %s", models.ContractExpired, env.repo.contracts[overdueID].Status)
	}
	if env.repo.contracts[pendingID].Status != models.ContractPendingApproval {
		t.Errorf("Contract inside its window must stay pending, got %s", env.repo.contracts[pendingID].Status)
	}
	if env.repo.contracts[lockedID].Status != models.ContractPendingApproval {
		t.Errorf("The sweep must never touch a locked contract, got %s", env.repo.contracts[lockedID].Status)
	}

	changes := env.publisher.EventsForTopic(events.TopicStatusChanged)
	if len(changes) != 1 {
		t.Fatalf("Expected 1 status change event, got %d", len(changes))
	}
	data := changes[0].Data.(*events.ContractStatusChangedEvent)
	if data.ActorID != "system" || data.ToStatus != string(models.ContractExpired) {
		t.Errorf("Unexpected expiry event payload: %+v", data)
	}

	// the sweep is idempotent
	ids, err = env.contracts.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no contracts on second sweep, got %v", ids)
	}
}

func TestContractService_GetByID_AccessControl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedPendingContract(t, env)

	env.repo.addUser(&models.User{ID: "student-2", Email: "s2@example.com", Role: models.RoleStudent})

	if _, err := env.contracts.GetByID(ctx, id, "student-1"); err != nil {
		t.Errorf("Party read failed: %v", err)
	}
	if _, err := env.contracts.GetByID(ctx, id, "admin-1"); err != nil {
		t.Errorf("Admin read failed: %v", err)
	}

	_, err := env.contracts.GetByID(ctx, id, "student-2")
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Errorf("Expected PermissionError for non-party, got %v", err)
	}
}
