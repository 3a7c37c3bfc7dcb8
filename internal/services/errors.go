package services

import (
	"errors"
	"fmt"

	"github.com/EduMatch-2025/contract-service/internal/validator"
)

// Contract errors
var (
	ErrContractNotFound        = errors.New("contract not found")
	ErrContractLocked          = errors.New("contract is locked")
	ErrContractNotPending      = errors.New("contract is not pending approval")
	ErrInvalidStatusTransition = errors.New("invalid contract status transition")
	ErrIntegrityMismatch       = errors.New("contract content does not match its hash")
)

// Signing errors
var (
	ErrChallengeNotFound    = errors.New("otp challenge not found")
	ErrChallengeExpired     = errors.New("otp challenge expired")
	ErrChallengeAlreadyUsed = errors.New("otp challenge already used")
	ErrInvalidCode          = errors.New("invalid otp code")
	ErrAlreadySigned        = errors.New("role has already signed this contract")
)

// Generic errors
var (
	ErrValidationFailed = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrUserNotFound     = errors.New("user not found")
	ErrConflict         = errors.New("resource conflict")
)

// ValidationErrors is re-exported so handlers can match with errors.As
// without importing the validator package.
type ValidationErrors = validator.ValidationErrors

// BusinessRuleError carries the violated rule and its context.
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation [%s]: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// PermissionError describes who tried to do what on which resource.
type PermissionError struct {
	Resource string
	Action   string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s on %s (%s)", e.Action, e.Resource, e.Reason)
}

func NewPermissionError(resource, action, reason string) *PermissionError {
	return &PermissionError{
		Resource: resource,
		Action:   action,
		Reason:   reason,
	}
}
