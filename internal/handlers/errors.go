package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EduMatch-2025/contract-service/internal/services"
)

// handleServiceError maps service-layer errors onto HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	// Handle custom error types first
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrContractNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Contract not found",
		})
	case errors.Is(err, services.ErrContractLocked):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Contract is locked and cannot be modified",
		})
	case errors.Is(err, services.ErrContractNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Contract is not pending student approval",
		})
	case errors.Is(err, services.ErrInvalidStatusTransition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Invalid contract status transition",
		})
	case errors.Is(err, services.ErrIntegrityMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Contract content failed integrity verification",
		})
	case errors.Is(err, services.ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "No signing challenge found, initiate signing first",
		})
	case errors.Is(err, services.ErrChallengeExpired):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: "Signing code expired, request a new one",
		})
	case errors.Is(err, services.ErrChallengeAlreadyUsed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Signing code has already been used",
		})
	case errors.Is(err, services.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid signing code",
		})
	case errors.Is(err, services.ErrAlreadySigned):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "This role has already signed the contract",
		})
	// Generic errors
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Unauthorized access",
		})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Forbidden - insufficient permissions",
		})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "User not found",
		})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Resource conflict",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
			Details: err.Error(),
		})
	}
}
