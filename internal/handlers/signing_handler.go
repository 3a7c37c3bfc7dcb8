package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EduMatch-2025/contract-service/internal/services"
	"github.com/EduMatch-2025/contract-service/internal/utils"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

type SigningHandler struct {
	BaseHandler
	signingService services.SigningService
	validator      *validator.Validator
}

func NewSigningHandler(
	signingService services.SigningService,
	validator *validator.Validator,
	logger utils.Logger,
) *SigningHandler {
	return &SigningHandler{
		BaseHandler:    NewBaseHandler(logger),
		signingService: signingService,
		validator:      validator,
	}
}

// InitiateSigning issues an OTP challenge for a signer role
// @Summary Initiate signing
// @Description Issues a 6-digit code to the signer's registered email, valid for 5 minutes
// @Tags signing
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param request body services.InitiateSigningRequest true "Signer role"
// @Success 201 {object} services.ChallengeResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /contracts/{id}/signing/initiate [post]
func (h *SigningHandler) InitiateSigning(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Initiating signing", "contract_id", id)

	var req services.InitiateSigningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	challenge, err := h.signingService.InitiateSigning(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, challenge)
}

// ResendOTP supersedes the active challenge with a fresh code
// @Summary Resend signing code
// @Tags signing
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param request body services.ResendOTPRequest true "Signer role"
// @Success 201 {object} services.ChallengeResponse
// @Router /contracts/{id}/signing/resend [post]
func (h *SigningHandler) ResendOTP(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Resending signing code", "contract_id", id)

	var req services.ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	challenge, err := h.signingService.ResendOTP(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, challenge)
}

// VerifySignature verifies the submitted code and records the signature
// @Summary Verify and sign
// @Tags signing
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param request body services.VerifySignatureRequest true "Code and consent"
// @Success 200 {object} services.SignatureResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /contracts/{id}/signing/verify [post]
func (h *SigningHandler) VerifySignature(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Verifying signature", "contract_id", id)

	var req services.VerifySignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	signature, err := h.signingService.VerifySignature(c.Request.Context(), id, &req, userID, c.ClientIP())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, signature)
}

// ApproveAndSign is the student's combined approval and signature
// @Summary Approve and sign
// @Description Consumes the OTP, approves the contract and records the student signature atomically
// @Tags signing
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param request body services.ApproveAndSignRequest true "Code, consent and optional message"
// @Success 200 {object} services.SignatureResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /contracts/{id}/approve-and-sign [post]
func (h *SigningHandler) ApproveAndSign(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Approve and sign", "contract_id", id)

	var req services.ApproveAndSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	signature, err := h.signingService.ApproveAndSign(c.Request.Context(), id, &req, studentID, c.ClientIP())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, signature)
}
