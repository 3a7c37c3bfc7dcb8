package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/services"
	"github.com/EduMatch-2025/contract-service/internal/utils"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

type ContractHandler struct {
	BaseHandler
	contractService services.ContractService
	signingService  services.SigningService
	validator       *validator.Validator
}

func NewContractHandler(
	contractService services.ContractService,
	signingService services.SigningService,
	validator *validator.Validator,
	logger utils.Logger,
) *ContractHandler {
	return &ContractHandler{
		BaseHandler:     NewBaseHandler(logger),
		contractService: contractService,
		signingService:  signingService,
		validator:       validator,
	}
}

// CreateContract creates a tutoring contract and auto-signs it for the tutor
// @Summary Create contract
// @Description Creates a contract in pending approval; the tutor's signature is recorded system-attested
// @Tags contracts
// @Accept json
// @Produce json
// @Param contract body services.CreateContractRequest true "Contract terms"
// @Success 201 {object} services.ContractResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /contracts [post]
func (h *ContractHandler) CreateContract(c *gin.Context) {
	h.LogRequest(c, "Creating contract")

	var req services.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	tutorID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	contract, err := h.contractService.Create(c.Request.Context(), &req, tutorID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	// The tutor authored the terms, so their signature is recorded
	// immediately without an OTP round-trip.
	if _, err := h.signingService.AutoSignForTutor(c.Request.Context(), contract.ID, tutorID, c.ClientIP()); err != nil {
		h.handleServiceError(c, err)
		return
	}

	result, err := h.contractService.GetByID(c.Request.Context(), contract.ID, tutorID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetContract returns a single contract
// @Summary Get contract
// @Tags contracts
// @Produce json
// @Param id path uint true "Contract ID"
// @Success 200 {object} services.ContractResponse
// @Failure 404 {object} ErrorResponse
// @Router /contracts/{id} [get]
func (h *ContractHandler) GetContract(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	contract, err := h.contractService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// ListContracts lists the caller's contracts
// @Summary List contracts
// @Tags contracts
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} services.ContractListResponse
// @Router /contracts [get]
func (h *ContractHandler) ListContracts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters, ok := h.parseListFilters(c)
	if !ok {
		return
	}

	contracts, err := h.contractService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, contracts)
}

// RespondToContract records the student's decision
// @Summary Respond to contract
// @Description Records REJECT or REQUEST_CHANGES; approval goes through approve-and-sign
// @Tags contracts
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param response body services.RespondContractRequest true "Response"
// @Success 200 {object} services.ContractResponse
// @Failure 409 {object} ErrorResponse
// @Router /contracts/{id}/respond [post]
func (h *ContractHandler) RespondToContract(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Recording contract response", "contract_id", id)

	var req services.RespondContractRequest
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

	contract, err := h.contractService.Respond(c.Request.Context(), id, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// CancelContract cancels a contract
// @Summary Cancel contract
// @Description Tutor may cancel an unlocked contract; locked contracts require an admin
// @Tags contracts
// @Accept json
// @Produce json
// @Param id path uint true "Contract ID"
// @Param cancellation body services.CancelContractRequest true "Cancellation reason"
// @Success 200 {object} services.ContractResponse
// @Failure 409 {object} ErrorResponse
// @Router /contracts/{id}/cancel [post]
func (h *ContractHandler) CancelContract(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Cancelling contract", "contract_id", id)

	var req services.CancelContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	actorID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	contract, err := h.contractService.Cancel(c.Request.Context(), id, &req, actorID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

func (h *ContractHandler) parseListFilters(c *gin.Context) (repositories.ContractFilters, bool) {
	var query validator.ContractListFilters
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return repositories.ContractFilters{}, false
	}
	if err := h.validator.Validate(&query); err != nil {
		h.handleServiceError(c, err)
		return repositories.ContractFilters{}, false
	}

	filters := repositories.ContractFilters{
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	if query.Status != "" {
		s := models.ContractStatus(query.Status)
		filters.Status = &s
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	filters.Limit = limit
	filters.Offset = (page - 1) * limit

	return filters, true
}
