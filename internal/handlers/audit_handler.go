package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EduMatch-2025/contract-service/internal/services"
	"github.com/EduMatch-2025/contract-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AuditHandler struct {
	BaseHandler
	auditService services.AuditService
}

func NewAuditHandler(auditService services.AuditService, logger utils.Logger) *AuditHandler {
	return &AuditHandler{
		BaseHandler:  NewBaseHandler(logger),
		auditService: auditService,
	}
}

// GetAuditTrail returns the contract, its signatures and an integrity verdict
// @Summary Get audit trail
// @Description Recomputes the contract hash from stored content on every read
// @Tags audit
// @Produce json
// @Param id path uint true "Contract ID"
// @Success 200 {object} services.AuditTrailResponse
// @Failure 404 {object} ErrorResponse
// @Router /contracts/{id}/audit-trail [get]
func (h *AuditHandler) GetAuditTrail(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	trail, err := h.auditService.GetAuditTrail(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, trail)
}

// ExportAuditTrail downloads the audit trail as an xlsx workbook
// @Summary Export audit trail
// @Tags audit
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Contract ID"
// @Success 200 {file} binary
// @Failure 409 {object} ErrorResponse
// @Router /contracts/{id}/audit-trail/export [get]
func (h *AuditHandler) ExportAuditTrail(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting audit trail", "contract_id", id)

	data, filename, err := h.auditService.ExportAuditTrail(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
