package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/EduMatch-2025/contract-service/internal/config"
	"github.com/EduMatch-2025/contract-service/internal/models"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/services"
	"github.com/EduMatch-2025/contract-service/internal/utils"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

type HandlerManager struct {
	contractHandler *ContractHandler
	signingHandler  *SigningHandler
	auditHandler    *AuditHandler
	authMiddleware  *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		contractHandler: NewContractHandler(serviceManager.Contract(), serviceManager.Signing(), validator, logger),
		signingHandler:  NewSigningHandler(serviceManager.Signing(), validator, logger),
		auditHandler:    NewAuditHandler(serviceManager.Audit(), logger),
		authMiddleware:  authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		contracts := v1.Group("/contracts")
		{
			// Contract lifecycle - Tutors create, students respond
			contracts.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTutor), hm.contractHandler.CreateContract)
			contracts.POST("/:id/respond", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.contractHandler.RespondToContract)
			contracts.POST("/:id/cancel", hm.authMiddleware.RequireRoleMiddleware(models.RoleTutor, models.RoleAdmin), hm.contractHandler.CancelContract)

			// View contracts - all authenticated users, scoped in the service
			contracts.GET("", hm.contractHandler.ListContracts)
			contracts.GET("/:id", hm.contractHandler.GetContract)

			// OTP signing protocol
			contracts.POST("/:id/signing/initiate", hm.signingHandler.InitiateSigning)
			contracts.POST("/:id/signing/resend", hm.signingHandler.ResendOTP)
			contracts.POST("/:id/signing/verify", hm.signingHandler.VerifySignature)

			// Combined student approval
			contracts.POST("/:id/approve-and-sign", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.signingHandler.ApproveAndSign)

			// Audit trail
			contracts.GET("/:id/audit-trail", hm.auditHandler.GetAuditTrail)
			contracts.GET("/:id/audit-trail/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.auditHandler.ExportAuditTrail)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "contract-service",
		})
	})
}
