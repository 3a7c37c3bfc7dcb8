package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/EduMatch-2025/contract-service/internal/events"
	"github.com/EduMatch-2025/contract-service/internal/repositories"
	"github.com/EduMatch-2025/contract-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Signing protocol settings
	OTPTTL      time.Duration
	ApprovalTTL time.Duration

	DefaultTimeout time.Duration
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	config         ServiceManagerConfig

	// Service instances
	contractService ContractService
	signingService  SigningService
	auditService    AuditService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		eventPublisher: publisher,
		config:         config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		OTPTTL:      5 * time.Minute,
		ApprovalTTL: 7 * 24 * time.Hour,

		DefaultTimeout: 30 * time.Second,
	}

	return NewServiceManager(db, repo, logger, validator, publisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.contractService = NewContractService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher, sm.config.ApprovalTTL)
	sm.logger.Info("Contract service initialized")

	sm.signingService = NewSigningService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher, sm.config.OTPTTL)
	sm.logger.Info("Signing service initialized")

	sm.auditService = NewAuditService(sm.repo, sm.db, sm.logger)
	sm.logger.Info("Audit service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) Contract() ContractService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.contractService == nil {
		panic("contract service not initialized")
	}

	return sm.contractService
}

func (sm *serviceManager) Signing() SigningService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.signingService == nil {
		panic("signing service not initialized")
	}

	return sm.signingService
}

func (sm *serviceManager) Audit() AuditService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.auditService == nil {
		panic("audit service not initialized")
	}

	return sm.auditService
}

// HealthCheck verifies the manager's dependencies are reachable
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	return sm.repo.Ping(ctx)
}

// Shutdown releases the manager's resources
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if err := sm.eventPublisher.Close(); err != nil {
		sm.logger.Error("Failed to close event publisher", "error", err)
	}

	sm.shutdown = true
	return nil
}
