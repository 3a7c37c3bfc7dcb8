package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContractStatus string

const (
	ContractDraft           ContractStatus = "Draft"
	ContractPendingApproval ContractStatus = "PendingStudentApproval"
	ContractApproved        ContractStatus = "Approved"
	ContractRejected        ContractStatus = "Rejected"
	ContractExpired         ContractStatus = "Expired"
	ContractCancelled       ContractStatus = "Cancelled"
)

// IsTerminal reports whether no further status transition is allowed.
// Approved still accepts the administrative cancel override while unlocked.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractRejected, ContractExpired, ContractCancelled:
		return true
	}
	return false
}

type ResponseAction string

const (
	ActionApprove        ResponseAction = "APPROVE"
	ActionReject         ResponseAction = "REJECT"
	ActionRequestChanges ResponseAction = "REQUEST_CHANGES"
)

type Contract struct {
	ID uint `json:"id" gorm:"primaryKey"`

	// Parties (Casdoor user IDs)
	StudentID string `json:"student_id" gorm:"not null;index;size:255" validate:"required"`
	TutorID   string `json:"tutor_id" gorm:"not null;index;size:255" validate:"required"`

	// Terms snapshot, fixed at creation
	Subject         string         `json:"subject" gorm:"not null;size:200" validate:"required,min=1,max=200"`
	TotalSessions   int            `json:"total_sessions" gorm:"not null" validate:"required,min=1,max=500"`
	PricePerSession int64          `json:"price_per_session" gorm:"not null" validate:"min=0"`
	Schedule        datatypes.JSON `json:"schedule" gorm:"type:jsonb"`
	IsOnline        bool           `json:"is_online" gorm:"not null;default:false"`
	Location        *string        `json:"location" gorm:"size:500" validate:"omitempty,max=500"`
	MeetingURL      *string        `json:"meeting_url" gorm:"size:500" validate:"omitempty,max=500"`

	Status    ContractStatus `json:"status" gorm:"default:Draft;index"`
	ExpiresAt *time.Time     `json:"expires_at" gorm:"index"` // approval deadline

	// Content integrity, stamped exactly once at creation
	ContractHash    string `json:"contract_hash" gorm:"not null;size:64"`
	OriginalContent string `json:"original_content" gorm:"type:text;not null"`

	// Signing state
	IsSigned        bool       `json:"is_signed" gorm:"not null;default:false"`
	IsLocked        bool       `json:"is_locked" gorm:"not null;default:false;index"`
	LockedAt        *time.Time `json:"locked_at"`
	StudentSignedAt *time.Time `json:"student_signed_at"`
	TutorSignedAt   *time.Time `json:"tutor_signed_at"`

	// Student response (latest)
	ResponseAction   *ResponseAction `json:"response_action" gorm:"size:20"`
	ResponseMessage  *string         `json:"response_message" gorm:"type:text"`
	RespondedAt      *time.Time      `json:"responded_at"`
	RequestedChanges *string         `json:"requested_changes" gorm:"type:text"`

	CancelReason *string `json:"cancel_reason" gorm:"size:500"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Signatures []SignatureRecord `json:"signatures,omitempty" gorm:"foreignKey:ContractID"`
}

func (Contract) TableName() string {
	return "contracts"
}

// SignedAtForRole returns the signing timestamp recorded on the contract
// for the given role, or nil when that party has not signed.
func (c *Contract) SignedAtForRole(role SignerRole) *time.Time {
	if role == SignerStudent {
		return c.StudentSignedAt
	}
	return c.TutorSignedAt
}

// FullySigned reports whether both parties have signed.
func (c *Contract) FullySigned() bool {
	return c.StudentSignedAt != nil && c.TutorSignedAt != nil
}

// PartyID returns the user ID of the party holding the given role.
func (c *Contract) PartyID(role SignerRole) string {
	if role == SignerStudent {
		return c.StudentID
	}
	return c.TutorID
}
