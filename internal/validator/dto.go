package validator

import "time"

// ContractCreateRequest is the tutor-submitted payload for a new contract.
type ContractCreateRequest struct {
	StudentID       string                 `json:"student_id" validate:"required"`
	Subject         string                 `json:"subject" validate:"required,min=2,max=255"`
	TotalSessions   int                    `json:"total_sessions" validate:"required,min=1,max=500"`
	PricePerSession int64                  `json:"price_per_session" validate:"min=0"`
	Schedule        map[string]interface{} `json:"schedule" validate:"required"`
	IsOnline        bool                   `json:"is_online"`
	Location        *string                `json:"location,omitempty" validate:"omitempty,max=500"`
	MeetingURL      *string                `json:"meeting_url,omitempty" validate:"omitempty,url"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
}

// ContractRespondRequest carries the student's decision on a pending contract.
type ContractRespondRequest struct {
	Action           string  `json:"action" validate:"required,oneof=APPROVE REJECT REQUEST_CHANGES"`
	Message          *string `json:"message,omitempty" validate:"omitempty,max=2000"`
	RequestedChanges *string `json:"requested_changes,omitempty" validate:"omitempty,max=2000"`
}

// ContractCancelRequest requires a reason so the audit trail stays meaningful.
type ContractCancelRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=2000"`
}

type InitiateSigningRequest struct {
	Role string `json:"role" validate:"required,oneof=student tutor"`
}

type ResendOTPRequest struct {
	Role string `json:"role" validate:"required,oneof=student tutor"`
}

type VerifySignatureRequest struct {
	Role        string `json:"role" validate:"required,oneof=student tutor"`
	Code        string `json:"code" validate:"required,otp_code"`
	ConsentText string `json:"consent_text" validate:"required,consent_text"`
}

// ApproveAndSignRequest combines approval with the student's signature in one step.
type ApproveAndSignRequest struct {
	Code        string  `json:"code" validate:"required,otp_code"`
	ConsentText string  `json:"consent_text" validate:"required,consent_text"`
	Message     *string `json:"message,omitempty" validate:"omitempty,max=2000"`
}

// ContractListFilters carries the query-string filters for contract listing.
type ContractListFilters struct {
	Status    string `form:"status" validate:"omitempty,oneof=Draft PendingStudentApproval Approved Rejected Expired Cancelled"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
	SortBy    string `form:"sort_by" validate:"omitempty,oneof=created_at expires_at status"`
	SortOrder string `form:"sort_order" validate:"omitempty,oneof=asc desc"`
}
