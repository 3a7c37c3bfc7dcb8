package events

import "time"

// Topic names for the signing event streams.
const (
	TopicOTPIssued     = "contract.signing.otp-issued"
	TopicFullySigned   = "contract.fully-signed"
	TopicStatusChanged = "contract.status-changed"
)

// OTPIssuedEvent is consumed by the email dispatcher. It is the only place
// the plaintext code leaves the service; storage keeps the hash only.
type OTPIssuedEvent struct {
	ChallengeID string    `json:"challenge_id"`
	ContractID  uint      `json:"contract_id"`
	SignerRole  string    `json:"signer_role"`
	SignerID    string    `json:"signer_id"`
	Email       string    `json:"email"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
	Resend      bool      `json:"resend"`
}

// ContractFullySignedEvent triggers class provisioning downstream. Published
// exactly once per contract, guarded by the one-shot lock.
type ContractFullySignedEvent struct {
	ContractID   uint      `json:"contract_id"`
	StudentID    string    `json:"student_id"`
	TutorID      string    `json:"tutor_id"`
	Subject      string    `json:"subject"`
	ContractHash string    `json:"contract_hash"`
	LockedAt     time.Time `json:"locked_at"`
}

// ContractStatusChangedEvent feeds the audit stream on every transition.
type ContractStatusChangedEvent struct {
	ContractID uint      `json:"contract_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}
