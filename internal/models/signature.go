package models

import (
	"time"
)

type SignerRole string

const (
	SignerStudent SignerRole = "student"
	SignerTutor   SignerRole = "tutor"
)

func (r SignerRole) Valid() bool {
	return r == SignerStudent || r == SignerTutor
}

// OTPChallenge is a single-use signing challenge bound to (contract, role).
// Only the hash of the code is stored; the plaintext leaves the service once,
// through the email-dispatch event. At most one active (unconsumed, unexpired)
// challenge may exist per (contract, role); issuing a new one supersedes it.
type OTPChallenge struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"` // uuid
	ContractID uint       `json:"contract_id" gorm:"not null;index:idx_challenge_contract_role"`
	SignerRole SignerRole `json:"signer_role" gorm:"not null;size:10;index:idx_challenge_contract_role"`

	CodeHash     string     `json:"-" gorm:"not null;size:64"`
	IssuedAt     time.Time  `json:"issued_at" gorm:"not null"`
	ExpiresAt    time.Time  `json:"expires_at" gorm:"not null;index"`
	ConsumedAt   *time.Time `json:"consumed_at"`
	SupersededAt *time.Time `json:"superseded_at"`
	AttemptCount int        `json:"attempt_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OTPChallenge) TableName() string {
	return "otp_challenges"
}

// Active reports whether the challenge can still be consumed at t.
func (c *OTPChallenge) Active(t time.Time) bool {
	return c.ConsumedAt == nil && c.SupersededAt == nil && !t.After(c.ExpiresAt)
}

// SignatureRecord is the immutable audit row created once per
// (contract, role). It is never updated or deleted.
type SignatureRecord struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	ContractID uint       `json:"contract_id" gorm:"not null;uniqueIndex:idx_signature_contract_role"`
	SignerID   string     `json:"signer_id" gorm:"not null;size:255"`
	SignerRole SignerRole `json:"signer_role" gorm:"not null;size:10;uniqueIndex:idx_signature_contract_role"`

	Email       string    `json:"email" gorm:"not null;size:255"`
	IPAddress   string    `json:"ip_address" gorm:"size:45"`
	ConsentText string    `json:"consent_text" gorm:"type:text;not null"`
	SignedAt    time.Time `json:"signed_at" gorm:"not null"`

	// Copy of the contract hash at the moment of signing, for tamper detection.
	ContractHashAtSigning string `json:"contract_hash_at_signing" gorm:"not null;size:64"`

	// True for the tutor auto-sign path (session-attested, no OTP).
	SystemAttested bool `json:"system_attested" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
}

func (SignatureRecord) TableName() string {
	return "signature_records"
}
