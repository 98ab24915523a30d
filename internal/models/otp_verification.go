package models

import (
	"time"

	"gorm.io/datatypes"
)

type OTPStatus string

const (
	OTPPending  OTPStatus = "pending"
	OTPVerified OTPStatus = "verified"
	OTPExpired  OTPStatus = "expired"
	OTPFailed   OTPStatus = "failed"
)

const DefaultMaxAttempts = 3

// OTPVerification is one OTP challenge issued for a payment. The code is
// sensitive and never leaves the process in JSON.
type OTPVerification struct {
	ID                   uint64         `gorm:"primaryKey;autoIncrement" json:"-"`
	OtpID                string         `gorm:"column:otp_id;size:36;not null;uniqueIndex" json:"otp_id"`
	PaymentTransactionID uint64         `gorm:"column:transaction_id;not null;index" json:"-"`
	OtpCode              string         `gorm:"column:otp_code;size:10" json:"-"`
	Status               OTPStatus      `gorm:"column:status;size:20;not null;default:pending" json:"status"`
	Attempts             int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts          int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	CreatedAt            time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	ExpiresAt            time.Time      `gorm:"column:expires_at;not null" json:"expires_at"`
	VerifiedAt           *time.Time     `gorm:"column:verified_at" json:"verified_at"`
	GatewayResponse      datatypes.JSON `gorm:"column:gateway_response" json:"gateway_response,omitempty"`
	Version              int64          `gorm:"column:version;not null;default:1" json:"-"`
}

func (OTPVerification) TableName() string {
	return "otp_verifications"
}

// AttemptsRemaining never goes below zero.
func (o OTPVerification) AttemptsRemaining() int {
	if r := o.MaxAttempts - o.Attempts; r > 0 {
		return r
	}
	return 0
}

// Expired reports whether now is past the expiry instant.
func (o OTPVerification) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
