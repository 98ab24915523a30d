package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether no further automatic transition may leave s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FailureReason distinguishes why a transaction ended in failed. The status
// enum itself stays unchanged.
type FailureReason string

const (
	FailureNone           FailureReason = ""
	FailureRejected       FailureReason = "rejected"
	FailureNotFound       FailureReason = "not_found"
	FailureCallbackFailed FailureReason = "callback_failed"
	FailurePollFailed     FailureReason = "poll_failed"
	FailureOtpExpired     FailureReason = "otp_expired"
	FailureOtpExhausted   FailureReason = "otp_exhausted"
)

const (
	MethodMobileMoney = "mobile_money"
	MethodCard        = "card"
	MethodBank        = "bank"
)

const (
	NetworkMTN        = "MTN"
	NetworkVodafone   = "Vodafone"
	NetworkAirtelTigo = "AirtelTigo"
)

type PaymentTransaction struct {
	ID                   uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID        string            `gorm:"column:transaction_id;size:36;not null;uniqueIndex" json:"transaction_id"`
	Reference            string            `gorm:"column:reference;size:100;not null;uniqueIndex" json:"reference"`
	Amount               decimal.Decimal   `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`
	Currency             string            `gorm:"column:currency;size:3;not null;default:GHS" json:"currency"`
	PaymentMethod        string            `gorm:"column:payment_method;size:20;not null" json:"payment_method"`
	PhoneNumber          string            `gorm:"column:phone_number;size:20" json:"phone_number"`
	CustomerEmail        string            `gorm:"column:customer_email;size:254" json:"customer_email,omitempty"`
	CustomerName         string            `gorm:"column:customer_name;size:100;not null" json:"customer_name"`
	Description          string            `gorm:"column:description;type:text" json:"description"`
	Network              string            `gorm:"column:network;size:20" json:"network"`
	Status               TransactionStatus `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	FailureReason        FailureReason     `gorm:"column:failure_reason;size:32" json:"failure_reason,omitempty"`
	GatewayTransactionID *string           `gorm:"column:gateway_transaction_id;size:100;index" json:"gateway_transaction_id"`
	GatewayResponse      datatypes.JSON    `gorm:"column:gateway_response" json:"gateway_response,omitempty"`
	CallbackData         datatypes.JSON    `gorm:"column:callback_data" json:"callback_data,omitempty"`
	Version              int64             `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	CompletedAt          *time.Time        `gorm:"column:completed_at" json:"completed_at"`

	Challenges []OTPVerification `gorm:"foreignKey:PaymentTransactionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

type transactionFields PaymentTransaction

type transactionJSON struct {
	transactionFields
	Amount string `json:"amount"`
}

// MarshalJSON writes amount at the column's scale; decimal.Decimal on its own
// drops trailing zeros.
func (t PaymentTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		transactionFields: transactionFields(t),
		Amount:            t.Amount.StringFixed(2),
	})
}
