package hubtel

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Hubtel response codes.
const (
	CodeSuccess = "0000"
	CodePending = "0001"
)

type InitiateRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Reference     string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Network       string
}

// ChallengeData is present when the gateway asks the payer for an OTP.
type ChallengeData struct {
	Code string
	TTL  time.Duration
}

type InitiateResult struct {
	Accepted             bool
	GatewayTransactionID string
	ResponseCode         string
	Message              string
	CheckoutURL          string
	Challenge            *ChallengeData
	Raw                  []byte
}

// StatusResult is a status poll answer. Found=false is a valid outcome, not
// an error.
type StatusResult struct {
	Found        bool
	Status       string
	ResponseCode string
	Raw          []byte
}

type VerifyResult struct {
	Verified bool
	Raw      []byte
}

// envelope covers initiation, status and verify responses as well as
// callbacks. encoding/json matches keys case-insensitively, so both the
// PascalCase webhook body and the camelCase API bodies decode into it.
type envelope struct {
	ResponseCode    string       `json:"ResponseCode"`
	Status          string       `json:"Status"`
	Message         string       `json:"Message"`
	ClientReference string       `json:"ClientReference"`
	Data            envelopeData `json:"Data"`
}

type envelopeData struct {
	TransactionID     string   `json:"TransactionId"`
	CheckoutID        string   `json:"CheckoutId"`
	ClientReference   string   `json:"ClientReference"`
	Status            string   `json:"Status"`
	CheckoutDirectURL string   `json:"CheckoutDirectUrl"`
	OtpData           *otpData `json:"OtpData"`
}

type otpData struct {
	OtpCode   string `json:"OtpCode"`
	ExpiresIn int    `json:"ExpiresIn"`
}

func (e envelope) reference() string {
	if e.Data.ClientReference != "" {
		return e.Data.ClientReference
	}
	return e.ClientReference
}

func (e envelope) gatewayTransactionID() string {
	if e.Data.TransactionID != "" {
		return e.Data.TransactionID
	}
	return e.Data.CheckoutID
}

func (e envelope) hasVerdict() bool {
	return strings.TrimSpace(e.ResponseCode) != "" ||
		strings.TrimSpace(e.Status) != "" ||
		strings.TrimSpace(e.Data.Status) != ""
}
