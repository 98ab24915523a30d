package reconcile

import (
	"momopay-service/internal/hubtel"
	"momopay-service/internal/models"
	"momopay-service/internal/otp"
)

// Event is one of InitiationResult, CallbackEvent, PollResult or
// OtpVerifyResult. Every event names the transaction it concerns.
type Event interface {
	Kind() string
	Key() string
}

// InitiationResult is the synchronous answer to an initiate call.
type InitiationResult struct {
	Reference            string
	Accepted             bool
	GatewayTransactionID string
	Challenge            *hubtel.ChallengeData
	Raw                  []byte
}

// CallbackEvent is a webhook delivery. It may repeat or arrive in any order.
type CallbackEvent struct {
	Reference            string
	ResponseCode         string
	Status               string
	GatewayTransactionID string
	Raw                  []byte
}

// PollResult is the answer of a status poll. Found=false means the gateway
// has no record of the reference.
type PollResult struct {
	Reference    string
	Found        bool
	Status       string
	ResponseCode string
	Raw          []byte
}

// OtpVerifyResult carries the gateway's verdict on a supplied code.
type OtpVerifyResult struct {
	Reference      string
	SuppliedCode   string
	RemoteVerified bool
	Raw            []byte
}

func (e InitiationResult) Kind() string { return "initiation" }
func (e InitiationResult) Key() string  { return e.Reference }
func (e CallbackEvent) Kind() string    { return "callback" }
func (e CallbackEvent) Key() string     { return e.Reference }
func (e PollResult) Kind() string       { return "poll" }
func (e PollResult) Key() string        { return e.Reference }
func (e OtpVerifyResult) Kind() string  { return "otp" }
func (e OtpVerifyResult) Key() string   { return e.Reference }

// CallbackFrom adapts a parsed webhook body.
func CallbackFrom(cb *hubtel.Callback) CallbackEvent {
	return CallbackEvent{
		Reference:            cb.Reference,
		ResponseCode:         cb.ResponseCode,
		Status:               cb.Status,
		GatewayTransactionID: cb.GatewayTransactionID,
		Raw:                  cb.Raw,
	}
}

// FoldResult describes what one fold did.
type FoldResult struct {
	Transaction *models.PaymentTransaction
	Previous    models.TransactionStatus
	Current     models.TransactionStatus
	Changed     bool
	Challenge   *models.OTPVerification
	Otp         *otp.Outcome
}

// Settled reports whether this fold moved the transaction into a terminal
// status.
func (r *FoldResult) Settled() bool {
	return r.Previous != r.Current && r.Current.Terminal()
}
