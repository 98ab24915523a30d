package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"momopay-service/internal/hubtel"
	"momopay-service/internal/ledger"
	"momopay-service/internal/models"
	"momopay-service/internal/otp"
	"momopay-service/internal/reconcile"
	"momopay-service/internal/reference"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

const (
	DefaultCurrency      = "GHS"
	DefaultPaymentMethod = models.MethodMobileMoney
)

// Gateway is the subset of the Hubtel client the payment flow needs.
type Gateway interface {
	Initiate(ctx context.Context, req hubtel.InitiateRequest) (*hubtel.InitiateResult, error)
	CheckStatus(ctx context.Context, reference string) (*hubtel.StatusResult, error)
	VerifyOtp(ctx context.Context, gatewayTransactionID, code string) (*hubtel.VerifyResult, error)
}

// InitiationReport is an initiation outcome supplied by a caller that talked
// to the gateway itself.
type InitiationReport struct {
	Accepted             bool            `json:"accepted"`
	GatewayTransactionID string          `json:"gateway_transaction_id"`
	OtpCode              string          `json:"otp_code"`
	OtpTTLSeconds        int             `json:"otp_ttl_seconds"`
	Raw                  json.RawMessage `json:"raw"`
}

// PaymentResult is returned by InitiatePayment.
type PaymentResult struct {
	Transaction *models.PaymentTransaction `json:"transaction"`
	Accepted    bool                       `json:"accepted"`
	OtpRequired bool                       `json:"otp_required"`
	CheckoutURL string                     `json:"checkout_url,omitempty"`
	Message     string                     `json:"message,omitempty"`
	Challenge   *models.OTPVerification    `json:"challenge,omitempty"`
}

// FoldView is the API shape of one reconciled event.
type FoldView struct {
	Reference         string                     `json:"reference"`
	PreviousStatus    models.TransactionStatus   `json:"previous_status"`
	Status            models.TransactionStatus   `json:"status"`
	Changed           bool                       `json:"changed"`
	Transaction       *models.PaymentTransaction `json:"transaction"`
	Challenge         *models.OTPVerification    `json:"challenge,omitempty"`
	AttemptsRemaining *int                       `json:"attempts_remaining,omitempty"`
}

// TransactionView is a transaction with its OTP challenges, oldest first.
type TransactionView struct {
	*models.PaymentTransaction
	Challenges []models.OTPVerification `json:"challenges"`
}

// MarshalJSON flattens the transaction fields next to the challenges. Without
// it the transaction's own MarshalJSON would be promoted and drop them.
func (v TransactionView) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if v.PaymentTransaction != nil {
		body, err := json.Marshal(v.PaymentTransaction)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	challenges, err := json.Marshal(v.Challenges)
	if err != nil {
		return nil, err
	}
	fields["challenges"] = challenges
	return json.Marshal(fields)
}

type PaymentService struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Engine   *reconcile.Engine
	OTP      *otp.Manager
	Gateway  Gateway
	Notifier *NotificationService
	log      *logrus.Entry
}

func NewPaymentService(st store.Store, l *ledger.Ledger, engine *reconcile.Engine, m *otp.Manager, gw Gateway, notifier *NotificationService, log *logrus.Entry) *PaymentService {
	return &PaymentService{
		Store:    st,
		Ledger:   l,
		Engine:   engine,
		OTP:      m,
		Gateway:  gw,
		Notifier: notifier,
		log:      log,
	}
}

func (s *PaymentService) CreateTransaction(ctx context.Context, spec ledger.CreateSpec) (*models.PaymentTransaction, error) {
	withDefaults(&spec)
	return s.Ledger.Create(ctx, spec)
}

// InitiatePayment creates a transaction and starts the gateway checkout. When
// the gateway cannot be reached the transaction is returned still pending
// together with a gateway transport error; the sweep or a later poll
// resolves it.
func (s *PaymentService) InitiatePayment(ctx context.Context, spec ledger.CreateSpec) (*PaymentResult, error) {
	withDefaults(&spec)
	txn, err := s.Ledger.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	description := txn.Description
	if description == "" {
		description = "Payment " + txn.Reference
	}
	gw, err := s.Gateway.Initiate(ctx, hubtel.InitiateRequest{
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Reference:     txn.Reference,
		Description:   description,
		CustomerName:  txn.CustomerName,
		CustomerEmail: txn.CustomerEmail,
		CustomerPhone: txn.PhoneNumber,
		Network:       txn.Network,
	})
	if err != nil {
		s.log.WithField("reference", txn.Reference).WithError(err).Warn("initiation outcome unknown, transaction left pending")
		return &PaymentResult{Transaction: txn}, err
	}

	res, err := s.Engine.Fold(ctx, reconcile.InitiationResult{
		Reference:            txn.Reference,
		Accepted:             gw.Accepted,
		GatewayTransactionID: gw.GatewayTransactionID,
		Challenge:            gw.Challenge,
		Raw:                  gw.Raw,
	})
	if err != nil {
		return &PaymentResult{Transaction: txn}, err
	}
	s.afterFold(ctx, res)

	return &PaymentResult{
		Transaction: res.Transaction,
		Accepted:    gw.Accepted,
		OtpRequired: res.Challenge != nil,
		CheckoutURL: gw.CheckoutURL,
		Message:     gw.Message,
		Challenge:   res.Challenge,
	}, nil
}

func (s *PaymentService) RecordInitiationResult(ctx context.Context, key string, report InitiationReport) (*FoldView, error) {
	if strings.TrimSpace(key) == "" {
		return nil, common.NewError(common.KindValidation, "reference is required")
	}
	ev := reconcile.InitiationResult{
		Reference:            key,
		Accepted:             report.Accepted,
		GatewayTransactionID: report.GatewayTransactionID,
		Raw:                  report.Raw,
	}
	if report.OtpCode != "" {
		ev.Challenge = &hubtel.ChallengeData{
			Code: report.OtpCode,
			TTL:  time.Duration(report.OtpTTLSeconds) * time.Second,
		}
	}
	return s.fold(ctx, ev)
}

// HandleCallback folds one raw webhook body.
func (s *PaymentService) HandleCallback(ctx context.Context, body []byte) (*FoldView, error) {
	cb, err := hubtel.ParseCallback(body)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"reference":     cb.Reference,
		"response_code": cb.ResponseCode,
		"outcome":       cb.Outcome().String(),
	}).Info("callback received")
	return s.fold(ctx, reconcile.CallbackFrom(cb))
}

// PollStatus asks the gateway for the current status and folds the answer.
func (s *PaymentService) PollStatus(ctx context.Context, key string) (*FoldView, error) {
	txn, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	st, err := s.Gateway.CheckStatus(ctx, txn.Reference)
	if err != nil {
		return nil, err
	}
	return s.fold(ctx, reconcile.PollResult{
		Reference:    txn.Reference,
		Found:        st.Found,
		Status:       st.Status,
		ResponseCode: st.ResponseCode,
		Raw:          st.Raw,
	})
}

func (s *PaymentService) IssueOtpChallenge(ctx context.Context, key, code string, ttl time.Duration) (*FoldView, error) {
	if strings.TrimSpace(key) == "" {
		return nil, common.NewError(common.KindValidation, "reference is required")
	}
	res, err := s.Engine.IssueChallenge(ctx, key, code, ttl)
	if err != nil {
		return nil, err
	}
	return viewOf(res), nil
}

// VerifyOtp checks the challenge locally first. Expired or exhausted
// challenges are folded without asking the gateway; otherwise the gateway's
// verdict is folded. OTP rejections come back with the view so callers can
// show the remaining attempts.
func (s *PaymentService) VerifyOtp(ctx context.Context, key, code string) (*FoldView, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, common.NewError(common.KindValidation, "otp code is required")
	}
	txn, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ch, err := s.Store.LatestChallenge(ctx, txn.ID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, common.NewError(common.KindNotFound, "transaction %s has no otp challenge", txn.Reference)
		}
		return nil, err
	}

	ev := reconcile.OtpVerifyResult{Reference: txn.Reference, SuppliedCode: code}
	if s.OTP.Check(ch) == nil && ch.Status != models.OTPVerified {
		gatewayID := txn.Reference
		if txn.GatewayTransactionID != nil {
			gatewayID = *txn.GatewayTransactionID
		}
		verdict, err := s.Gateway.VerifyOtp(ctx, gatewayID, code)
		if err != nil {
			return nil, err
		}
		ev.RemoteVerified = verdict.Verified
		ev.Raw = verdict.Raw
	}
	return s.fold(ctx, ev)
}

// GetTransaction returns the stored transaction and its challenges. With
// refresh set, a non-terminal transaction is polled first; a failed poll is
// logged and the stored state returned.
func (s *PaymentService) GetTransaction(ctx context.Context, key string, refresh bool) (*TransactionView, error) {
	txn, err := s.Ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if refresh && !txn.Status.Terminal() {
		if _, err := s.PollStatus(ctx, txn.Reference); err != nil {
			s.log.WithField("reference", txn.Reference).WithError(err).Warn("refresh poll failed")
		}
		if txn, err = s.Ledger.Get(ctx, txn.Reference); err != nil {
			return nil, err
		}
	}
	challenges, err := s.Store.ListChallenges(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	return &TransactionView{PaymentTransaction: txn, Challenges: challenges}, nil
}

func (s *PaymentService) GenerateReference(prefix string) (string, error) {
	if !reference.ValidPrefix(prefix) {
		return "", common.NewError(common.KindValidation, "prefix must be 1-10 letters or digits")
	}
	return reference.Generate(prefix), nil
}

func (s *PaymentService) SendSMS(ctx context.Context, phone, message string) (bool, error) {
	return s.Notifier.Send(ctx, phone, message)
}

// fold runs ev through the engine. A result that comes with an OTP business
// error is still returned so the caller can report the new state.
func (s *PaymentService) fold(ctx context.Context, ev reconcile.Event) (*FoldView, error) {
	res, err := s.Engine.Fold(ctx, ev)
	if res == nil {
		return nil, err
	}
	s.afterFold(ctx, res)
	return viewOf(res), err
}

func (s *PaymentService) afterFold(ctx context.Context, res *reconcile.FoldResult) {
	if res.Settled() && s.Notifier != nil {
		s.Notifier.TransactionSettled(ctx, res.Transaction)
	}
}

func viewOf(res *reconcile.FoldResult) *FoldView {
	v := &FoldView{
		Reference:      res.Transaction.Reference,
		PreviousStatus: res.Previous,
		Status:         res.Current,
		Changed:        res.Changed,
		Transaction:    res.Transaction,
		Challenge:      res.Challenge,
	}
	if res.Otp != nil {
		remaining := res.Otp.AttemptsRemaining
		v.AttemptsRemaining = &remaining
	}
	return v
}

func withDefaults(spec *ledger.CreateSpec) {
	if strings.TrimSpace(spec.Currency) == "" {
		spec.Currency = DefaultCurrency
	}
	if strings.TrimSpace(spec.PaymentMethod) == "" {
		spec.PaymentMethod = DefaultPaymentMethod
	}
}
