package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"momopay-service/internal/metrics"
	"momopay-service/internal/models"
	"momopay-service/internal/reference"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

// CreateSpec is the caller input for a new payment. An empty Reference is
// minted from ReferencePrefix.
type CreateSpec struct {
	Reference       string          `json:"reference" validate:"omitempty,max=100"`
	ReferencePrefix string          `json:"reference_prefix" validate:"omitempty,max=10,alphanum"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=mobile_money card bank"`
	PhoneNumber     string          `json:"phone_number" validate:"omitempty,max=20"`
	CustomerEmail   string          `json:"customer_email" validate:"omitempty,email,max=254"`
	CustomerName    string          `json:"customer_name" validate:"required,max=100"`
	Description     string          `json:"description"`
	Network         string          `json:"network" validate:"omitempty,oneof=MTN Vodafone AirtelTigo"`
}

// Transition is one requested status move with the raw payload observed.
type Transition struct {
	Target               models.TransactionStatus
	Source               Source
	Payload              []byte
	Reason               models.FailureReason
	GatewayTransactionID string
}

// maxAmount is the first value that no longer fits DECIMAL(12,2).
var maxAmount = decimal.New(1, 10)

type Ledger struct {
	store    store.Store
	validate *validator.Validate
	log      *logrus.Entry
	now      func() time.Time
}

func New(st store.Store, log *logrus.Entry) *Ledger {
	return &Ledger{
		store:    st,
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates spec and inserts a pending transaction.
func (l *Ledger) Create(ctx context.Context, spec CreateSpec) (*models.PaymentTransaction, error) {
	spec.Currency = strings.ToUpper(strings.TrimSpace(spec.Currency))
	spec.CustomerName = strings.TrimSpace(spec.CustomerName)
	spec.Reference = strings.TrimSpace(spec.Reference)

	if err := l.validateSpec(spec); err != nil {
		return nil, err
	}

	ref := spec.Reference
	if ref == "" {
		ref = reference.Generate(spec.ReferencePrefix)
	}

	txn := &models.PaymentTransaction{
		TransactionID: uuid.NewString(),
		Reference:     ref,
		Amount:        spec.Amount.Round(2),
		Currency:      spec.Currency,
		PaymentMethod: spec.PaymentMethod,
		PhoneNumber:   spec.PhoneNumber,
		CustomerEmail: spec.CustomerEmail,
		CustomerName:  spec.CustomerName,
		Description:   spec.Description,
		Network:       spec.Network,
		Status:        models.StatusPending,
		Version:       1,
	}

	if err := l.store.CreateTransaction(ctx, txn); err != nil {
		if common.KindOf(err) == common.KindConflict {
			return nil, common.WrapError(common.KindConflict, err, "reference "+ref+" is already in use")
		}
		return nil, err
	}

	metrics.TransactionsCreated.WithLabelValues(txn.PaymentMethod).Inc()
	l.log.WithFields(logrus.Fields{
		"reference":      txn.Reference,
		"transaction_id": txn.TransactionID,
		"amount":         txn.Amount.StringFixed(2),
		"currency":       txn.Currency,
	}).Info("transaction created")
	return txn, nil
}

func (l *Ledger) validateSpec(spec CreateSpec) error {
	if !spec.Amount.IsPositive() {
		return common.NewError(common.KindValidation, "amount must be greater than zero")
	}
	if !spec.Amount.Equal(spec.Amount.Round(2)) {
		return common.NewError(common.KindValidation, "amount must have at most two decimal places")
	}
	if spec.Amount.GreaterThanOrEqual(maxAmount) {
		return common.NewError(common.KindValidation, "amount exceeds %s", maxAmount.StringFixed(2))
	}
	if err := l.validate.Struct(spec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fe.Field()+" failed "+fe.Tag())
			}
			return common.NewError(common.KindValidation, "invalid transaction: %s", strings.Join(parts, ", "))
		}
		return common.WrapError(common.KindValidation, err, "invalid transaction")
	}
	return nil
}

// Get resolves a reference or transaction_id.
func (l *Ledger) Get(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	if strings.TrimSpace(key) == "" {
		return nil, common.NewError(common.KindValidation, "reference or transaction_id is required")
	}
	return l.store.GetTransaction(ctx, key)
}

// ApplyTransition moves txn to tr.Target through repo, which should be the
// repository of the caller's open store transaction. Illegal moves persist
// nothing. It reports whether anything was written.
func (l *Ledger) ApplyTransition(ctx context.Context, repo store.Repository, txn *models.PaymentTransaction, tr Transition) (bool, error) {
	from := txn.Status
	if !Allowed(from, tr.Target) {
		metrics.IllegalTransitions.WithLabelValues(string(tr.Source)).Inc()
		l.log.WithFields(logrus.Fields{
			"reference": txn.Reference,
			"from":      from,
			"to":        tr.Target,
			"source":    tr.Source,
		}).Warn("illegal transition rejected")
		return false, common.NewError(common.KindIllegalTransition,
			"cannot move transaction %s from %s to %s", txn.Reference, from, tr.Target)
	}

	next := *txn
	next.Status = tr.Target

	if len(tr.Payload) > 0 {
		switch tr.Source {
		case SourceCallback:
			next.CallbackData = datatypes.JSON(tr.Payload)
		case SourceInitiation, SourcePoll:
			next.GatewayResponse = datatypes.JSON(tr.Payload)
		}
	}
	if tr.GatewayTransactionID != "" && (next.GatewayTransactionID == nil || *next.GatewayTransactionID == "") {
		id := tr.GatewayTransactionID
		next.GatewayTransactionID = &id
	}
	if tr.Target == models.StatusCompleted && from != models.StatusCompleted {
		now := l.now()
		next.CompletedAt = &now
	}
	if tr.Target == models.StatusFailed && from != models.StatusFailed {
		next.FailureReason = tr.Reason
	}

	if !changed(txn, &next) {
		return false, nil
	}
	if err := repo.UpdateTransaction(ctx, &next); err != nil {
		return false, err
	}

	if from != next.Status {
		metrics.Transitions.WithLabelValues(string(from), string(next.Status), string(tr.Source)).Inc()
		l.log.WithFields(logrus.Fields{
			"reference": txn.Reference,
			"from":      from,
			"to":        next.Status,
			"source":    tr.Source,
			"reason":    next.FailureReason,
		}).Info("transaction status changed")
	}
	*txn = next
	return true, nil
}

func changed(before, after *models.PaymentTransaction) bool {
	if before.Status != after.Status || before.FailureReason != after.FailureReason {
		return true
	}
	if !bytes.Equal(before.GatewayResponse, after.GatewayResponse) || !bytes.Equal(before.CallbackData, after.CallbackData) {
		return true
	}
	if (before.CompletedAt == nil) != (after.CompletedAt == nil) {
		return true
	}
	return (before.GatewayTransactionID == nil) != (after.GatewayTransactionID == nil)
}
