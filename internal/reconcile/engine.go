package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"momopay-service/internal/hubtel"
	"momopay-service/internal/ledger"
	"momopay-service/internal/metrics"
	"momopay-service/internal/models"
	"momopay-service/internal/otp"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

var notFoundMarker = []byte(`{"status":"not_found"}`)

// Engine folds gateway events into local state. Each fold runs in one store
// transaction with the transaction row locked, so callback, poll and OTP paths
// for the same reference serialize without talking to each other.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	otp    *otp.Manager
	log    *logrus.Entry
}

func NewEngine(st store.Store, l *ledger.Ledger, m *otp.Manager, log *logrus.Entry) *Engine {
	return &Engine{store: st, ledger: l, otp: m, log: log}
}

// Fold applies ev. OTP business failures (expired, exhausted, rejected) are
// committed and then returned together with the result; every other error
// leaves the store untouched.
func (e *Engine) Fold(ctx context.Context, ev Event) (*FoldResult, error) {
	start := time.Now()
	var (
		res      *FoldResult
		deferred error
	)

	err := e.store.WithinTx(ctx, func(repo store.Repository) error {
		res, deferred = nil, nil
		txn, err := repo.LockTransaction(ctx, ev.Key())
		if err != nil {
			if _, isCallback := ev.(CallbackEvent); isCallback && common.KindOf(err) == common.KindNotFound {
				return common.NewError(common.KindUnknownReference, "no transaction for reference %q", ev.Key())
			}
			return err
		}
		res = &FoldResult{Transaction: txn, Previous: txn.Status}

		switch ev := ev.(type) {
		case InitiationResult:
			err = e.foldInitiation(ctx, repo, res, ev)
		case CallbackEvent:
			err = e.foldCallback(ctx, repo, res, ev)
		case PollResult:
			err = e.foldPoll(ctx, repo, res, ev)
		case OtpVerifyResult:
			err = e.foldOtp(ctx, repo, res, ev, &deferred)
		default:
			err = fmt.Errorf("unsupported event %T", ev)
		}
		if err != nil {
			return err
		}
		res.Current = txn.Status
		return nil
	})

	metrics.FoldLatency.WithLabelValues(ev.Kind()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FoldsTotal.WithLabelValues(ev.Kind(), string(common.KindOf(err))).Inc()
		e.logFailure(ev, err)
		return nil, err
	}
	result := "ok"
	if deferred != nil {
		result = string(common.KindOf(deferred))
	}
	metrics.FoldsTotal.WithLabelValues(ev.Kind(), result).Inc()

	e.log.WithFields(logrus.Fields{
		"event":     ev.Kind(),
		"reference": res.Transaction.Reference,
		"previous":  res.Previous,
		"current":   res.Current,
		"changed":   res.Changed,
	}).Debug("event folded")
	return res, deferred
}

func (e *Engine) logFailure(ev Event, err error) {
	entry := e.log.WithFields(logrus.Fields{"event": ev.Kind(), "reference": ev.Key()}).WithError(err)
	switch common.KindOf(err) {
	case common.KindIllegalTransition:
		// already logged at warning by the ledger
	case common.KindUnknownReference, common.KindNotFound, common.KindValidation:
		entry.Warn("event not folded")
	case common.KindConflict:
		entry.Info("event lost a concurrent update")
	default:
		entry.Error("event fold failed")
	}
}

func (e *Engine) apply(ctx context.Context, repo store.Repository, res *FoldResult, tr ledger.Transition) error {
	tr.Payload = jsonPayload(tr.Payload)
	changed, err := e.ledger.ApplyTransition(ctx, repo, res.Transaction, tr)
	if err != nil {
		return err
	}
	res.Changed = res.Changed || changed
	return nil
}

func (e *Engine) foldInitiation(ctx context.Context, repo store.Repository, res *FoldResult, ev InitiationResult) error {
	if !ev.Accepted {
		return e.apply(ctx, repo, res, ledger.Transition{
			Target:               models.StatusFailed,
			Source:               ledger.SourceInitiation,
			Payload:              ev.Raw,
			Reason:               models.FailureRejected,
			GatewayTransactionID: ev.GatewayTransactionID,
		})
	}

	if err := e.apply(ctx, repo, res, ledger.Transition{
		Target:               models.StatusProcessing,
		Source:               ledger.SourceInitiation,
		Payload:              ev.Raw,
		GatewayTransactionID: ev.GatewayTransactionID,
	}); err != nil {
		return err
	}
	if ev.Challenge == nil {
		return nil
	}

	existing, err := repo.LatestChallenge(ctx, res.Transaction.ID)
	switch {
	case err == nil:
		res.Challenge = existing
		return nil
	case common.KindOf(err) != common.KindNotFound:
		return err
	}

	ch, err := e.otp.Issue(ctx, repo, res.Transaction, ev.Challenge.Code, ev.Challenge.TTL)
	if err != nil {
		return err
	}
	res.Challenge = ch
	res.Changed = true
	return nil
}

func (e *Engine) foldCallback(ctx context.Context, repo store.Repository, res *FoldResult, ev CallbackEvent) error {
	tr := ledger.Transition{
		Source:               ledger.SourceCallback,
		Payload:              ev.Raw,
		GatewayTransactionID: ev.GatewayTransactionID,
	}
	switch hubtel.ClassifyCallback(ev.ResponseCode, ev.Status) {
	case hubtel.OutcomeSuccess:
		tr.Target = models.StatusCompleted
	case hubtel.OutcomePending:
		tr.Target = models.StatusProcessing
	default:
		tr.Target = models.StatusFailed
		tr.Reason = models.FailureCallbackFailed
	}
	return e.apply(ctx, repo, res, tr)
}

func (e *Engine) foldPoll(ctx context.Context, repo store.Repository, res *FoldResult, ev PollResult) error {
	if !ev.Found {
		return e.apply(ctx, repo, res, ledger.Transition{
			Target:  models.StatusFailed,
			Source:  ledger.SourcePoll,
			Payload: notFoundMarker,
			Reason:  models.FailureNotFound,
		})
	}

	tr := ledger.Transition{Source: ledger.SourcePoll, Payload: ev.Raw}
	switch hubtel.ClassifyPoll(ev.ResponseCode, ev.Status) {
	case hubtel.OutcomeSuccess:
		tr.Target = models.StatusCompleted
	case hubtel.OutcomePending:
		tr.Target = models.StatusProcessing
	default:
		tr.Target = models.StatusFailed
		tr.Reason = models.FailurePollFailed
	}
	return e.apply(ctx, repo, res, tr)
}

// foldOtp stores the OTP business error in deferred rather than returning it,
// so the attempt is committed before it is reported.
func (e *Engine) foldOtp(ctx context.Context, repo store.Repository, res *FoldResult, ev OtpVerifyResult, deferred *error) error {
	ch, err := repo.LockLatestChallenge(ctx, res.Transaction.ID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return common.NewError(common.KindNotFound, "transaction %s has no otp challenge", res.Transaction.Reference)
		}
		return err
	}

	before := *ch
	outcome, attemptErr := e.otp.AttemptVerify(ctx, repo, ch, ev.SuppliedCode, ev.RemoteVerified, jsonPayload(ev.Raw))
	if attemptErr != nil && !otpBusinessFailure(attemptErr) {
		return attemptErr
	}
	res.Challenge = ch
	res.Otp = &outcome
	res.Changed = ch.Version != before.Version

	txn := res.Transaction
	switch {
	case outcome.Verified:
		if err := e.apply(ctx, repo, res, ledger.Transition{
			Target: models.StatusCompleted,
			Source: ledger.SourceOTP,
		}); err != nil {
			return err
		}
	case ch.Status == models.OTPExpired && !txn.Status.Terminal():
		if err := e.apply(ctx, repo, res, ledger.Transition{
			Target: models.StatusFailed,
			Source: ledger.SourceOTP,
			Reason: models.FailureOtpExpired,
		}); err != nil {
			return err
		}
	case ch.Status == models.OTPFailed && !txn.Status.Terminal():
		if err := e.apply(ctx, repo, res, ledger.Transition{
			Target: models.StatusFailed,
			Source: ledger.SourceOTP,
			Reason: models.FailureOtpExhausted,
		}); err != nil {
			return err
		}
	}
	*deferred = attemptErr
	return nil
}

func otpBusinessFailure(err error) bool {
	switch common.KindOf(err) {
	case common.KindOtpExpired, common.KindAttemptsExhausted, common.KindOtpRejected:
		return true
	}
	return false
}

// jsonPayload keeps raw when it is valid JSON and wraps it otherwise, so the
// JSON columns never reject a gateway body.
func jsonPayload(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
	return wrapped
}

// IssueChallenge attaches a new OTP challenge to a transaction outside the
// initiation path. A pending transaction moves to processing; terminal ones
// are rejected.
func (e *Engine) IssueChallenge(ctx context.Context, reference, code string, ttl time.Duration) (*FoldResult, error) {
	var res *FoldResult
	err := e.store.WithinTx(ctx, func(repo store.Repository) error {
		txn, err := repo.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		res = &FoldResult{Transaction: txn, Previous: txn.Status}
		if txn.Status.Terminal() {
			return common.NewError(common.KindIllegalTransition,
				"cannot issue an otp challenge for %s transaction %s", txn.Status, txn.Reference)
		}
		if err := e.apply(ctx, repo, res, ledger.Transition{
			Target: models.StatusProcessing,
			Source: ledger.SourceOTP,
		}); err != nil {
			return err
		}
		ch, err := e.otp.Issue(ctx, repo, txn, code, ttl)
		if err != nil {
			return err
		}
		res.Challenge = ch
		res.Changed = true
		res.Current = txn.Status
		return nil
	})
	if err != nil {
		e.logFailure(otpIssue(reference), err)
		return nil, err
	}
	return res, nil
}

type otpIssue string

func (o otpIssue) Kind() string { return "otp_issue" }
func (o otpIssue) Key() string  { return string(o) }
