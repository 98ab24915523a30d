package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momopay-service/internal/config"
	"momopay-service/internal/hubtel"
	"momopay-service/internal/ledger"
	"momopay-service/internal/logging"
	"momopay-service/internal/models"
	"momopay-service/internal/otp"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

const (
	successCallback = `{"ResponseCode":"0000","Status":"Success","Data":{"ClientReference":"PAY-AAA11111","TransactionId":"hub-1"}}`
	failedCallback  = `{"ResponseCode":"2001","Status":"Failed","Data":{"ClientReference":"PAY-AAA11111"}}`
)

type harness struct {
	st     *store.MemoryStore
	ledger *ledger.Ledger
	engine *Engine
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:  store.NewMemoryStore(),
		now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	log := logging.Discard()
	h.ledger = ledger.New(h.st, log)
	m := otp.NewManager(config.OTPConfig{TTL: 10 * time.Minute, MaxAttempts: 3}, log).
		WithClock(func() time.Time { return h.now })
	h.engine = NewEngine(h.st, h.ledger, m, log)
	return h
}

func (h *harness) create(t *testing.T) *models.PaymentTransaction {
	t.Helper()
	txn, err := h.ledger.Create(context.Background(), ledger.CreateSpec{
		Reference:     "PAY-AAA11111",
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "GHS",
		PaymentMethod: models.MethodMobileMoney,
		PhoneNumber:   "233241234567",
		CustomerName:  "Yaw Asante",
		Network:       models.NetworkMTN,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, txn.Status)
	return txn
}

func (h *harness) fold(t *testing.T, ev Event) (*FoldResult, error) {
	t.Helper()
	return h.engine.Fold(context.Background(), ev)
}

func (h *harness) get(t *testing.T) *models.PaymentTransaction {
	t.Helper()
	txn, err := h.st.GetTransaction(context.Background(), "PAY-AAA11111")
	require.NoError(t, err)
	return txn
}

func acceptedWithChallenge() InitiationResult {
	return InitiationResult{
		Reference:            "PAY-AAA11111",
		Accepted:             true,
		GatewayTransactionID: "hub-1",
		Challenge:            &hubtel.ChallengeData{Code: "482913"},
		Raw:                  []byte(`{"responseCode":"0001","data":{"transactionId":"hub-1","otpData":{"otpCode":"482913"}}}`),
	}
}

func callback(body string) CallbackEvent {
	cb, err := hubtel.ParseCallback([]byte(body))
	if err != nil {
		panic(err)
	}
	return CallbackFrom(cb)
}

func TestScenarioInitiateThenOtpSettles(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	res, err := h.fold(t, acceptedWithChallenge())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Previous)
	assert.Equal(t, models.StatusProcessing, res.Current)
	require.NotNil(t, res.Challenge)
	assert.Equal(t, models.OTPPending, res.Challenge.Status)

	chs, err := h.st.ListChallenges(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, chs, 1)

	res, err = h.fold(t, OtpVerifyResult{Reference: "PAY-AAA11111", SuppliedCode: "482913", RemoteVerified: true})
	require.NoError(t, err)
	assert.Equal(t, models.OTPVerified, res.Challenge.Status)
	assert.Equal(t, models.StatusCompleted, res.Current)
	assert.True(t, res.Settled())

	txn := h.get(t)
	assert.Equal(t, models.StatusCompleted, txn.Status)
	require.NotNil(t, txn.CompletedAt)
	require.NotNil(t, txn.GatewayTransactionID)
	assert.Equal(t, "hub-1", *txn.GatewayTransactionID)
}

func TestScenarioNotFoundPollThenSuccessCallback(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	res, err := h.fold(t, PollResult{Reference: "PAY-AAA11111", Found: false})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, res.Current)

	txn := h.get(t)
	assert.Equal(t, models.StatusFailed, txn.Status)
	assert.Equal(t, models.FailureNotFound, txn.FailureReason)
	assert.JSONEq(t, `{"status":"not_found"}`, string(txn.GatewayResponse))

	_, err = h.fold(t, callback(successCallback))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrIllegalTransition))

	after := h.get(t)
	assert.Equal(t, models.StatusFailed, after.Status)
	assert.Nil(t, after.CompletedAt)
	assert.Empty(t, after.CallbackData)
	assert.Equal(t, txn.Version, after.Version)
}

func TestScenarioUnknownReference(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	before := h.get(t)

	body := `{"ResponseCode":"0000","Status":"Success","Data":{"ClientReference":"PAY-NOPE"}}`
	_, err := h.fold(t, callback(body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnknownReference))
	assert.False(t, common.KindOf(err).Retryable())

	_, err = h.st.GetTransaction(context.Background(), "PAY-NOPE")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.Equal(t, before, h.get(t))
}

func TestInitiationRejectedNeverIssuesChallenge(t *testing.T) {
	h := newHarness(t)
	txn := h.create(t)

	ev := acceptedWithChallenge()
	ev.Accepted = false
	res, err := h.fold(t, ev)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, res.Current)
	assert.Nil(t, res.Challenge)
	assert.Equal(t, models.FailureRejected, h.get(t).FailureReason)

	chs, err := h.st.ListChallenges(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Empty(t, chs)
}

func TestRepeatedInitiationIssuesOneChallenge(t *testing.T) {
	h := newHarness(t)
	txn := h.create(t)

	first, err := h.fold(t, acceptedWithChallenge())
	require.NoError(t, err)
	second, err := h.fold(t, acceptedWithChallenge())
	require.NoError(t, err)
	assert.Equal(t, first.Challenge.OtpID, second.Challenge.OtpID)

	chs, err := h.st.ListChallenges(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Len(t, chs, 1)
}

func TestTerminalStatesNeverResurrect(t *testing.T) {
	events := []Event{
		callback(successCallback),
		callback(failedCallback),
		callback(`{"ResponseCode":"0001","Status":"Pending","Data":{"ClientReference":"PAY-AAA11111"}}`),
		PollResult{Reference: "PAY-AAA11111", Found: true, Status: "Paid"},
		PollResult{Reference: "PAY-AAA11111", Found: true, Status: "Unpaid"},
		PollResult{Reference: "PAY-AAA11111", Found: true, Status: "Failed"},
		PollResult{Reference: "PAY-AAA11111", Found: false},
	}

	settle := map[models.TransactionStatus]Event{
		models.StatusCompleted: callback(successCallback),
		models.StatusFailed:    callback(failedCallback),
	}
	for terminal, settler := range settle {
		for _, ev := range events {
			h := newHarness(t)
			h.create(t)
			_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
			require.NoError(t, err)
			_, err = h.fold(t, settler)
			require.NoError(t, err)
			require.Equal(t, terminal, h.get(t).Status)

			_, err = h.fold(t, ev)
			if err != nil {
				assert.True(t, errors.Is(err, common.ErrIllegalTransition), err.Error())
			}
			assert.Equal(t, terminal, h.get(t).Status, "%s then %s %+v", terminal, ev.Kind(), ev)
		}
	}
}

func TestDuplicateCallbackIsIdempotent(t *testing.T) {
	for _, body := range []string{successCallback, failedCallback} {
		h := newHarness(t)
		h.create(t)
		_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
		require.NoError(t, err)

		once, err := h.fold(t, callback(body))
		require.NoError(t, err)
		once1 := h.get(t)

		twice, err := h.fold(t, callback(body))
		require.NoError(t, err)
		once2 := h.get(t)

		assert.Equal(t, once.Current, twice.Current)
		assert.Equal(t, once1.Status, once2.Status)
		assert.Equal(t, once1.CompletedAt, once2.CompletedAt)
		assert.False(t, twice.Changed)
	}
}

func TestPendingCallbackKeepsProcessing(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
	require.NoError(t, err)

	body := `{"ResponseCode":"0001","Status":"Pending","Data":{"ClientReference":"PAY-AAA11111"}}`
	res, err := h.fold(t, callback(body))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Current)
	assert.JSONEq(t, body, string(h.get(t).CallbackData))
}

func TestCallbackPayloadLastWriteWins(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
	require.NoError(t, err)

	first := `{"ResponseCode":"0000","Status":"Success","Data":{"ClientReference":"PAY-AAA11111","Seq":1}}`
	second := `{"ResponseCode":"0000","Status":"Success","Data":{"ClientReference":"PAY-AAA11111","Seq":2}}`
	_, err = h.fold(t, callback(first))
	require.NoError(t, err)
	_, err = h.fold(t, callback(second))
	require.NoError(t, err)
	assert.JSONEq(t, second, string(h.get(t).CallbackData))
}

func TestPollSuccessCompletes(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
	require.NoError(t, err)

	raw := []byte(`{"responseCode":"0000","data":{"status":"Paid"}}`)
	res, err := h.fold(t, PollResult{Reference: "PAY-AAA11111", Found: true, Status: "Paid", ResponseCode: "0000", Raw: raw})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Current)
	assert.JSONEq(t, string(raw), string(h.get(t).GatewayResponse))
}

func TestSuccessBeforeInitiationIsIllegal(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	_, err := h.fold(t, callback(successCallback))
	assert.True(t, errors.Is(err, common.ErrIllegalTransition))
	assert.Equal(t, models.StatusPending, h.get(t).Status)
}

func TestOtpExpiredFailsTransaction(t *testing.T) {
	for _, remote := range []bool{true, false} {
		h := newHarness(t)
		h.create(t)
		_, err := h.fold(t, acceptedWithChallenge())
		require.NoError(t, err)

		h.now = h.now.Add(11 * time.Minute)
		res, err := h.fold(t, OtpVerifyResult{Reference: "PAY-AAA11111", SuppliedCode: "482913", RemoteVerified: remote})
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrOtpExpired))
		require.NotNil(t, res)
		assert.Equal(t, models.OTPExpired, res.Challenge.Status)

		txn := h.get(t)
		assert.Equal(t, models.StatusFailed, txn.Status)
		assert.Equal(t, models.FailureOtpExpired, txn.FailureReason)
	}
}

func TestOtpExhaustionFailsTransaction(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, acceptedWithChallenge())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := h.fold(t, OtpVerifyResult{Reference: "PAY-AAA11111", SuppliedCode: "000000"})
		assert.True(t, errors.Is(err, common.ErrOtpRejected))
		assert.Equal(t, 2-i, res.Otp.AttemptsRemaining)
	}
	txn := h.get(t)
	assert.Equal(t, models.StatusFailed, txn.Status)
	assert.Equal(t, models.FailureOtpExhausted, txn.FailureReason)

	res, err := h.fold(t, OtpVerifyResult{Reference: "PAY-AAA11111", SuppliedCode: "482913", RemoteVerified: true})
	assert.True(t, errors.Is(err, common.ErrAttemptsExhausted))
	assert.Equal(t, 3, res.Challenge.Attempts)
	assert.Equal(t, models.StatusFailed, h.get(t).Status)
}

func TestOtpWithoutChallengeIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true})
	require.NoError(t, err)

	_, err = h.fold(t, OtpVerifyResult{Reference: "PAY-AAA11111", SuppliedCode: "1", RemoteVerified: true})
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.Equal(t, models.StatusProcessing, h.get(t).Status)
}

func TestNonJSONPayloadIsWrapped(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: false, Raw: []byte("bad request")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":"bad request"}`, string(h.get(t).GatewayResponse))
}

func TestIssueChallenge(t *testing.T) {
	h := newHarness(t)
	txn := h.create(t)

	res, err := h.engine.IssueChallenge(context.Background(), txn.Reference, "123456", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Current)
	assert.Equal(t, h.now.Add(5*time.Minute), res.Challenge.ExpiresAt)

	_, err = h.fold(t, callback(failedCallback))
	require.NoError(t, err)

	_, err = h.engine.IssueChallenge(context.Background(), txn.Reference, "123456", 0)
	assert.True(t, errors.Is(err, common.ErrIllegalTransition))
}

func TestCallbackAndPollRaceHasOneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		h.create(t)
		_, err := h.fold(t, InitiationResult{Reference: "PAY-AAA11111", Accepted: true, GatewayTransactionID: "hub-1"})
		require.NoError(t, err)
		before := h.get(t)
		require.Equal(t, models.StatusProcessing, before.Status)

		events := []Event{
			callback(successCallback),
			PollResult{Reference: "PAY-AAA11111", Found: true, Status: "Failed"},
		}
		targets := []models.TransactionStatus{models.StatusCompleted, models.StatusFailed}
		errs := make([]error, len(events))

		start := make(chan struct{})
		var wg sync.WaitGroup
		for j, ev := range events {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[j] = h.engine.Fold(context.Background(), ev)
			}()
		}
		close(start)
		wg.Wait()

		winner := -1
		for j, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "both folds won")
				winner = j
				continue
			}
			assert.True(t, errors.Is(err, common.ErrIllegalTransition), "loser got %v", err)
		}
		require.NotEqual(t, -1, winner, "no fold won")

		after := h.get(t)
		assert.Equal(t, targets[winner], after.Status)
		assert.Equal(t, before.Version+1, after.Version)
		if winner == 0 {
			assert.NotEmpty(t, after.CallbackData)
			assert.NotNil(t, after.CompletedAt)
		} else {
			assert.Equal(t, models.FailurePollFailed, after.FailureReason)
			assert.Empty(t, after.CallbackData)
		}
	}
}
