package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momopay-service/internal/config"
	"momopay-service/internal/logging"
	"momopay-service/internal/models"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

type fixture struct {
	st  *store.MemoryStore
	m   *Manager
	txn *models.PaymentTransaction
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:  store.NewMemoryStore(),
		now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.m = NewManager(config.OTPConfig{TTL: 10 * time.Minute, MaxAttempts: 3}, logging.Discard()).
		WithClock(func() time.Time { return f.now })
	f.txn = &models.PaymentTransaction{
		TransactionID: uuid.NewString(),
		Reference:     "PAY-OTPTEST",
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      "GHS",
		PaymentMethod: models.MethodMobileMoney,
		CustomerName:  "Esi",
	}
	require.NoError(t, f.st.CreateTransaction(context.Background(), f.txn))
	return f
}

func (f *fixture) issue(t *testing.T) *models.OTPVerification {
	t.Helper()
	var ch *models.OTPVerification
	err := f.st.WithinTx(context.Background(), func(repo store.Repository) (err error) {
		ch, err = f.m.Issue(context.Background(), repo, f.txn, "482913", 0)
		return err
	})
	require.NoError(t, err)
	return ch
}

func (f *fixture) attempt(t *testing.T, code string, remote bool) (Outcome, error) {
	t.Helper()
	var (
		out     Outcome
		attempt error
	)
	err := f.st.WithinTx(context.Background(), func(repo store.Repository) error {
		ch, err := repo.LockLatestChallenge(context.Background(), f.txn.ID)
		if err != nil {
			return err
		}
		out, attempt = f.m.AttemptVerify(context.Background(), repo, ch, code, remote, []byte(`{"Status":"x"}`))
		switch common.KindOf(attempt) {
		case "", common.KindOtpExpired, common.KindAttemptsExhausted, common.KindOtpRejected:
			return nil
		}
		return attempt
	})
	require.NoError(t, err)
	return out, attempt
}

func TestIssueDefaults(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)
	assert.Equal(t, models.OTPPending, ch.Status)
	assert.Equal(t, 3, ch.MaxAttempts)
	assert.Equal(t, 0, ch.Attempts)
	assert.Equal(t, f.now.Add(10*time.Minute), ch.ExpiresAt)
	assert.NoError(t, f.m.Check(ch))
}

func TestVerifySuccess(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	out, err := f.attempt(t, "482913", true)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, models.OTPVerified, out.Challenge.Status)
	require.NotNil(t, out.Challenge.VerifiedAt)
	verifiedAt := *out.Challenge.VerifiedAt

	f.now = f.now.Add(time.Minute)
	again, err := f.attempt(t, "482913", true)
	require.NoError(t, err)
	assert.True(t, again.Verified)
	assert.Equal(t, verifiedAt, *again.Challenge.VerifiedAt)
}

func TestRemoteVerdictWinsOverLocalCode(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	out, err := f.attempt(t, "000000", true)
	require.NoError(t, err)
	assert.True(t, out.Verified)

	g := newFixture(t)
	g.issue(t)
	out, err = g.attempt(t, "482913", false)
	assert.True(t, errors.Is(err, common.ErrOtpRejected))
	assert.Equal(t, 2, out.AttemptsRemaining)
}

func TestExpiredAlwaysRejected(t *testing.T) {
	for _, remote := range []bool{true, false} {
		f := newFixture(t)
		f.issue(t)
		f.now = f.now.Add(10*time.Minute + time.Second)

		out, err := f.attempt(t, "482913", remote)
		assert.True(t, errors.Is(err, common.ErrOtpExpired))
		assert.Equal(t, models.OTPExpired, out.Challenge.Status)
		assert.Equal(t, 0, out.Challenge.Attempts)

		stored, serr := f.st.LatestChallenge(context.Background(), f.txn.ID)
		require.NoError(t, serr)
		assert.Equal(t, models.OTPExpired, stored.Status)
		assert.Nil(t, stored.VerifiedAt)
		assert.Error(t, f.m.Check(stored))
	}
}

func TestAttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	for i := 1; i <= 3; i++ {
		out, err := f.attempt(t, "111111", false)
		assert.True(t, errors.Is(err, common.ErrOtpRejected))
		assert.Equal(t, i, out.Challenge.Attempts)
		assert.Equal(t, 3-i, out.AttemptsRemaining)
	}

	stored, err := f.st.LatestChallenge(context.Background(), f.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OTPFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	out, err := f.attempt(t, "482913", true)
	assert.True(t, errors.Is(err, common.ErrAttemptsExhausted))
	assert.Equal(t, 3, out.Challenge.Attempts)
	assert.False(t, out.Verified)

	stored, err = f.st.LatestChallenge(context.Background(), f.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
	assert.True(t, errors.Is(f.m.Check(stored), common.ErrAttemptsExhausted))
}
