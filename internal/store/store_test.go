package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"momopay-service/internal/models"
	"momopay-service/pkg/common"
)

func newTxn(ref string) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		TransactionID: uuid.NewString(),
		Reference:     ref,
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "GHS",
		PaymentMethod: models.MethodMobileMoney,
		CustomerName:  "Ama Mensah",
		PhoneNumber:   "233241234567",
		Network:       models.NetworkMTN,
	}
}

// stores returns every Store implementation reachable in this environment.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewMemoryStore()}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(&models.PaymentTransaction{}, &models.OTPVerification{}))
		t.Cleanup(func() {
			db.Exec("DELETE FROM otp_verifications")
			db.Exec("DELETE FROM payment_transactions")
		})
		out["mysql"] = NewGormStore(db)
	}
	return out
}

func TestCreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			txn := newTxn("PAY-" + uuid.NewString()[:8])
			require.NoError(t, s.CreateTransaction(ctx, txn))
			assert.NotZero(t, txn.ID)
			assert.Equal(t, int64(1), txn.Version)
			assert.Equal(t, models.StatusPending, txn.Status)

			byRef, err := s.GetTransaction(ctx, txn.Reference)
			require.NoError(t, err)
			assert.Equal(t, txn.ID, byRef.ID)
			assert.True(t, byRef.Amount.Equal(decimal.RequireFromString("100")))

			byID, err := s.GetTransaction(ctx, txn.TransactionID)
			require.NoError(t, err)
			assert.Equal(t, txn.Reference, byID.Reference)

			_, err = s.GetTransaction(ctx, "missing")
			assert.True(t, errors.Is(err, common.ErrNotFound))
		})
	}
}

func TestDuplicateReferenceIsConflict(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ref := "PAY-" + uuid.NewString()[:8]
			require.NoError(t, s.CreateTransaction(ctx, newTxn(ref)))
			err := s.CreateTransaction(ctx, newTxn(ref))
			require.Error(t, err)
			assert.Equal(t, common.KindConflict, common.KindOf(err))
			assert.True(t, common.KindOf(err).Retryable())
		})
	}
}

func TestUpdateVersionCheck(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			txn := newTxn("PAY-" + uuid.NewString()[:8])
			require.NoError(t, s.CreateTransaction(ctx, txn))

			stale := *txn
			txn.Status = models.StatusProcessing
			require.NoError(t, s.UpdateTransaction(ctx, txn))
			assert.Equal(t, int64(2), txn.Version)

			stale.Status = models.StatusFailed
			err := s.UpdateTransaction(ctx, &stale)
			assert.True(t, errors.Is(err, common.ErrConflict))

			got, err := s.GetTransaction(ctx, txn.Reference)
			require.NoError(t, err)
			assert.Equal(t, models.StatusProcessing, got.Status)
		})
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			txn := newTxn("PAY-" + uuid.NewString()[:8])
			require.NoError(t, s.CreateTransaction(ctx, txn))

			boom := errors.New("boom")
			err := s.WithinTx(ctx, func(repo Repository) error {
				locked, err := repo.LockTransaction(ctx, txn.Reference)
				if err != nil {
					return err
				}
				locked.Status = models.StatusProcessing
				if err := repo.UpdateTransaction(ctx, locked); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := s.GetTransaction(ctx, txn.Reference)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, got.Status)
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func TestChallenges(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			txn := newTxn("PAY-" + uuid.NewString()[:8])
			require.NoError(t, s.CreateTransaction(ctx, txn))

			_, err := s.LatestChallenge(ctx, txn.ID)
			assert.True(t, errors.Is(err, common.ErrNotFound))

			for i := 0; i < 2; i++ {
				require.NoError(t, s.CreateChallenge(ctx, &models.OTPVerification{
					OtpID:                uuid.NewString(),
					PaymentTransactionID: txn.ID,
					OtpCode:              "123456",
					Status:               models.OTPPending,
					MaxAttempts:          3,
					ExpiresAt:            time.Now().UTC().Add(10 * time.Minute),
				}))
			}

			all, err := s.ListChallenges(ctx, txn.ID)
			require.NoError(t, err)
			require.Len(t, all, 2)

			latest, err := s.LatestChallenge(ctx, txn.ID)
			require.NoError(t, err)
			assert.Equal(t, all[1].OtpID, latest.OtpID)

			latest.Attempts = 1
			require.NoError(t, s.UpdateChallenge(ctx, latest))
			again, err := s.LatestChallenge(ctx, txn.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, again.Attempts)
		})
	}
}

func TestStaleTransactions(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	old := newTxn("PAY-OLD")
	require.NoError(t, s.CreateTransaction(ctx, old))
	now = base.Add(20 * time.Minute)
	fresh := newTxn("PAY-FRESH")
	require.NoError(t, s.CreateTransaction(ctx, fresh))

	stale, err := s.StaleTransactions(ctx,
		[]models.TransactionStatus{models.StatusPending, models.StatusProcessing},
		now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "PAY-OLD", stale[0].Reference)
}
