package otp

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"momopay-service/internal/config"
	"momopay-service/internal/metrics"
	"momopay-service/internal/models"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

const DefaultTTL = 10 * time.Minute

// Outcome is the state of a challenge after one verification attempt.
type Outcome struct {
	Challenge         *models.OTPVerification
	Verified          bool
	AttemptsRemaining int
}

// Manager issues OTP challenges and applies verification attempts. The
// gateway's verdict decides correctness; the local code is only compared to
// flag disagreement.
type Manager struct {
	ttl         time.Duration
	maxAttempts int
	log         *logrus.Entry
	now         func() time.Time
}

func NewManager(cfg config.OTPConfig, log *logrus.Entry) *Manager {
	m := &Manager{
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = models.DefaultMaxAttempts
	}
	return m
}

// WithClock returns a copy of m reading time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	return &c
}

// Issue creates a pending challenge for txn. A non-positive ttl uses the
// configured default.
func (m *Manager) Issue(ctx context.Context, repo store.Repository, txn *models.PaymentTransaction, code string, ttl time.Duration) (*models.OTPVerification, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	ch := &models.OTPVerification{
		OtpID:                uuid.NewString(),
		PaymentTransactionID: txn.ID,
		OtpCode:              code,
		Status:               models.OTPPending,
		MaxAttempts:          m.maxAttempts,
		CreatedAt:            now,
		ExpiresAt:            now.Add(ttl),
		Version:              1,
	}
	if err := repo.CreateChallenge(ctx, ch); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"reference":  txn.Reference,
		"otp_id":     ch.OtpID,
		"expires_at": ch.ExpiresAt.Format(time.RFC3339),
	}).Info("otp challenge issued")
	return ch, nil
}

// Check reports, without side effects, whether an attempt on ch could still
// succeed. A nil error means the gateway should be asked.
func (m *Manager) Check(ch *models.OTPVerification) error {
	switch {
	case ch.Status == models.OTPExpired || ch.Expired(m.now()):
		return common.NewError(common.KindOtpExpired, "otp challenge %s has expired", ch.OtpID)
	case ch.Status == models.OTPFailed || ch.Attempts >= ch.MaxAttempts:
		return common.NewError(common.KindAttemptsExhausted, "otp challenge %s has no attempts left", ch.OtpID)
	}
	return nil
}

// AttemptVerify applies one attempt to ch and persists the result through
// repo. Business failures come back as OtpExpired, AttemptsExhausted or
// OtpRejected errors alongside the outcome; the caller should still commit
// whatever was written.
func (m *Manager) AttemptVerify(ctx context.Context, repo store.Repository, ch *models.OTPVerification, suppliedCode string, remoteVerified bool, raw []byte) (Outcome, error) {
	now := m.now()
	entry := m.log.WithField("otp_id", ch.OtpID)

	if ch.Expired(now) || ch.Status == models.OTPExpired {
		if ch.Status == models.OTPPending {
			next := *ch
			next.Status = models.OTPExpired
			if err := repo.UpdateChallenge(ctx, &next); err != nil {
				return Outcome{}, err
			}
			*ch = next
			entry.Info("otp challenge expired")
		}
		metrics.OtpAttempts.WithLabelValues("expired").Inc()
		return m.outcome(ch), common.NewError(common.KindOtpExpired, "otp challenge %s has expired", ch.OtpID)
	}

	if ch.Status == models.OTPFailed || ch.Attempts >= ch.MaxAttempts {
		metrics.OtpAttempts.WithLabelValues("exhausted").Inc()
		return m.outcome(ch), common.NewError(common.KindAttemptsExhausted, "otp challenge %s has no attempts left", ch.OtpID)
	}

	if ch.Status == models.OTPVerified {
		metrics.OtpAttempts.WithLabelValues("already_verified").Inc()
		return m.outcome(ch), nil
	}

	if ch.OtpCode != "" && suppliedCode != "" &&
		subtle.ConstantTimeCompare([]byte(ch.OtpCode), []byte(suppliedCode)) != 1 {
		entry.WithField("remote_verified", remoteVerified).Warn("supplied otp differs from issued code")
	}

	next := *ch
	if len(raw) > 0 {
		next.GatewayResponse = datatypes.JSON(raw)
	}
	if remoteVerified {
		next.Status = models.OTPVerified
		next.VerifiedAt = &now
	} else {
		next.Attempts++
		if next.Attempts >= next.MaxAttempts {
			next.Status = models.OTPFailed
		}
	}
	if err := repo.UpdateChallenge(ctx, &next); err != nil {
		return Outcome{}, err
	}
	*ch = next

	if remoteVerified {
		metrics.OtpAttempts.WithLabelValues("verified").Inc()
		entry.Info("otp challenge verified")
		return m.outcome(ch), nil
	}

	metrics.OtpAttempts.WithLabelValues("rejected").Inc()
	entry.WithFields(logrus.Fields{
		"attempts":     ch.Attempts,
		"max_attempts": ch.MaxAttempts,
	}).Info("otp attempt rejected")
	return m.outcome(ch), common.NewError(common.KindOtpRejected,
		"otp rejected, %d attempt(s) remaining", ch.AttemptsRemaining())
}

func (m *Manager) outcome(ch *models.OTPVerification) Outcome {
	return Outcome{
		Challenge:         ch,
		Verified:          ch.Status == models.OTPVerified,
		AttemptsRemaining: ch.AttemptsRemaining(),
	}
}
