package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"momopay-service/internal/models"
	"momopay-service/pkg/common"
)

// GormStore backs Store with MySQL through gorm. The *gorm.DB should be opened
// with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	gormRepository
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormRepository{db: db}}
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(repo Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormRepository struct {
	db *gorm.DB
}

func (r *gormRepository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.Version == 0 {
		txn.Version = 1
	}
	if txn.Status == "" {
		txn.Status = models.StatusPending
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(txn).Error; err != nil {
		return translate(err, "transaction")
	}
	return nil
}

func (r *gormRepository) GetTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	return r.findTransaction(r.db.WithContext(ctx), key)
}

func (r *gormRepository) LockTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	return r.findTransaction(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), key)
}

func (r *gormRepository) findTransaction(db *gorm.DB, key string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := db.Where("reference = ? OR transaction_id = ?", key, key).Order("id ASC").First(&txn).Error
	if err != nil {
		return nil, translate(err, "transaction")
	}
	return &txn, nil
}

func (r *gormRepository) UpdateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND version = ?", txn.ID, txn.Version).
		Updates(map[string]interface{}{
			"status":                 txn.Status,
			"failure_reason":         txn.FailureReason,
			"gateway_transaction_id": txn.GatewayTransactionID,
			"gateway_response":       txn.GatewayResponse,
			"callback_data":          txn.CallbackData,
			"completed_at":           txn.CompletedAt,
			"updated_at":             now,
			"version":                txn.Version + 1,
		})
	if res.Error != nil {
		return translate(res.Error, "transaction")
	}
	if res.RowsAffected == 0 {
		return common.NewError(common.KindConflict, "transaction %s was modified concurrently", txn.Reference)
	}
	txn.Version++
	txn.UpdatedAt = now
	return nil
}

func (r *gormRepository) StaleTransactions(ctx context.Context, statuses []models.TransactionStatus, updatedBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) CreateChallenge(ctx context.Context, ch *models.OTPVerification) error {
	if ch.Version == 0 {
		ch.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(ch).Error; err != nil {
		return translate(err, "otp challenge")
	}
	return nil
}

func (r *gormRepository) LatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error) {
	return r.latestChallenge(r.db.WithContext(ctx), transactionID)
}

func (r *gormRepository) LockLatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error) {
	return r.latestChallenge(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), transactionID)
}

func (r *gormRepository) latestChallenge(db *gorm.DB, transactionID uint64) (*models.OTPVerification, error) {
	var ch models.OTPVerification
	if err := db.Where("transaction_id = ?", transactionID).Order("id DESC").First(&ch).Error; err != nil {
		return nil, translate(err, "otp challenge")
	}
	return &ch, nil
}

func (r *gormRepository) ListChallenges(ctx context.Context, transactionID uint64) ([]models.OTPVerification, error) {
	var chs []models.OTPVerification
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id ASC").Find(&chs).Error
	return chs, err
}

func (r *gormRepository) UpdateChallenge(ctx context.Context, ch *models.OTPVerification) error {
	res := r.db.WithContext(ctx).Model(&models.OTPVerification{}).
		Where("id = ? AND version = ?", ch.ID, ch.Version).
		Updates(map[string]interface{}{
			"status":           ch.Status,
			"attempts":         ch.Attempts,
			"verified_at":      ch.VerifiedAt,
			"gateway_response": ch.GatewayResponse,
			"version":          ch.Version + 1,
		})
	if res.Error != nil {
		return translate(res.Error, "otp challenge")
	}
	if res.RowsAffected == 0 {
		return common.NewError(common.KindConflict, "otp challenge %s was modified concurrently", ch.OtpID)
	}
	ch.Version++
	return nil
}

func translate(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return common.NewError(common.KindNotFound, "%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return common.WrapError(common.KindConflict, err, what+" already exists")
	}
	return err
}
