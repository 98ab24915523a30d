package store

import (
	"context"
	"time"

	"momopay-service/internal/models"
)

// Repository is the persistence contract for payments and their OTP
// challenges. Lookups that match nothing return a common.KindNotFound error;
// unique or version clashes return common.KindConflict.
type Repository interface {
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	// GetTransaction resolves key as a reference first, then as a transaction_id.
	GetTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error)
	// LockTransaction is GetTransaction with the row held until the
	// surrounding transaction ends.
	LockTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error)
	// UpdateTransaction writes the mutable columns if the stored version still
	// matches txn.Version, then bumps txn.Version.
	UpdateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	StaleTransactions(ctx context.Context, statuses []models.TransactionStatus, updatedBefore time.Time, limit int) ([]models.PaymentTransaction, error)

	CreateChallenge(ctx context.Context, ch *models.OTPVerification) error
	LatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error)
	LockLatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error)
	ListChallenges(ctx context.Context, transactionID uint64) ([]models.OTPVerification, error)
	UpdateChallenge(ctx context.Context, ch *models.OTPVerification) error
}

// Store is a Repository that can run a function atomically. Either every
// write made through the Repository passed to fn commits, or none does.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
	Ping(ctx context.Context) error
}
