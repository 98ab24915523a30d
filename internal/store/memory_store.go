package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"momopay-service/internal/models"
	"momopay-service/pkg/common"
)

// MemoryStore keeps everything in process. WithinTx serializes callers and
// works on a copy of the state that replaces the original only when fn
// succeeds, which gives the same all-or-nothing contract as the SQL store.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	nextTxnID   uint64
	nextOtpID   uint64
	txns        map[uint64]models.PaymentTransaction
	byReference map[string]uint64
	byTxnID     map[string]uint64
	challenges  map[uint64]models.OTPVerification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			txns:        map[uint64]models.PaymentTransaction{},
			byReference: map[string]uint64{},
			byTxnID:     map[string]uint64{},
			challenges:  map[uint64]models.OTPVerification{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(repo Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memoryRepository{state: working, now: s.now}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return s.WithinTx(ctx, func(repo Repository) error { return repo.CreateTransaction(ctx, txn) })
}

func (s *MemoryStore) GetTransaction(ctx context.Context, key string) (txn *models.PaymentTransaction, err error) {
	err = s.WithinTx(ctx, func(repo Repository) error {
		txn, err = repo.GetTransaction(ctx, key)
		return err
	})
	return txn, err
}

func (s *MemoryStore) LockTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	return s.GetTransaction(ctx, key)
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return s.WithinTx(ctx, func(repo Repository) error { return repo.UpdateTransaction(ctx, txn) })
}

func (s *MemoryStore) StaleTransactions(ctx context.Context, statuses []models.TransactionStatus, updatedBefore time.Time, limit int) (txns []models.PaymentTransaction, err error) {
	err = s.WithinTx(ctx, func(repo Repository) error {
		txns, err = repo.StaleTransactions(ctx, statuses, updatedBefore, limit)
		return err
	})
	return txns, err
}

func (s *MemoryStore) CreateChallenge(ctx context.Context, ch *models.OTPVerification) error {
	return s.WithinTx(ctx, func(repo Repository) error { return repo.CreateChallenge(ctx, ch) })
}

func (s *MemoryStore) LatestChallenge(ctx context.Context, transactionID uint64) (ch *models.OTPVerification, err error) {
	err = s.WithinTx(ctx, func(repo Repository) error {
		ch, err = repo.LatestChallenge(ctx, transactionID)
		return err
	})
	return ch, err
}

func (s *MemoryStore) LockLatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error) {
	return s.LatestChallenge(ctx, transactionID)
}

func (s *MemoryStore) ListChallenges(ctx context.Context, transactionID uint64) (chs []models.OTPVerification, err error) {
	err = s.WithinTx(ctx, func(repo Repository) error {
		chs, err = repo.ListChallenges(ctx, transactionID)
		return err
	})
	return chs, err
}

func (s *MemoryStore) UpdateChallenge(ctx context.Context, ch *models.OTPVerification) error {
	return s.WithinTx(ctx, func(repo Repository) error { return repo.UpdateChallenge(ctx, ch) })
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		nextTxnID:   st.nextTxnID,
		nextOtpID:   st.nextOtpID,
		txns:        make(map[uint64]models.PaymentTransaction, len(st.txns)),
		byReference: make(map[string]uint64, len(st.byReference)),
		byTxnID:     make(map[string]uint64, len(st.byTxnID)),
		challenges:  make(map[uint64]models.OTPVerification, len(st.challenges)),
	}
	for k, v := range st.txns {
		c.txns[k] = v
	}
	for k, v := range st.byReference {
		c.byReference[k] = v
	}
	for k, v := range st.byTxnID {
		c.byTxnID[k] = v
	}
	for k, v := range st.challenges {
		c.challenges[k] = v
	}
	return c
}

// memoryRepository works on one state snapshot. Records are stored by value
// so callers never alias stored data.
type memoryRepository struct {
	state *memoryState
	now   func() time.Time
}

func (r *memoryRepository) CreateTransaction(_ context.Context, txn *models.PaymentTransaction) error {
	if _, ok := r.state.byReference[txn.Reference]; ok {
		return common.NewError(common.KindConflict, "transaction already exists")
	}
	if _, ok := r.state.byTxnID[txn.TransactionID]; ok {
		return common.NewError(common.KindConflict, "transaction already exists")
	}
	now := r.now()
	r.state.nextTxnID++
	txn.ID = r.state.nextTxnID
	if txn.Version == 0 {
		txn.Version = 1
	}
	if txn.Status == "" {
		txn.Status = models.StatusPending
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	stored := *txn
	stored.Challenges = nil
	r.state.txns[txn.ID] = stored
	r.state.byReference[txn.Reference] = txn.ID
	r.state.byTxnID[txn.TransactionID] = txn.ID
	return nil
}

func (r *memoryRepository) GetTransaction(_ context.Context, key string) (*models.PaymentTransaction, error) {
	id, ok := r.state.byReference[key]
	if !ok {
		id, ok = r.state.byTxnID[key]
	}
	if !ok {
		return nil, common.NewError(common.KindNotFound, "transaction not found")
	}
	txn := r.state.txns[id]
	return &txn, nil
}

func (r *memoryRepository) LockTransaction(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	return r.GetTransaction(ctx, key)
}

func (r *memoryRepository) UpdateTransaction(_ context.Context, txn *models.PaymentTransaction) error {
	current, ok := r.state.txns[txn.ID]
	if !ok {
		return common.NewError(common.KindNotFound, "transaction not found")
	}
	if current.Version != txn.Version {
		return common.NewError(common.KindConflict, "transaction %s was modified concurrently", txn.Reference)
	}
	current.Status = txn.Status
	current.FailureReason = txn.FailureReason
	current.GatewayTransactionID = txn.GatewayTransactionID
	current.GatewayResponse = txn.GatewayResponse
	current.CallbackData = txn.CallbackData
	current.CompletedAt = txn.CompletedAt
	current.UpdatedAt = r.now()
	current.Version = txn.Version + 1
	r.state.txns[txn.ID] = current

	txn.Version = current.Version
	txn.UpdatedAt = current.UpdatedAt
	return nil
}

func (r *memoryRepository) StaleTransactions(_ context.Context, statuses []models.TransactionStatus, updatedBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	wanted := make(map[models.TransactionStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []models.PaymentTransaction
	for _, txn := range r.state.txns {
		if wanted[txn.Status] && txn.UpdatedAt.Before(updatedBefore) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) CreateChallenge(_ context.Context, ch *models.OTPVerification) error {
	if _, ok := r.state.txns[ch.PaymentTransactionID]; !ok {
		return common.NewError(common.KindNotFound, "transaction not found")
	}
	for _, existing := range r.state.challenges {
		if existing.OtpID == ch.OtpID {
			return common.NewError(common.KindConflict, "otp challenge already exists")
		}
	}
	r.state.nextOtpID++
	ch.ID = r.state.nextOtpID
	if ch.Version == 0 {
		ch.Version = 1
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = r.now()
	}
	r.state.challenges[ch.ID] = *ch
	return nil
}

func (r *memoryRepository) LatestChallenge(_ context.Context, transactionID uint64) (*models.OTPVerification, error) {
	var latest *models.OTPVerification
	for _, ch := range r.state.challenges {
		if ch.PaymentTransactionID != transactionID {
			continue
		}
		if latest == nil || ch.ID > latest.ID {
			c := ch
			latest = &c
		}
	}
	if latest == nil {
		return nil, common.NewError(common.KindNotFound, "otp challenge not found")
	}
	return latest, nil
}

func (r *memoryRepository) LockLatestChallenge(ctx context.Context, transactionID uint64) (*models.OTPVerification, error) {
	return r.LatestChallenge(ctx, transactionID)
}

func (r *memoryRepository) ListChallenges(_ context.Context, transactionID uint64) ([]models.OTPVerification, error) {
	var out []models.OTPVerification
	for _, ch := range r.state.challenges {
		if ch.PaymentTransactionID == transactionID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) UpdateChallenge(_ context.Context, ch *models.OTPVerification) error {
	current, ok := r.state.challenges[ch.ID]
	if !ok {
		return common.NewError(common.KindNotFound, "otp challenge not found")
	}
	if current.Version != ch.Version {
		return common.NewError(common.KindConflict, "otp challenge %s was modified concurrently", ch.OtpID)
	}
	current.Status = ch.Status
	current.Attempts = ch.Attempts
	current.VerifiedAt = ch.VerifiedAt
	current.GatewayResponse = ch.GatewayResponse
	current.Version = ch.Version + 1
	r.state.challenges[ch.ID] = current
	ch.Version = current.Version
	return nil
}
