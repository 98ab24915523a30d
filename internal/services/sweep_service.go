package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"momopay-service/internal/config"
	"momopay-service/internal/metrics"
	"momopay-service/internal/models"
	"momopay-service/internal/store"
)

// SweepService finds transactions the gateway never settled and queues a
// status poll for each. It changes no state itself.
type SweepService struct {
	store      store.Repository
	dispatcher Dispatcher
	cfg        config.ReconcileConfig
	log        *logrus.Entry
	now        func() time.Time
}

func NewSweepService(st store.Repository, dispatcher Dispatcher, cfg config.ReconcileConfig, log *logrus.Entry) *SweepService {
	return &SweepService{
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep queues polls for pending and processing transactions untouched for
// longer than StaleAfter and returns how many were queued.
func (s *SweepService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.store.StaleTransactions(ctx,
		[]models.TransactionStatus{models.StatusPending, models.StatusProcessing},
		cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, txn := range stale {
		if err := s.dispatcher.EnqueuePoll(ctx, txn.Reference); err != nil {
			s.log.WithField("reference", txn.Reference).WithError(err).Warn("could not queue status poll")
			continue
		}
		queued++
	}
	metrics.SweepEnqueued.Add(float64(queued))
	return queued, nil
}

// StartScheduler runs Sweep on the configured cron schedule. The returned
// cron must be stopped on shutdown.
func (s *SweepService) StartScheduler() (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.WithError(err).Error("stale transaction sweep failed")
			return
		}
		if n > 0 {
			s.log.WithField("queued", n).Info("stale transactions queued for polling")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.log.WithField("schedule", s.cfg.SweepSchedule).Info("sweep scheduler started")
	return c, nil
}
