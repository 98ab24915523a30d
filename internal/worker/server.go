package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"momopay-service/internal/services"
	"momopay-service/pkg/common"
)

type Worker struct {
	Payments *services.PaymentService
	log      *logrus.Entry
}

func NewWorker(payments *services.PaymentService, log *logrus.Entry) *Worker {
	return &Worker{
		Payments: payments,
		log:      log,
	}
}

// HandleSendSMS delivers one notification. Delivery failures are logged and
// the task is dropped.
func (w *Worker) HandleSendSMS(ctx context.Context, t *asynq.Task) error {
	var p SMSPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	delivered, err := w.Payments.SendSMS(ctx, p.Phone, p.Message)
	if err != nil {
		w.log.WithError(err).Warn("sms task failed")
		return nil
	}
	if !delivered {
		w.log.Info("sms task not delivered")
	}
	return nil
}

// HandlePollStatus polls the gateway for one reference and folds the answer.
// Only transport failures fail the task, so they show up in the archive.
func (w *Worker) HandlePollStatus(ctx context.Context, t *asynq.Task) error {
	var p PollPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	view, err := w.Payments.PollStatus(ctx, p.Reference)
	entry := w.log.WithField("reference", p.Reference)
	if err != nil {
		if common.KindOf(err) == common.KindGatewayTransport {
			return err
		}
		entry.WithError(err).Info("poll task not applied")
		return nil
	}
	entry.WithFields(logrus.Fields{
		"previous": view.PreviousStatus,
		"status":   view.Status,
	}).Info("poll task applied")
	return nil
}

func StartWorker(redisOpt asynq.RedisClientOpt, payments *services.PaymentService, log *logrus.Entry) error {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: log,
		},
	)

	worker := NewWorker(payments, log)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeSendSMS, worker.HandleSendSMS)
	mux.HandleFunc(TypePollStatus, worker.HandlePollStatus)

	return srv.Run(mux)
}
