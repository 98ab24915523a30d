package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// pollDedupWindow keeps one queued poll per reference across overlapping
// sweeps.
const pollDedupWindow = 4 * time.Minute

// Dispatcher enqueues tasks on Redis for the worker process.
type Dispatcher struct {
	Client *asynq.Client
}

func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{Client: client}
}

func (d *Dispatcher) EnqueueSMS(ctx context.Context, phone, message string) error {
	task, err := NewSendSMSTask(SMSPayload{Phone: phone, Message: message})
	if err != nil {
		return err
	}
	_, err = d.Client.EnqueueContext(ctx, task)
	return err
}

// EnqueuePoll treats an already queued poll for the same reference as
// success.
func (d *Dispatcher) EnqueuePoll(ctx context.Context, reference string) error {
	task, err := NewPollStatusTask(PollPayload{Reference: reference})
	if err != nil {
		return err
	}
	_, err = d.Client.EnqueueContext(ctx, task, asynq.Unique(pollDedupWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
