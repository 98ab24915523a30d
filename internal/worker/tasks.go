package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeSendSMS    = "notification:sms"
	TypePollStatus = "reconcile:poll"
)

type SMSPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type PollPayload struct {
	Reference string `json:"reference"`
}

// Task Creators

func NewSendSMSTask(payload SMSPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSendSMS, data, asynq.MaxRetry(0), asynq.Queue("low")), nil
}

func NewPollStatusTask(payload PollPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePollStatus, data, asynq.MaxRetry(0)), nil
}
