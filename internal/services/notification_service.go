package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"momopay-service/internal/models"
	"momopay-service/internal/sms"
)

// Dispatcher hands work to the background queue.
type Dispatcher interface {
	EnqueueSMS(ctx context.Context, phone, message string) error
	EnqueuePoll(ctx context.Context, reference string) error
}

// NotificationService tells payers about settled transactions. Notifications
// never affect payment state: every failure is logged and dropped.
type NotificationService struct {
	sender     sms.Sender
	dispatcher Dispatcher
	log        *logrus.Entry
}

// NewNotificationService sends through dispatcher when it is set and
// directly through sender otherwise.
func NewNotificationService(sender sms.Sender, dispatcher Dispatcher, log *logrus.Entry) *NotificationService {
	return &NotificationService{sender: sender, dispatcher: dispatcher, log: log}
}

func (n *NotificationService) Send(ctx context.Context, phone, message string) (bool, error) {
	return n.sender.Send(ctx, phone, message)
}

func (n *NotificationService) TransactionSettled(ctx context.Context, txn *models.PaymentTransaction) {
	if txn.PhoneNumber == "" {
		return
	}
	message := SettlementMessage(txn)
	if message == "" {
		return
	}
	entry := n.log.WithFields(logrus.Fields{"reference": txn.Reference, "status": txn.Status})

	if n.dispatcher != nil {
		if err := n.dispatcher.EnqueueSMS(ctx, txn.PhoneNumber, message); err != nil {
			entry.WithError(err).Warn("could not queue settlement sms")
		}
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := n.sender.Send(sendCtx, txn.PhoneNumber, message); err != nil {
			entry.WithError(err).Warn("settlement sms failed")
		}
	}()
}

// SettlementMessage is the SMS text for a terminal transaction, or "" for any
// other status.
func SettlementMessage(txn *models.PaymentTransaction) string {
	amount := fmt.Sprintf("%s %s", txn.Currency, txn.Amount.StringFixed(2))
	switch txn.Status {
	case models.StatusCompleted:
		return fmt.Sprintf("Your payment of %s (ref %s) was successful.", amount, txn.Reference)
	case models.StatusFailed:
		return fmt.Sprintf("Your payment of %s (ref %s) could not be completed.", amount, txn.Reference)
	}
	return ""
}
