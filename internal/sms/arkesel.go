package sms

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"momopay-service/internal/config"
	"momopay-service/internal/metrics"
	"momopay-service/pkg/common"
)

// Sender delivers one text message. Delivery is best effort.
type Sender interface {
	Send(ctx context.Context, phone, message string) (bool, error)
}

// ArkeselClient sends SMS through the Arkesel v1 GET API.
type ArkeselClient struct {
	cfg  config.SMSConfig
	http *common.HTTPClient
	log  *logrus.Entry
}

func NewArkeselClient(cfg config.SMSConfig, log *logrus.Entry) *ArkeselClient {
	return &ArkeselClient{
		cfg:  cfg,
		http: common.NewHTTPClient(cfg.Timeout, nil),
		log:  log,
	}
}

// Send reports delivered=false with a nil error when Arkesel answers but does
// not accept the message. Errors are transport failures.
func (c *ArkeselClient) Send(ctx context.Context, phone, message string) (bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(message) == "" {
		return false, common.NewError(common.KindValidation, "phone and message are required")
	}
	if !c.cfg.Enabled {
		c.log.WithField("phone", maskPhone(phone)).Info("sms disabled, message dropped")
		metrics.SMSSent.WithLabelValues("disabled").Inc()
		return false, nil
	}

	params := url.Values{
		"action":  {"send-sms"},
		"api_key": {c.cfg.APIKey},
		"to":      {phone},
		"from":    {c.cfg.SenderID},
		"sms":     {message},
	}
	resp, err := c.http.GetQuery(ctx, c.cfg.BaseURL, params, map[string]string{"Accept": "application/json"})
	if err != nil {
		metrics.SMSSent.WithLabelValues("error").Inc()
		return false, common.WrapError(common.KindGatewayTransport, err, "sms request failed")
	}
	if !resp.OK() {
		metrics.SMSSent.WithLabelValues("rejected").Inc()
		c.log.WithFields(logrus.Fields{
			"phone":       maskPhone(phone),
			"status_code": resp.StatusCode,
		}).Warn("sms rejected")
		return false, nil
	}

	metrics.SMSSent.WithLabelValues("sent").Inc()
	c.log.WithField("phone", maskPhone(phone)).Info("sms sent")
	return true, nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s%s", strings.Repeat("*", len(phone)-4), phone[len(phone)-4:])
}
