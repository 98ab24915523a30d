package hubtel

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"momopay-service/internal/config"
	"momopay-service/internal/metrics"
	"momopay-service/internal/models"
	"momopay-service/pkg/common"
)

// Client talks to the Hubtel checkout and transaction-status APIs. All
// credentials and URLs come from the GatewayConfig given at construction.
type Client struct {
	cfg  config.GatewayConfig
	http *common.HTTPClient
	log  *logrus.Entry
}

func NewClient(cfg config.GatewayConfig, log *logrus.Entry) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		cfg:  cfg,
		http: common.NewHTTPClient(cfg.Timeout, limiter),
		log:  log,
	}
}

func (c *Client) headers() map[string]string {
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.ClientSecret))
	return map[string]string{
		"Accept":        "application/json",
		"Authorization": "Basic " + creds,
	}
}

// ChannelFor maps a carrier name onto the Hubtel channel code.
func ChannelFor(network string) string {
	switch network {
	case models.NetworkVodafone:
		return "vodafone-gh"
	case models.NetworkAirtelTigo:
		return "airtel-gh"
	}
	return "mtn-gh"
}

// Initiate asks Hubtel to start a checkout. A returned error always means the
// outcome is unknown; a rejection is reported with Accepted=false.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	payload := map[string]interface{}{
		"totalAmount":           req.Amount.StringFixed(2),
		"description":           req.Description,
		"callbackUrl":           c.cfg.CallbackURL,
		"returnUrl":             c.cfg.ReturnURL,
		"cancellationUrl":       c.cfg.CancellationURL,
		"merchantAccountNumber": c.cfg.MerchantAccount,
		"clientReference":       req.Reference,
		"currency":              req.Currency,
		"customerName":          req.CustomerName,
		"customerEmail":         req.CustomerEmail,
		"customerMsisdn":        req.CustomerPhone,
		"channel":               ChannelFor(req.Network),
	}

	resp, err := c.call(ctx, "initiate", func() (*common.HTTPResponse, error) {
		return c.http.Post(ctx, c.cfg.BaseURL+"/items/initiate", payload, c.headers())
	})
	if err != nil {
		return nil, err
	}

	env, err := c.verdict("initiate", resp)
	if err != nil {
		return nil, err
	}

	result := &InitiateResult{
		GatewayTransactionID: env.gatewayTransactionID(),
		ResponseCode:         env.ResponseCode,
		Message:              env.Message,
		CheckoutURL:          env.Data.CheckoutDirectURL,
		Raw:                  resp.Body,
	}
	result.Accepted = resp.OK() &&
		(env.ResponseCode == CodeSuccess || env.ResponseCode == CodePending || successStatus(env.Status))
	if result.Accepted && env.Data.OtpData != nil {
		result.Challenge = &ChallengeData{
			Code: env.Data.OtpData.OtpCode,
			TTL:  time.Duration(env.Data.OtpData.ExpiresIn) * time.Second,
		}
	}

	c.log.WithFields(logrus.Fields{
		"reference":     req.Reference,
		"accepted":      result.Accepted,
		"response_code": env.ResponseCode,
		"challenge":     result.Challenge != nil,
	}).Info("hubtel initiate")
	return result, nil
}

// CheckStatus polls the status API for reference. HTTP 404 is Found=false.
func (c *Client) CheckStatus(ctx context.Context, reference string) (*StatusResult, error) {
	endpoint := fmt.Sprintf("%s/transactions/%s/status", c.cfg.StatusURL, url.PathEscape(c.cfg.MerchantAccount))
	params := url.Values{"clientReference": {reference}}

	resp, err := c.call(ctx, "status", func() (*common.HTTPResponse, error) {
		return c.http.GetQuery(ctx, endpoint, params, c.headers())
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &StatusResult{Found: false, Raw: resp.Body}, nil
	}
	if !resp.OK() {
		return nil, c.transport("status", fmt.Errorf("unexpected HTTP %d", resp.StatusCode))
	}

	var env envelope
	if err := resp.Decode(&env); err != nil {
		return nil, c.transport("status", fmt.Errorf("undecodable response: %w", err))
	}
	return &StatusResult{
		Found:        true,
		Status:       env.Data.Status,
		ResponseCode: env.ResponseCode,
		Raw:          resp.Body,
	}, nil
}

// VerifyOtp asks Hubtel whether code is correct for the checkout. Only a
// decoded Hubtel answer counts as a rejection.
func (c *Client) VerifyOtp(ctx context.Context, gatewayTransactionID, code string) (*VerifyResult, error) {
	payload := map[string]string{
		"transaction_id": gatewayTransactionID,
		"otp":            code,
	}
	resp, err := c.call(ctx, "verify_otp", func() (*common.HTTPResponse, error) {
		return c.http.Post(ctx, c.cfg.BaseURL+"/pos/onlinecheckout/verify", payload, c.headers())
	})
	if err != nil {
		return nil, err
	}

	env, err := c.verdict("verify_otp", resp)
	if err != nil {
		return nil, err
	}
	verified := resp.OK() && (successStatus(env.Status) || env.ResponseCode == CodeSuccess)
	return &VerifyResult{Verified: verified, Raw: resp.Body}, nil
}

// call runs do, recording metrics. Network failures, 5xx and 429 are
// transport errors since they say nothing about the payment.
func (c *Client) call(ctx context.Context, op string, do func() (*common.HTTPResponse, error)) (*common.HTTPResponse, error) {
	start := time.Now()
	resp, err := do()
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transport(op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.transport(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}
	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

// verdict decodes the body of an initiate or verify answer. Auth failures,
// timeouts and bodies that are not a Hubtel envelope with a code or status say
// nothing about the payment and are transport errors.
func (c *Client) verdict(op string, resp *common.HTTPResponse) (envelope, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout:
		return envelope{}, c.transport(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}
	var env envelope
	if err := resp.Decode(&env); err != nil {
		return envelope{}, c.transport(op, fmt.Errorf("undecodable HTTP %d response: %w", resp.StatusCode, err))
	}
	if !env.hasVerdict() {
		return envelope{}, c.transport(op, fmt.Errorf("HTTP %d without a gateway verdict: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}
	return env, nil
}

func (c *Client) transport(op string, err error) error {
	metrics.GatewayRequests.WithLabelValues(op, "transport_error").Inc()
	c.log.WithError(err).WithField("operation", op).Error("hubtel request failed")
	return common.WrapError(common.KindGatewayTransport, err, "hubtel "+op+" failed")
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
