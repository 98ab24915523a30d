package hubtel

import (
	"bytes"
	"encoding/json"
	"strings"

	"momopay-service/pkg/common"
)

// Callback is a parsed webhook body. Raw keeps the exact bytes received.
type Callback struct {
	Reference            string
	ResponseCode         string
	Status               string
	GatewayTransactionID string
	Raw                  []byte
}

// Outcome classifies the callback. The top-level status is preferred; the
// data status is used when the top level carries none.
func (c *Callback) Outcome() Outcome {
	return ClassifyCallback(c.ResponseCode, c.Status)
}

// ParseCallback decodes a webhook body. Bodies that are not JSON objects or
// carry no client reference are validation errors.
func ParseCallback(body []byte) (*Callback, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, common.NewError(common.KindValidation, "callback body must be a JSON object")
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, common.WrapError(common.KindValidation, err, "callback body is not valid JSON")
	}
	ref := strings.TrimSpace(env.reference())
	if ref == "" {
		return nil, common.NewError(common.KindValidation, "callback carries no client reference")
	}
	status := env.Status
	if strings.TrimSpace(status) == "" {
		status = env.Data.Status
	}
	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)
	return &Callback{
		Reference:            ref,
		ResponseCode:         strings.TrimSpace(env.ResponseCode),
		Status:               status,
		GatewayTransactionID: env.gatewayTransactionID(),
		Raw:                  raw,
	}, nil
}
