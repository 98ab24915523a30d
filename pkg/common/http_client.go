package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// HTTPResponse is a raw upstream reply. Non-2xx statuses are not errors here;
// callers decide what a status means for their protocol.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

func (r *HTTPResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *HTTPResponse) Decode(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// HTTPClient sends bounded requests to an upstream API. Every call carries the
// client timeout; a limiter, when set, throttles outbound calls.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(timeout time.Duration, limiter *rate.Limiter) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Post sends payload as JSON. Errors are transport failures only.
func (c *HTTPClient) Post(ctx context.Context, url string, payload interface{}, headers map[string]string) (*HTTPResponse, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return c.do(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload), h)
}

// GetQuery sends a GET with the given query parameters appended to rawURL.
func (c *HTTPClient) GetQuery(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*HTTPResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return c.do(ctx, http.MethodGet, u.String(), nil, headers)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*HTTPResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &HTTPResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}
