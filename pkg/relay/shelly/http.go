package shelly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// relayStatus is the response body of GET /relay/<ch>.
type relayStatus struct {
	IsOn   bool   `json:"ison"`
	Source string `json:"source"`
}

// StatusError is returned when the device answers with a non-200 status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "shelly returned status " + http.StatusText(e.StatusCode)
}

// HTTPSwitch switches a relay through the device's local HTTP API.
type HTTPSwitch struct {
	client  *retryablehttp.Client
	baseURL string
	channel int
	timeout time.Duration
}

// NewHTTPSwitch creates a switch for the device at baseURL ("http://10.0.0.7").
func NewHTTPSwitch(baseURL string, channel int, timeout time.Duration, retries int) *HTTPSwitch {
	return &HTTPSwitch{
		client:  CreateRetryableClient(retries, 200*time.Millisecond, 2*time.Second),
		baseURL: baseURL,
		channel: channel,
		timeout: timeout,
	}
}

// CreateRetryableClient creates a retryable HTTP client for relay commands.
func CreateRetryableClient(retryMax int, retryWaitMin, retryWaitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil
	client.CheckRetry = retryPolicy
	return client
}

// retryPolicy retries connection errors and 5xx answers. A 4xx means the
// request itself is wrong and is returned as-is.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil //nolint:nilerr // retryablehttp reports the final error
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// PowerOn implements types.PowerSwitch.
func (s *HTTPSwitch) PowerOn(ctx context.Context) error {
	return s.turn(ctx, true)
}

// PowerOff implements types.PowerSwitch.
func (s *HTTPSwitch) PowerOff(ctx context.Context) error {
	return s.turn(ctx, false)
}

func (s *HTTPSwitch) turn(ctx context.Context, on bool) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/relay/%d?turn=%s", s.baseURL, s.channel, onOff(on))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode}
	}

	var status relayStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("invalid relay response: %w", err)
	}
	if status.IsOn != on {
		return fmt.Errorf("relay %d reports ison=%t after turn=%s", s.channel, status.IsOn, onOff(on))
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
