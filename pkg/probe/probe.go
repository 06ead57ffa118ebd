// Package probe implements the Home Assistant health probe.
//
// A probe is a sequence of HTTP checks against the monitored instance: the
// watchdog webhook (POST) followed by a static file served by the frontend
// (GET). The webhook alone can answer while the frontend is wedged, so both
// have to succeed for the probe to count as a success.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Error kinds reported in Failure.Kind.
const (
	KindRequest    = "RequestCreation"
	KindTimeout    = "Timeout"
	KindCanceled   = "Canceled"
	KindDNS        = "DNS"
	KindConnection = "Connection"
	KindTLS        = "TLS"
	KindNetwork    = "Network"
	KindHTTPStatus = "HTTPStatus"
)

const userAgent = "hass-watchdog/1.0"

// Endpoint is one step of the probe sequence.
type Endpoint struct {
	// Name identifies the endpoint in logs and errors ("webhook", "frontend").
	Name   string
	URL    string
	Method string
}

// Failure is returned when any endpoint of the sequence fails.
type Failure struct {
	Endpoint   string
	URL        string
	Kind       string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.Kind == KindHTTPStatus {
		return fmt.Sprintf("%s probe failed: HTTP status %d", f.Endpoint, f.StatusCode)
	}
	return fmt.Sprintf("%s probe failed (%s): %v", f.Endpoint, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsFailure reports whether err is a probe failure and returns it.
func IsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// HTTPProber runs the endpoint sequence with a bounded timeout per request.
type HTTPProber struct {
	client    *http.Client
	endpoints []Endpoint
	timeout   time.Duration
}

// Option customises an HTTPProber.
type Option func(*HTTPProber)

// WithHTTPClient replaces the default client, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProber) {
		p.client = c
	}
}

// Endpoints returns the probe sequence for a target: the webhook first, then
// the frontend file.
func Endpoints(target types.TargetConfig) []Endpoint {
	return []Endpoint{
		{Name: "webhook", URL: target.PrimaryURL(), Method: http.MethodPost},
		{Name: "frontend", URL: target.SecondaryURL(), Method: http.MethodGet},
	}
}

// NewHTTPProber creates a prober for the given endpoints.
func NewHTTPProber(endpoints []Endpoint, timeout time.Duration, opts ...Option) *HTTPProber {
	p := &HTTPProber{
		client:    newDefaultHTTPClient(),
		endpoints: endpoints,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewTargetProber is a shorthand for NewHTTPProber(Endpoints(target), ...).
func NewTargetProber(target types.TargetConfig, timeout time.Duration, opts ...Option) *HTTPProber {
	return NewHTTPProber(Endpoints(target), timeout, opts...)
}

// SetTimeout changes the per-request timeout. Not safe to call while Probe
// is running; the loop applies it between cycles.
func (p *HTTPProber) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// Timeout returns the per-request timeout.
func (p *HTTPProber) Timeout() time.Duration {
	return p.timeout
}

// Probe checks every endpoint in order and stops at the first failure.
// It returns nil when all endpoints answered with a 2xx or 3xx status.
func (p *HTTPProber) Probe(ctx context.Context) error {
	if len(p.endpoints) == 0 {
		return fmt.Errorf("no probe endpoints configured")
	}
	for _, ep := range p.endpoints {
		if err := p.check(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

func (p *HTTPProber) check(ctx context.Context, ep Endpoint) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, ep.URL, nil)
	if err != nil {
		return &Failure{Endpoint: ep.Name, URL: ep.URL, Kind: KindRequest, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return &Failure{Endpoint: ep.Name, URL: ep.URL, Kind: classifyHTTPError(err), Err: err}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused on the next cycle.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return &Failure{
			Endpoint:   ep.Name,
			URL:        ep.URL,
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return nil
}

func newDefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			// Home Assistant is commonly served with a self-signed certificate
			// on the LAN; this probe checks liveness, not certificate validity.
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		// 3xx counts as alive; do not chase redirects to login pages.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// classifyHTTPError classifies a transport error for diagnostics.
func classifyHTTPError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnection
	}

	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return KindTLS
	}

	return KindNetwork
}
