package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kubot64/apigw-release/internal/logging"
)

const (
	maxRetries429    = 3
	maxRetries5xx    = 1
	defaultBaseDelay = 1 * time.Second
	maxRetryDelay    = 30 * time.Second
)

// RetryTransport retries 429 responses for any method and 5xx responses for
// GET and HEAD only. A 5xx on a POST may arrive after the gateway committed
// it. Delays grow exponentially from BaseDelay unless the server sends
// Retry-After.
type RetryTransport struct {
	Base          http.RoundTripper
	MaxRetries429 int
	MaxRetries5xx int
	BaseDelay     time.Duration
	Logger        *slog.Logger
}

// NewRetryTransport creates a RetryTransport with default limits.
func NewRetryTransport(base http.RoundTripper) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &RetryTransport{
		Base:          base,
		MaxRetries429: maxRetries429,
		MaxRetries5xx: maxRetries5xx,
		BaseDelay:     defaultBaseDelay,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := ensureReplayableBody(req); err != nil {
		return nil, err
	}

	bo := t.newBackOff()
	retries429 := 0
	retries5xx := 0

	for {
		if req.GetBody != nil {
			if req.Body != nil {
				_ = req.Body.Close()
			}

			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("reset request body: %w", err)
			}
			req.Body = body
		}

		resp, err := t.Base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip: %w", err)
		}

		var retry bool
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retry = retries429 < t.MaxRetries429
			retries429++
		case resp.StatusCode >= http.StatusInternalServerError && idempotent(req.Method):
			retry = retries5xx < t.MaxRetries5xx
			retries5xx++
		}

		if !retry {
			return resp, nil
		}

		delay := bo.NextBackOff()
		if d, ok := retryAfter(resp); ok {
			delay = d
		}
		drainAndClose(resp.Body)

		t.logger().Debug("retrying gateway request",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"delay", delay,
		)

		if err := sleep(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (t *RetryTransport) newBackOff() backoff.BackOff {
	if t.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

func (t *RetryTransport) logger() *slog.Logger {
	if t.Logger == nil {
		return logging.Discard()
	}

	return t.Logger
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(seconds)*time.Second, 0), true
	}

	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}

	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}

func newBaseTransport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok || base == nil {
		return &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else if transport.TLSClientConfig.MinVersion < tls.VersionTLS12 {
		transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	}

	return transport
}

func ensureReplayableBody(req *http.Request) error {
	if req == nil || req.Body == nil || req.GetBody != nil {
		return nil
	}

	b, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	_ = req.Body.Close()

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.Body = io.NopCloser(bytes.NewReader(b))

	return nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
