// Package gateway is a client for the API gateway management API. It
// fetches the latest resource version, creates resource versions and
// releases them to stages.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kubot64/apigw-release/internal/logging"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 10 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Gateway     string
	Credentials Credentials
	OAuth2      *OAuth2Config
	Timeout     time.Duration
	// Title and Comment are attached to created resource versions and releases.
	Title   string
	Comment string
	Logger  *slog.Logger
	// Transport replaces the default network transport; tests use it.
	Transport http.RoundTripper
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultHTTPTimeout
	}

	return o.Timeout
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	gateway string
	title   string
	comment string
	http    *http.Client
	logger  *slog.Logger
}

// New builds a Client with retry and authentication transports.
func New(ctx context.Context, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway api url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway api url %q: %w", baseURL, err)
	}

	gateway := strings.TrimSpace(opts.Gateway)
	if gateway == "" {
		return nil, errors.New("gateway name is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var base http.RoundTripper = opts.Transport
	if base == nil {
		base = newBaseTransport()
	}

	authed, err := authTransport(ctx, base, opts)
	if err != nil {
		return nil, err
	}

	retry := NewRetryTransport(authed)
	retry.Logger = logger

	return &Client{
		baseURL: baseURL,
		gateway: gateway,
		title:   opts.Title,
		comment: opts.Comment,
		http:    &http.Client{Transport: retry, Timeout: opts.timeout()},
		logger:  logger,
	}, nil
}

// Gateway returns the gateway name the client is bound to.
func (c *Client) Gateway() string {
	return c.gateway
}

// LatestResourceVersion returns the newest resource version, or nil when
// the gateway has none yet.
func (c *Client) LatestResourceVersion(ctx context.Context) (*ResourceVersion, error) {
	var rv *ResourceVersion
	if err := c.do(ctx, "latest resource version", http.MethodGet, "resource_versions/latest/", nil, &rv); err != nil {
		return nil, err
	}

	if rv == nil || (rv.Name == "" && rv.Version == "" && rv.Title == "") {
		return nil, nil
	}

	return rv, nil
}

// CreateResourceVersion snapshots the current resources as version.
func (c *Client) CreateResourceVersion(ctx context.Context, version string) (ResourceVersion, error) {
	title := c.title
	if title == "" {
		title = version
	}

	var rv ResourceVersion
	err := c.do(ctx, "create resource version", http.MethodPost, "resource_versions/", createResourceVersionRequest{
		Version: version,
		Title:   title,
		Comment: c.comment,
	}, &rv)
	if err != nil {
		return ResourceVersion{}, err
	}

	if rv.Name == "" {
		return ResourceVersion{}, fmt.Errorf("create resource version: response has no name")
	}
	if rv.Version == "" {
		rv.Version = version
	}

	return rv, nil
}

// Release publishes resourceVersionName to the given stages.
func (c *Client) Release(ctx context.Context, resourceVersionName string, stageNames []string) (ReleaseResult, error) {
	var res ReleaseResult
	err := c.do(ctx, "release", http.MethodPost, "resource_versions/release/", releaseRequest{
		ResourceVersionName: resourceVersionName,
		StageNames:          stageNames,
		Comment:             c.comment,
	}, &res)
	if err != nil {
		return ReleaseResult{}, err
	}

	if res.ResourceVersionName == "" {
		res.ResourceVersionName = resourceVersionName
	}
	if len(res.StageNames) == 0 {
		res.StageNames = stageNames
	}

	return res, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/v1/apis/%s/%s", c.baseURL, url.PathEscape(c.gateway), path)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("gateway request", "op", op, "method", method, "url", req.URL.Redacted())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Operation: op, StatusCode: resp.StatusCode, Message: snippet(raw)}
	case http.StatusNotFound:
		return &NotFoundError{Operation: op, Gateway: c.gateway}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: snippet(raw)}
		}

		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || env.Code != 0 || (env.Result != nil && !*env.Result) {
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}

	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256] + "..."
	}

	return s
}
