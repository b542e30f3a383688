package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const authorizationHeader = "X-Bkapi-Authorization"

// ErrMissingCredentials is returned when neither app credentials nor OAuth2 are configured.
var ErrMissingCredentials = errors.New("missing gateway credentials: set app_code and app_secret, or oauth2.token_url")

// Credentials identify the calling app to the gateway.
type Credentials struct {
	AppCode   string
	AppSecret string
	Username  string
}

// OAuth2Config enables bearer-token authentication through the OAuth2
// client-credentials grant instead of app code/secret headers.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c *OAuth2Config) enabled() bool {
	return c != nil && strings.TrimSpace(c.TokenURL) != ""
}

type authHeader struct {
	AppCode   string `json:"bk_app_code"`
	AppSecret string `json:"bk_app_secret"`
	Username  string `json:"bk_username,omitempty"`
}

// headerAuthTransport sets the app authorization header on every request.
type headerAuthTransport struct {
	Base  http.RoundTripper
	value string
}

func (t *headerAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(authorizationHeader, t.value)

	return t.Base.RoundTrip(r)
}

func newHeaderAuthTransport(base http.RoundTripper, creds Credentials) (*headerAuthTransport, error) {
	if strings.TrimSpace(creds.AppCode) == "" || strings.TrimSpace(creds.AppSecret) == "" {
		return nil, ErrMissingCredentials
	}

	b, err := json.Marshal(authHeader{
		AppCode:   strings.TrimSpace(creds.AppCode),
		AppSecret: strings.TrimSpace(creds.AppSecret),
		Username:  strings.TrimSpace(creds.Username),
	})
	if err != nil {
		return nil, fmt.Errorf("encode authorization header: %w", err)
	}

	return &headerAuthTransport{Base: base, value: string(b)}, nil
}

// authTransport picks OAuth2 when configured, the app header otherwise.
func authTransport(ctx context.Context, base http.RoundTripper, opts Options) (http.RoundTripper, error) {
	if opts.OAuth2.enabled() {
		cfg := clientcredentials.Config{
			ClientID:     opts.OAuth2.ClientID,
			ClientSecret: opts.OAuth2.ClientSecret,
			TokenURL:     opts.OAuth2.TokenURL,
			Scopes:       opts.OAuth2.Scopes,
		}

		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: opts.timeout()})

		return &oauth2.Transport{Source: cfg.TokenSource(ctx), Base: base}, nil
	}

	return newHeaderAuthTransport(base, opts.Credentials)
}
