package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Options)) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := Options{
		BaseURL:     srv.URL,
		Gateway:     "demo",
		Credentials: Credentials{AppCode: "app", AppSecret: "secret", Username: "admin"},
		Comment:     "ci release",
	}
	for _, m := range mutate {
		m(&opts)
	}

	c, err := New(context.Background(), opts)
	require.NoError(t, err)

	// Keep tests fast: no retry sleeps.
	c.http.Transport.(*RetryTransport).BaseDelay = 0

	return c
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, code int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"result":  code == 0,
		"message": "msg",
		"data":    data,
	}))
}

func TestLatestResourceVersion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/apis/demo/resource_versions/latest/", r.URL.Path)

		var auth authHeader
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get(authorizationHeader)), &auth))
		assert.Equal(t, "app", auth.AppCode)
		assert.Equal(t, "secret", auth.AppSecret)
		assert.Equal(t, "admin", auth.Username)

		writeEnvelope(t, w, http.StatusOK, 0, map[string]any{
			"id": 12, "name": "demo_20240101", "version": "1.0.0", "title": "1.0.0",
		})
	})

	rv, err := c.LatestResourceVersion(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rv)
	assert.Equal(t, "demo_20240101", rv.Name)
	assert.Equal(t, "1.0.0", rv.Version)
	assert.Equal(t, 12, rv.ID)
}

func TestLatestResourceVersion_None(t *testing.T) {
	for name, data := range map[string]any{"null": nil, "empty object": map[string]any{}} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 0, data)
			})

			rv, err := c.LatestResourceVersion(context.Background())
			require.NoError(t, err)
			assert.Nil(t, rv)
		})
	}
}

func TestCreateResourceVersion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/apis/demo/resource_versions/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body createResourceVersionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1.0.1", body.Version)
		assert.Equal(t, "1.0.1", body.Title)
		assert.Equal(t, "ci release", body.Comment)

		writeEnvelope(t, w, http.StatusOK, 0, map[string]any{"name": "demo_101"})
	})

	rv, err := c.CreateResourceVersion(context.Background(), "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, "demo_101", rv.Name)
	assert.Equal(t, "1.0.1", rv.Version)
}

func TestBadGateway_CreateSentOnceLatestRetried(t *testing.T) {
	var creates, latest atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			creates.Add(1)
		} else {
			latest.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateResourceVersion(context.Background(), "1.0.0")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(1), creates.Load())

	_, err = c.LatestResourceVersion(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), latest.Load())
}

func TestCreateResourceVersion_UsesConfiguredTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body createResourceVersionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "spring release", body.Title)

		writeEnvelope(t, w, http.StatusOK, 0, map[string]any{"name": "demo_2"})
	}, func(o *Options) { o.Title = "spring release" })

	_, err := c.CreateResourceVersion(context.Background(), "2.0.0")
	require.NoError(t, err)
}

func TestCreateResourceVersion_MissingName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, http.StatusOK, 0, map[string]any{})
	})

	_, err := c.CreateResourceVersion(context.Background(), "1.0.0")
	require.Error(t, err)
}

func TestRelease(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/apis/demo/resource_versions/release/", r.URL.Path)

		var body releaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "demo_101", body.ResourceVersionName)
		assert.Equal(t, []string{"stag", "prod"}, body.StageNames)

		writeEnvelope(t, w, http.StatusOK, 0, map[string]any{
			"resource_version_name":  "demo_101",
			"resource_version_title": "1.0.1",
			"stage_names":            []string{"stag", "prod"},
		})
	})

	res, err := c.Release(context.Background(), "demo_101", []string{"stag", "prod"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", res.ResourceVersionTitle)
	assert.Equal(t, []string{"stag", "prod"}, res.StageNames)
}

func TestRelease_FillsMissingFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, http.StatusOK, 0, nil)
	})

	res, err := c.Release(context.Background(), "demo_1", []string{"prod"})
	require.NoError(t, err)
	assert.Equal(t, "demo_1", res.ResourceVersionName)
	assert.Equal(t, []string{"prod"}, res.StageNames)
}

func TestDo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "envelope failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, http.StatusOK, 40001, nil)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, 40001, apiErr.Code)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, "bad app secret")
			},
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				require.True(t, errors.As(err, &authErr))
				assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var nf *NotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, "demo", nf.Gateway)
			},
		},
		{
			name: "non-json server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = io.WriteString(w, "<html>bad gateway</html>")
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
			},
		},
		{
			name: "non-json success",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "ok")
			},
			check: func(t *testing.T, err error) {
				require.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.LatestResourceVersion(context.Background())
			tt.check(t, err)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	creds := Credentials{AppCode: "app", AppSecret: "secret"}

	_, err := New(ctx, Options{Gateway: "demo", Credentials: creds})
	require.Error(t, err, "missing url")

	_, err = New(ctx, Options{BaseURL: "http://gw.example.com", Credentials: creds})
	require.Error(t, err, "missing gateway")

	_, err = New(ctx, Options{BaseURL: "http://gw.example.com", Gateway: "demo"})
	require.ErrorIs(t, err, ErrMissingCredentials)

	c, err := New(ctx, Options{BaseURL: "http://gw.example.com/", Gateway: "demo", Credentials: creds})
	require.NoError(t, err)
	assert.Equal(t, "http://gw.example.com/api/v1/apis/demo/resource_versions/", c.endpoint("resource_versions/"))
	assert.Equal(t, "demo", c.Gateway())
}

func TestOAuth2BearerToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get(authorizationHeader))

		writeEnvelope(t, w, http.StatusOK, 0, nil)
	}, func(o *Options) {
		o.Credentials = Credentials{}
		o.OAuth2 = &OAuth2Config{TokenURL: tokenSrv.URL, ClientID: "id", ClientSecret: "secret"}
	})

	_, err := c.LatestResourceVersion(context.Background())
	require.NoError(t, err)
}
