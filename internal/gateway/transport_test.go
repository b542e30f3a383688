package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// scriptedTransport replays canned responses and records request bodies.
type scriptedTransport struct {
	responses []*http.Response
	bodies    []string
	calls     int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}

	if s.calls >= len(s.responses) {
		s.calls++
		return stubResponse(http.StatusOK), nil
	}

	resp := s.responses[s.calls]
	s.calls++

	return resp, nil
}

func stubResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func instantRetry(base http.RoundTripper) *RetryTransport {
	return &RetryTransport{Base: base, MaxRetries429: 3, MaxRetries5xx: 1}
}

func getRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://gw.example.com", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestRetryTransport_StatusHandling(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		wantStatus int
		wantCalls  int
	}{
		{name: "200 no retry", statuses: []int{200}, wantStatus: 200, wantCalls: 1},
		{name: "404 no retry", statuses: []int{404}, wantStatus: 404, wantCalls: 1},
		{name: "429 then success", statuses: []int{429, 429, 200}, wantStatus: 200, wantCalls: 3},
		{name: "429 exhausts retries", statuses: []int{429, 429, 429, 429}, wantStatus: 429, wantCalls: 4},
		{name: "500 retried once", statuses: []int{500, 200}, wantStatus: 200, wantCalls: 2},
		{name: "503 exhausts retries", statuses: []int{503, 503}, wantStatus: 503, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedTransport{}
			for _, s := range tt.statuses {
				base.responses = append(base.responses, stubResponse(s))
			}

			resp, err := instantRetry(base).RoundTrip(getRequest(t))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if base.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", base.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_PostNotRetriedOn5xx(t *testing.T) {
	for _, status := range []int{500, 502, 503} {
		base := &scriptedTransport{responses: []*http.Response{stubResponse(status), stubResponse(200)}}

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://gw.example.com",
			strings.NewReader(`{"version":"1.0.0"}`))
		if err != nil {
			t.Fatal(err)
		}

		resp, err := instantRetry(base).RoundTrip(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != status || base.calls != 1 {
			t.Errorf("status=%d calls=%d, want %d and 1", resp.StatusCode, base.calls, status)
		}
	}
}

func TestRetryTransport_NoRetryWhenMaxZero(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{stubResponse(500)}}
	rt := &RetryTransport{Base: base}

	resp, err := rt.RoundTrip(getRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 500 || base.calls != 1 {
		t.Fatalf("status=%d calls=%d, want 500 and 1", resp.StatusCode, base.calls)
	}
}

func TestRetryTransport_ReplaysBody(t *testing.T) {
	base := &scriptedTransport{responses: []*http.Response{stubResponse(429), stubResponse(200)}}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://gw.example.com",
		io.NopCloser(strings.NewReader(`{"version":"1.0.0"}`)))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := instantRetry(base).RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	if len(base.bodies) != 2 {
		t.Fatalf("bodies = %d, want 2", len(base.bodies))
	}
	for i, b := range base.bodies {
		if b != `{"version":"1.0.0"}` {
			t.Errorf("body %d = %q", i, b)
		}
	}
}

func TestRetryTransport_RetryAfterHeader(t *testing.T) {
	throttled := stubResponse(429)
	throttled.Header.Set("Retry-After", "0")
	base := &scriptedTransport{responses: []*http.Response{throttled, stubResponse(200)}}

	rt := instantRetry(base)
	rt.BaseDelay = time.Hour

	resp, err := rt.RoundTrip(getRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRetryTransport_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	base := &scriptedTransport{responses: []*http.Response{stubResponse(429)}}
	rt := instantRetry(base)
	rt.BaseDelay = time.Hour

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://gw.example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Error("expected error when context is cancelled")
	}
}

func TestRetryAfter(t *testing.T) {
	resp := stubResponse(429)
	if _, ok := retryAfter(resp); ok {
		t.Fatal("no header should not parse")
	}

	resp.Header.Set("Retry-After", "2")
	if d, ok := retryAfter(resp); !ok || d != 2*time.Second {
		t.Fatalf("retryAfter = %v, %v", d, ok)
	}

	resp.Header.Set("Retry-After", "-5")
	if d, ok := retryAfter(resp); !ok || d != 0 {
		t.Fatalf("negative retryAfter = %v, %v", d, ok)
	}

	resp.Header.Set("Retry-After", "soon")
	if _, ok := retryAfter(resp); ok {
		t.Fatal("garbage should not parse")
	}
}

func TestNewBackOff_Grows(t *testing.T) {
	rt := &RetryTransport{BaseDelay: 100 * time.Millisecond}
	bo := rt.newBackOff()

	first := bo.NextBackOff()
	if first < 50*time.Millisecond || first > 150*time.Millisecond {
		t.Fatalf("first delay %v outside jitter range", first)
	}

	for i := 0; i < 10; i++ {
		if d := bo.NextBackOff(); d > maxRetryDelay+maxRetryDelay/2 {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
}
