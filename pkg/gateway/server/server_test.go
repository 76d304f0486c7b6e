package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/voiceboard/pkg/core/reasoner"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

type noopReasoner struct{}

func (noopReasoner) Reason(context.Context, reasoner.Request) ([]sketch.Action, error) {
	return nil, nil
}

func testServer(cfg config.Config) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(cfg, logger, Deps{
		Verifier: auth.DevVerifier{},
		Transcriber: stt.TranscriberFunc(func(context.Context, []byte) (string, error) {
			return "", nil
		}),
		Reasoner:  noopReasoner{},
		Admitter:  ratelimit.New(ratelimit.Config{}),
		Limiter:   ratelimit.New(ratelimit.Config{MaxSessionsPerIdentity: 2}),
		Snapshots: snapshots.NewMemoryStore(),
		Metrics:   metrics.New("voiceboard_server_test"),
	})
}

func baseConfig() config.Config {
	return config.Config{
		AuthMode:           config.AuthModeDisabled,
		LLMProvider:        config.LLMProviderGroq,
		DeepgramAPIKey:     "dg",
		GroqAPIKey:         "gq",
		CORSAllowedOrigins: map[string]struct{}{},
		LiveWSWriteTimeout: time.Second,
		LiveWSPingInterval: time.Hour,
	}
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer(baseConfig())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestServer_HealthReadyMetricsReachable(t *testing.T) {
	s := testServer(baseConfig())
	h := s.Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}

	s.Lifecycle().BeginDrain(time.Now())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining readyz status=%d", rr.Code)
	}
}

func TestServer_LiveUpgradeThroughMiddleware(t *testing.T) {
	s := testServer(baseConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live?token=dev-token-0123456789"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "connected" {
		t.Fatalf("first message=%v", msg)
	}
}

func TestServer_ConnectRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.ConnectRateLimitMax = 1
	s := testServer(cfg)
	h := s.Handler()

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := do(); code != http.StatusUnauthorized {
		t.Fatalf("first attempt status=%d, want 401", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status=%d, want 429", code)
	}
}

func TestServer_ConnectRateLimitForwardedFor(t *testing.T) {
	for _, tc := range []struct {
		name   string
		trust  bool
		second int
	}{
		{name: "untrusted header is ignored", trust: false, second: http.StatusTooManyRequests},
		{name: "trusted header keys the limit", trust: true, second: http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.ConnectRateLimitMax = 1
			cfg.TrustProxyHeaders = tc.trust
			h := testServer(cfg).Handler()

			do := func(fwd string) int {
				req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
				req.RemoteAddr = "198.51.100.7:4000"
				req.Header.Set("X-Forwarded-For", fwd)
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, req)
				return rr.Code
			}
			if code := do("203.0.113.1"); code != http.StatusUnauthorized {
				t.Fatalf("first attempt status=%d, want 401", code)
			}
			if code := do("203.0.113.2"); code != tc.second {
				t.Fatalf("second attempt status=%d, want %d", code, tc.second)
			}
		})
	}
}

type countingVerifier struct {
	calls atomic.Int32
}

func (c *countingVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	c.calls.Add(1)
	return auth.DevVerifier{}.Verify(ctx, token)
}

func TestServer_LiveTokenVerifiedOnceByMiddleware(t *testing.T) {
	v := &countingVerifier{}
	s := New(baseConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)), Deps{
		Verifier: v,
		Transcriber: stt.TranscriberFunc(func(context.Context, []byte) (string, error) {
			return "", nil
		}),
		Reasoner: noopReasoner{},
	})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/live", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST status=%d, want 401 from the auth middleware", rr.Code)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/live?token=dev-token-0123456789", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "connected" {
		t.Fatalf("first message=%v err=%v", msg, err)
	}
	if n := v.calls.Load(); n != 1 {
		t.Fatalf("verifier calls=%d, want 1", n)
	}
}
