package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
)

const appOrigin = "https://board.example.com"

func corsHandler(origins ...string) (http.Handler, *bool) {
	allowed := map[string]struct{}{}
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	called := new(bool)
	return CORS(config.Config{CORSAllowedOrigins: allowed}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})), called
}

func TestCORS_SimpleRequests(t *testing.T) {
	cases := []struct {
		name       string
		allowlist  []string
		origin     string
		wantOrigin string
	}{
		{"disabled", nil, appOrigin, ""},
		{"listed", []string{appOrigin}, appOrigin, appOrigin},
		{"unlisted", []string{appOrigin}, "https://other.example.com", ""},
		{"no origin", []string{appOrigin}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, called := corsHandler(tc.allowlist...)
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.True(t, *called)
			assert.Equal(t, tc.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			if tc.wantOrigin != "" {
				assert.Equal(t, "Origin", rr.Header().Get("Vary"))
				assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	h, called := corsHandler(appOrigin)

	req := httptest.NewRequest(http.MethodOptions, "/v1/live", nil)
	req.Header.Set("Origin", appOrigin)
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, *called)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, appOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "GET, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/live", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, *called)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOriginAllowed(t *testing.T) {
	allowed := map[string]struct{}{appOrigin: {}}
	assert.True(t, OriginAllowed(allowed, ""), "non-browser clients pass")
	assert.True(t, OriginAllowed(allowed, " "+appOrigin))
	assert.False(t, OriginAllowed(allowed, "https://evil.example.com"))
	assert.False(t, OriginAllowed(nil, appOrigin))
}
