package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/voiceboard/pkg/gateway/config"
)

const preflightMaxAge = "600"

// corsHeaders lists what the browser client needs for the websocket handshake
// and the health probes.
var corsHeaders = struct {
	methods, allow, expose string
}{
	methods: "GET, OPTIONS",
	allow:   "Authorization, Content-Type, X-Request-ID",
	expose:  "X-Request-ID, Retry-After",
}

// OriginAllowed reports whether a browser origin may open a live session. A
// request without an Origin header is not a browser and is allowed.
func OriginAllowed(allowed map[string]struct{}, origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	_, ok := allowed[origin]
	return ok
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// CORS answers preflights for allowlisted origins and decorates their normal
// responses. An empty allowlist disables CORS entirely.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		_, listed := allowed[origin]
		listed = listed && origin != ""

		h := w.Header()
		if listed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}

		if !isPreflight(r) {
			if listed {
				h.Set("Access-Control-Expose-Headers", corsHeaders.expose)
			}
			next.ServeHTTP(w, r)
			return
		}

		if !listed {
			http.Error(w, "cors preflight not allowed", http.StatusForbidden)
			return
		}
		h.Set("Access-Control-Allow-Methods", corsHeaders.methods)
		h.Set("Access-Control-Allow-Headers", corsHeaders.allow)
		h.Set("Access-Control-Max-Age", preflightMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}
