package mw

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/gateway/apierror"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
)

// ConnectLimit bounds websocket upgrade attempts per client address. It runs
// ahead of token verification so unauthenticated floods are refused cheaply.
func ConnectLimit(admitter ratelimit.Admitter, next http.Handler) http.Handler {
	if admitter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		dec, err := admitter.Allow(r.Context(), "addr:"+clientAddr(r), time.Now())
		if err == nil && !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			apierror.Write(w, reqID, core.NewAdmissionRejected("too many connection attempts", dec.RetryAfter), 0)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ForwardedFor replaces r.RemoteAddr with the first X-Forwarded-For address.
// Only install it behind a proxy that overwrites the header; otherwise any
// client can pick its own address.
func ForwardedFor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
