package mw

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// responseRecorder remembers the first status written through it.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(p)
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

func (rr *responseRecorder) code() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// hijackableRecorder is only handed out when the wrapped writer can hijack,
// so the websocket upgrader sees the same capability it would without us.
type hijackableRecorder struct {
	*responseRecorder
}

func (h hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h.status == 0 {
		h.status = http.StatusSwitchingProtocols
	}
	h.upgraded = true
	return h.ResponseWriter.(http.Hijacker).Hijack()
}

func record(w http.ResponseWriter) (http.ResponseWriter, *responseRecorder) {
	rec := &responseRecorder{ResponseWriter: w}
	if _, ok := w.(http.Hijacker); ok {
		return hijackableRecorder{rec}, rec
	}
	return rec, rec
}

// AccessLog writes one record per request once the handler returns. For live
// sessions that is when the socket closes, so duration is the session length.
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, rec := record(w)
		next.ServeHTTP(wrapped, r)

		status := rec.code()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Log(r.Context(), level, "request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientAddr(r),
			"status", status,
			"upgraded", rec.upgraded,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
