package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceboard/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is a backing store readiness can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config       config.Config
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	// Dependencies are probed by name on every request.
	Dependencies map[string]Pinger
	PingTimeout  time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool   `json:"ok"`
		Draining       bool   `json:"draining"`
		AuthMode       string `json:"auth_mode"`
		LLMProvider    string `json:"llm_provider"`
		ActiveSessions int    `json:"active_sessions"`
		// Age of the longest-lived session, useful when waiting out a drain.
		OldestSessionAge float64  `json:"oldest_session_age_seconds"`
		Issues           []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}
	if missing := h.Config.ProviderKeyMissing(); missing != "" {
		issues = append(issues, missing+" is not set")
	}

	timeout := h.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	for name, dep := range h.Dependencies {
		if dep == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		err := dep.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, name+" unreachable")
		}
	}

	active := h.LiveSessions.Active()
	var oldest float64
	if len(active) > 0 {
		oldest = time.Since(active[0].StartedAt).Seconds()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:               ok,
		Draining:         h.Lifecycle.IsDraining(),
		AuthMode:         string(h.Config.AuthMode),
		LLMProvider:      string(h.Config.LLMProvider),
		ActiveSessions:   len(active),
		OldestSessionAge: oldest,
		Issues:           issues,
	})
}
