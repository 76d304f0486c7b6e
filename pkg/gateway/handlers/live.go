package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/core/layout"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/apierror"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceboard/pkg/gateway/live/session"
	"github.com/vango-go/voiceboard/pkg/gateway/live/sessions"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/mw"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

// LiveHandler handles /v1/live websocket sessions. Everything that can be
// refused (method, drain, origin, token, session cap) is refused with a plain
// HTTP status before the upgrade.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Verifier     auth.Verifier
	Transcriber  stt.Transcriber
	Reasoner     session.Reasoner
	Layouter     layout.Layouter
	Admitter     ratelimit.Admitter
	Limiter      *ratelimit.Limiter
	Snapshots    snapshots.Store
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		apierror.Write(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, 0)
		return
	}
	if !mw.OriginAllowed(h.Config.CORSAllowedOrigins, r.Header.Get("Origin")) {
		apierror.Write(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, 0)
		return
	}

	principal, err := auth.Authenticate(r, h.Verifier)
	if err != nil {
		h.Metrics.RecordError(string(core.ErrAuthentication))
		apierror.Write(w, reqID, err, http.StatusUnauthorized)
		return
	}

	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession(principal.Identity, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("sessions")
			apierror.Write(w, reqID, core.NewAdmissionRejected("too many active live sessions", dec.RetryAfter), 0)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.LiveHandshakeTimeout,
		// Origin was checked above against the allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "s_" + uuid.NewString()
	logger := h.logger().With("session_id", sessionID, "request_id", reqID, "identity", principal.Identity)

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      logger,
		Transcriber: h.Transcriber,
		Reasoner:    h.Reasoner,
		Layouter:    h.Layouter,
		Admitter:    h.Admitter,
		Snapshots:   h.Snapshots,
		Metrics:     h.Metrics,
		Identity:    principal.Identity,
		SessionID:   sessionID,
		RequestID:   reqID,
		Config:      h.sessionConfig(),
	})
	if err != nil {
		logger.Error("live session init failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(time.Second))
		return
	}

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		Identity: principal.Identity,
		Cancel:   s.Cancel,
		Warn:     s.SendWarning,
	})
	defer unregister()

	logger.Info("live session started")
	if err := s.Run(); err != nil {
		logger.Warn("live session ended with error", "error", err)
		return
	}
	logger.Info("live session ended")
}

func (h LiveHandler) sessionConfig() session.Config {
	// The reasoner bounds each attempt; the round allows all of them.
	reasonTimeout := h.Config.ReasonTimeout * time.Duration(max(1, h.Config.ReasonMaxAttempts))
	return session.Config{
		MaxAudioBytes:       h.Config.MaxAudioBytes,
		MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		ErrorDisplayDelay:   h.Config.ErrorDisplayDelay,
		TranscribeTimeout:   h.Config.TranscribeTimeout,
		ReasonTimeout:       reasonTimeout,
		LayoutTimeout:       h.Config.LayoutTimeout,
		HistorySize:         h.Config.HistorySize,
		PingInterval:        h.Config.LiveWSPingInterval,
		WriteTimeout:        h.Config.LiveWSWriteTimeout,
		ReadTimeout:         h.Config.LiveWSReadTimeout,
	}
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
