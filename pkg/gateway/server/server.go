package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/voiceboard/pkg/core/layout"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/handlers"
	"github.com/vango-go/voiceboard/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceboard/pkg/gateway/live/session"
	"github.com/vango-go/voiceboard/pkg/gateway/live/sessions"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/mw"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

// Deps are the collaborators built by the process entrypoint.
type Deps struct {
	Verifier    auth.Verifier
	Transcriber stt.Transcriber
	Reasoner    session.Reasoner
	Layouter    layout.Layouter

	// Admitter gates voice rounds; it may be shared through Redis.
	Admitter ratelimit.Admitter
	// Limiter holds the per-process session permits.
	Limiter   *ratelimit.Limiter
	Snapshots snapshots.Store
	Metrics   *metrics.Metrics

	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	ReadyChecks  map[string]handlers.Pinger
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.LiveSessions == nil {
		deps.LiveSessions = sessions.NewTracker()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Lifecycle:    s.deps.Lifecycle,
		LiveSessions: s.deps.LiveSessions,
		Dependencies: s.deps.ReadyChecks,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	var live http.Handler = handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Verifier:     s.deps.Verifier,
		Transcriber:  s.deps.Transcriber,
		Reasoner:     s.deps.Reasoner,
		Layouter:     s.deps.Layouter,
		Admitter:     s.deps.Admitter,
		Limiter:      s.deps.Limiter,
		Snapshots:    s.deps.Snapshots,
		Metrics:      s.deps.Metrics,
		Lifecycle:    s.deps.Lifecycle,
		LiveSessions: s.deps.LiveSessions,
	}
	if s.deps.Verifier != nil {
		live = mw.Auth(s.deps.Verifier, s.logger, live)
	}
	if s.cfg.ConnectRateLimitMax > 0 {
		live = mw.ConnectLimit(ratelimit.New(ratelimit.Config{
			Max:    s.cfg.ConnectRateLimitMax,
			Window: time.Minute,
		}), live)
	}
	s.mux.Handle("/v1/live", live)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	if s.cfg.TrustProxyHeaders {
		h = mw.ForwardedFor(h)
	}
	return h
}

func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

func (s *Server) LiveSessions() *sessions.Tracker { return s.deps.LiveSessions }
