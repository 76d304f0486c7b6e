package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/voiceboard/internal/dotenv"
	"github.com/vango-go/voiceboard/pkg/core/breaker"
	"github.com/vango-go/voiceboard/pkg/core/layout"
	"github.com/vango-go/voiceboard/pkg/core/providers/gemini"
	"github.com/vango-go/voiceboard/pkg/core/providers/groq"
	"github.com/vango-go/voiceboard/pkg/core/reasoner"
	"github.com/vango-go/voiceboard/pkg/core/voice/stt"
	"github.com/vango-go/voiceboard/pkg/gateway/auth"
	"github.com/vango-go/voiceboard/pkg/gateway/config"
	"github.com/vango-go/voiceboard/pkg/gateway/handlers"
	"github.com/vango-go/voiceboard/pkg/gateway/metrics"
	"github.com/vango-go/voiceboard/pkg/gateway/ratelimit"
	gatewayserver "github.com/vango-go/voiceboard/pkg/gateway/server"
	"github.com/vango-go/voiceboard/pkg/gateway/snapshots"
)

const drainMessage = "Server is restarting. Please reconnect shortly."

type appDeps struct {
	loadConfig   func() (config.Config, error)
	buildDeps    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig: config.LoadFromEnv,
		buildDeps:  buildGatewayDeps,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func breakerConfig(cfg config.Config) breaker.Config {
	bc := breaker.DefaultConfig()
	bc.Timeout = cfg.BreakerOpenTimeout
	bc.FailureThreshold = cfg.BreakerFailureThreshold
	bc.MinRequests = uint32(cfg.BreakerMinRequests)
	return bc
}

func buildVerifier(cfg config.Config) (auth.Verifier, error) {
	if cfg.AuthMode == config.AuthModeDisabled {
		return auth.DevVerifier{}, nil
	}
	return auth.NewJWTVerifier(auth.JWTConfig{
		SigningMethod: cfg.JWTSigningMethod,
		PublicKey:     cfg.JWTPublicKey,
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
}

func buildTranscriber(cfg config.Config, logger *slog.Logger) stt.Transcriber {
	opts := []stt.DeepgramOption{
		stt.WithDeepgramBaseURL(cfg.DeepgramBaseURL),
		stt.WithDeepgramModel(cfg.DeepgramModel),
		stt.WithDeepgramRetries(uint64(cfg.DeepgramRetries), 0),
		stt.WithDeepgramHTTPClient(&http.Client{Timeout: cfg.TranscribeTimeout}),
		stt.WithDeepgramLogger(logger),
	}
	if cfg.BreakerEnabled {
		opts = append(opts, stt.WithDeepgramBreaker(breaker.New("deepgram", breakerConfig(cfg), logger)))
	}
	return stt.NewDeepgram(cfg.DeepgramAPIKey, opts...)
}

func buildGenerator(cfg config.Config) reasoner.Generator {
	client := &http.Client{Timeout: cfg.ReasonTimeout}
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		return gemini.New(cfg.GeminiAPIKey,
			gemini.WithModel(cfg.LLMModel),
			gemini.WithHTTPClient(client),
		)
	default:
		return groq.New(cfg.GroqAPIKey,
			groq.WithBaseURL(cfg.GroqBaseURL),
			groq.WithModel(cfg.LLMModel),
			groq.WithHTTPClient(client),
		)
	}
}

func buildReasoner(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*reasoner.Reasoner, error) {
	opts := []reasoner.Option{reasoner.WithLogger(logger)}
	if cfg.BreakerEnabled {
		opts = append(opts, reasoner.WithBreaker(breaker.New(string(cfg.LLMProvider), breakerConfig(cfg), logger)))
	}
	return reasoner.New(buildGenerator(cfg), reasoner.Config{
		MaxAttempts:    cfg.ReasonMaxAttempts,
		AttemptTimeout: cfg.ReasonTimeout,
		Observe: func(attempts int, _ error) {
			m.RecordReasonerAttempts(attempts)
		},
	}, opts...)
}

// buildGatewayDeps wires providers and stores. The returned cleanup closes
// whatever was opened.
func buildGatewayDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	m := metrics.New("voiceboard")
	verifier, err := buildVerifier(cfg)
	if err != nil {
		return gatewayserver.Deps{}, cleanup, fmt.Errorf("auth: %w", err)
	}
	rsn, err := buildReasoner(cfg, m, logger)
	if err != nil {
		return gatewayserver.Deps{}, cleanup, fmt.Errorf("reasoner: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Max:                    cfg.RateLimitMax,
		Window:                 cfg.RateLimitWindow,
		MaxSessionsPerIdentity: cfg.MaxSessionsPerIdentity,
	})
	readyChecks := map[string]handlers.Pinger{}

	var admitter ratelimit.Admitter = limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return gatewayserver.Deps{}, cleanup, fmt.Errorf("redis url: %w", err)
		}
		rl := ratelimit.NewRedis(redis.NewClient(opts), cfg.RateLimitMax, cfg.RateLimitWindow)
		closers = append(closers, func() { _ = rl.Close() })
		if err := rl.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup; admission fails open until it is", "error", err)
		}
		admitter = rl
		readyChecks["redis"] = rl
	}

	var store snapshots.Store = snapshots.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pg, err := snapshots.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			cleanup()
			return gatewayserver.Deps{}, func() {}, fmt.Errorf("snapshots: %w", err)
		}
		closers = append(closers, pg.Close)
		store = pg
		readyChecks["postgres"] = pg
	}

	return gatewayserver.Deps{
		Verifier:    verifier,
		Transcriber: buildTranscriber(cfg, logger),
		Reasoner:    rsn,
		Layouter:    layout.Default(),
		Admitter:    admitter,
		Limiter:     limiter,
		Snapshots:   store,
		Metrics:     m,
		ReadyChecks: readyChecks,
	}, cleanup, nil
}

func runServer(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	if deps.loadConfig == nil || deps.buildDeps == nil {
		return errors.New("missing startup dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if missing := cfg.ProviderKeyMissing(); missing != "" {
		logger.Warn("provider key not set; rounds will fail until it is", "env", missing)
	}

	gwDeps, cleanup, err := deps.buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	gw := gatewayserver.New(cfg, logger, gwDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	logger.Info("starting voiceboard", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "llm_provider", cfg.LLMProvider)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		}
		return drain(cfg, logger, gw, httpSrv)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("voiceboard stopped")
	return nil
}

// drain stops accepting sessions, tells connected canvases, and waits out the
// grace period before cancelling whatever is left.
func drain(cfg config.Config, logger *slog.Logger, gw *gatewayserver.Server, httpSrv *http.Server) error {
	gw.Lifecycle().BeginDrain(time.Now())
	warned := gw.LiveSessions().WarnAll("draining", drainMessage)
	logger.Info("draining live sessions", "sessions", warned)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("http server stopped; waiting for live sessions", "remaining", gw.LiveSessions().Count())
	if !gw.LiveSessions().Wait(shutdownCtx) {
		n := gw.LiveSessions().CancelAll()
		logger.Warn("grace period elapsed; cancelled live sessions", "sessions", n)
	}
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if _, err := dotenv.Load(os.Getenv("VOICEBOARD_ENV_FILE"), ".env"); err != nil {
		fmt.Fprintf(stderr, "voiceboard: %v\n", err)
		return 1
	}

	logger := newLogger(stderr, os.Getenv("VOICEBOARD_LOG_LEVEL"))
	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voiceboard: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
