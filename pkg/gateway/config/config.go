package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type LLMProvider string

const (
	LLMProviderGroq   LLMProvider = "groq"
	LLMProviderGemini LLMProvider = "gemini"
)

type Config struct {
	Addr string

	// Token verification for /v1/live. Disabled derives a development identity
	// from any token of 10+ characters.
	AuthMode         AuthMode
	JWTSigningMethod string
	JWTSecret        string
	JWTPublicKey     string
	JWTIssuer        string
	JWTAudience      []string

	// Speech to text.
	DeepgramAPIKey  string
	DeepgramBaseURL string
	DeepgramModel   string
	DeepgramRetries int

	// Reasoning.
	LLMProvider       LLMProvider
	LLMModel          string
	GroqAPIKey        string
	GroqBaseURL       string
	GeminiAPIKey      string
	ReasonMaxAttempts int

	// Per-call budgets for the three slow stages of a round.
	TranscribeTimeout time.Duration
	ReasonTimeout     time.Duration
	LayoutTimeout     time.Duration

	// Circuit breakers in front of the providers.
	BreakerEnabled          bool
	BreakerFailureThreshold float64
	BreakerMinRequests      int
	BreakerOpenTimeout      time.Duration

	// Round admission (sliding window per identity).
	RateLimitMax           int
	RateLimitWindow        time.Duration
	MaxSessionsPerIdentity int
	// Websocket upgrade attempts per client address per minute; 0 disables.
	ConnectRateLimitMax int
	// If set, the window is shared across instances through Redis.
	RedisURL string

	// If set, canvas documents are persisted in Postgres; otherwise in memory.
	DatabaseURL string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Take the client address from X-Forwarded-For. Enable only behind a proxy
	// that sets the header.
	TrustProxyHeaders bool

	// Live WebSocket mode (/v1/live).
	ErrorDisplayDelay       time.Duration
	MaxAudioBytes           int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveHandshakeTimeout    time.Duration
	HistorySize             int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	LogLevel            string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VOICEBOARD_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("VOICEBOARD_AUTH_MODE", string(AuthModeRequired))),
		JWTSigningMethod:        strings.ToUpper(envOr("VOICEBOARD_JWT_SIGNING_METHOD", "HS256")),
		JWTSecret:               os.Getenv("VOICEBOARD_JWT_SECRET"),
		JWTPublicKey:            os.Getenv("VOICEBOARD_JWT_PUBLIC_KEY"),
		JWTIssuer:               envOr("VOICEBOARD_JWT_ISSUER", ""),
		JWTAudience:             splitCSV(os.Getenv("VOICEBOARD_JWT_AUDIENCE")),
		DeepgramAPIKey:          envOr("VOICEBOARD_DEEPGRAM_API_KEY", ""),
		DeepgramBaseURL:         envOr("VOICEBOARD_DEEPGRAM_BASE_URL", "https://api.deepgram.com/v1"),
		DeepgramModel:           envOr("VOICEBOARD_DEEPGRAM_MODEL", "nova-2"),
		DeepgramRetries:         envIntOr("VOICEBOARD_DEEPGRAM_RETRIES", 2),
		LLMProvider:             LLMProvider(strings.ToLower(envOr("VOICEBOARD_LLM_PROVIDER", string(LLMProviderGroq)))),
		LLMModel:                envOr("VOICEBOARD_LLM_MODEL", ""),
		GroqAPIKey:              envOr("VOICEBOARD_GROQ_API_KEY", ""),
		GroqBaseURL:             envOr("VOICEBOARD_GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GeminiAPIKey:            envOr("VOICEBOARD_GEMINI_API_KEY", ""),
		ReasonMaxAttempts:       envIntOr("VOICEBOARD_LLM_MAX_ATTEMPTS", 3),
		TranscribeTimeout:       envDurationOr("VOICEBOARD_TRANSCRIBE_TIMEOUT", 60*time.Second),
		ReasonTimeout:           envDurationOr("VOICEBOARD_REASON_TIMEOUT", 30*time.Second),
		LayoutTimeout:           envDurationOr("VOICEBOARD_LAYOUT_TIMEOUT", 5*time.Second),
		BreakerEnabled:          envBoolOr("VOICEBOARD_BREAKER_ENABLED", true),
		BreakerFailureThreshold: envFloat64Or("VOICEBOARD_BREAKER_FAILURE_RATIO", 0.6),
		BreakerMinRequests:      envIntOr("VOICEBOARD_BREAKER_MIN_REQUESTS", 5),
		BreakerOpenTimeout:      envDurationOr("VOICEBOARD_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		RateLimitMax:            envIntOr("VOICEBOARD_RATE_LIMIT_MAX", 10),
		RateLimitWindow:         envDurationOr("VOICEBOARD_RATE_LIMIT_WINDOW", 60*time.Second),
		MaxSessionsPerIdentity:  envIntOr("VOICEBOARD_MAX_SESSIONS_PER_IDENTITY", 4),
		ConnectRateLimitMax:     envIntOr("VOICEBOARD_CONNECT_RATE_LIMIT_MAX", 30),
		RedisURL:                envOr("VOICEBOARD_REDIS_URL", ""),
		DatabaseURL:             envOr("VOICEBOARD_DATABASE_URL", ""),
		CORSAllowedOrigins:      make(map[string]struct{}),
		TrustProxyHeaders:       envBoolOr("VOICEBOARD_TRUST_PROXY_HEADERS", false),
		ErrorDisplayDelay:       envDurationOr("VOICEBOARD_ERROR_DISPLAY_DELAY", 2*time.Second),
		MaxAudioBytes:           envIntOr("VOICEBOARD_MAX_AUDIO_BYTES", 10<<20),
		LiveMaxJSONMessageBytes: envInt64Or("VOICEBOARD_LIVE_MAX_JSON_MESSAGE_BYTES", 2<<20),
		LiveWSPingInterval:      envDurationOr("VOICEBOARD_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VOICEBOARD_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("VOICEBOARD_LIVE_WS_READ_TIMEOUT", 0),
		LiveHandshakeTimeout:    envDurationOr("VOICEBOARD_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		HistorySize:             envIntOr("VOICEBOARD_HISTORY_SIZE", 10),
		ReadHeaderTimeout:       envDurationOr("VOICEBOARD_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("VOICEBOARD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:                strings.ToLower(envOr("VOICEBOARD_LOG_LEVEL", "info")),
	}

	for _, origin := range splitCSV(os.Getenv("VOICEBOARD_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICEBOARD_AUTH_MODE must be one of required|disabled")
	}
	if cfg.AuthMode == AuthModeRequired {
		switch cfg.JWTSigningMethod {
		case "HS256":
			if strings.TrimSpace(cfg.JWTSecret) == "" {
				return Config{}, fmt.Errorf("VOICEBOARD_JWT_SECRET must be set when VOICEBOARD_AUTH_MODE=required")
			}
		case "RS256":
			if strings.TrimSpace(cfg.JWTPublicKey) == "" {
				return Config{}, fmt.Errorf("VOICEBOARD_JWT_PUBLIC_KEY must be set for RS256")
			}
		default:
			return Config{}, fmt.Errorf("VOICEBOARD_JWT_SIGNING_METHOD must be one of HS256|RS256")
		}
	}

	switch cfg.LLMProvider {
	case LLMProviderGroq, LLMProviderGemini:
	default:
		return Config{}, fmt.Errorf("VOICEBOARD_LLM_PROVIDER must be one of groq|gemini")
	}

	if cfg.ReasonMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LLM_MAX_ATTEMPTS must be > 0")
	}
	if cfg.DeepgramRetries < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_DEEPGRAM_RETRIES must be >= 0")
	}
	if cfg.TranscribeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_TRANSCRIBE_TIMEOUT must be > 0")
	}
	if cfg.ReasonTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_REASON_TIMEOUT must be > 0")
	}
	if cfg.LayoutTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LAYOUT_TIMEOUT must be > 0")
	}
	if cfg.BreakerFailureThreshold <= 0 || cfg.BreakerFailureThreshold > 1 {
		return Config{}, fmt.Errorf("VOICEBOARD_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if cfg.BreakerMinRequests < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_BREAKER_MIN_REQUESTS must be >= 0")
	}
	if cfg.BreakerOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_BREAKER_OPEN_TIMEOUT must be > 0")
	}
	if cfg.RateLimitMax <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_RATE_LIMIT_MAX must be > 0")
	}
	if cfg.RateLimitWindow <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_RATE_LIMIT_WINDOW must be > 0")
	}
	if cfg.MaxSessionsPerIdentity < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_MAX_SESSIONS_PER_IDENTITY must be >= 0")
	}
	if cfg.ConnectRateLimitMax < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_CONNECT_RATE_LIMIT_MAX must be >= 0")
	}
	if cfg.ErrorDisplayDelay < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_ERROR_DISPLAY_DELAY must be >= 0")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_MAX_AUDIO_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.HistorySize <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_HISTORY_SIZE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBOARD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOICEBOARD_LOG_LEVEL must be one of debug|info|warn|error")
	}

	return cfg, nil
}

// ProviderKeyMissing names the first upstream credential that is not set, or
// "" when every configured provider has one. Readiness reports it.
func (c Config) ProviderKeyMissing() string {
	if strings.TrimSpace(c.DeepgramAPIKey) == "" {
		return "VOICEBOARD_DEEPGRAM_API_KEY"
	}
	switch c.LLMProvider {
	case LLMProviderGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return "VOICEBOARD_GEMINI_API_KEY"
		}
	default:
		if strings.TrimSpace(c.GroqAPIKey) == "" {
			return "VOICEBOARD_GROQ_API_KEY"
		}
	}
	return ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
