// Package reasoner turns a transcript into validated diagram actions.
//
// Model output is never trusted: every response is parsed strictly and
// validated against the action schema. A rejected response is sent back to the
// model together with the validation errors, up to MaxAttempts calls in total.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vango-go/voiceboard/pkg/core"
	"github.com/vango-go/voiceboard/pkg/core/breaker"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
)

// Config controls the self-correction loop.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	// Observe, when set, is called once per Reason with the number of provider
	// calls made and the final error.
	Observe func(attempts int, err error)
}

// Reasoner runs the bounded generate, parse, correct loop.
type Reasoner struct {
	gen       Generator
	validator *sketch.Validator
	cfg       Config
	logger    *slog.Logger
	breaker   *breaker.Breaker
	system    string
}

// Option customizes a Reasoner.
type Option func(*Reasoner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reasoner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBreaker routes provider calls through b.
func WithBreaker(b *breaker.Breaker) Option {
	return func(r *Reasoner) { r.breaker = b }
}

// New returns a Reasoner. Zero config values take defaults.
func New(gen Generator, cfg Config, opts ...Option) (*Reasoner, error) {
	if gen == nil {
		return nil, errors.New("reasoner: generator is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	r := &Reasoner{
		gen:       gen,
		validator: sketch.NewValidator(),
		cfg:       cfg,
		logger:    slog.Default(),
		system:    SystemPrompt(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reason returns the validated actions for req. An empty list is a valid
// answer. After MaxAttempts failed calls it returns a *core.Error of type
// reasoning_failure wrapping the last failure.
func (r *Reasoner) Reason(ctx context.Context, req Request) ([]sketch.Action, error) {
	prompt := Prompt{
		System: r.system,
		Turns:  []Turn{{Role: RoleUser, Content: UserPrompt(req)}},
	}

	var lastErr error
	attempts := 0
	for attempts < r.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++

		raw, err := r.generate(ctx, prompt)
		if err != nil {
			lastErr = err
			r.logger.Warn("reasoner provider call failed", "attempt", attempts, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		actions, err := r.validator.Parse(raw)
		if err == nil {
			r.logger.Info("reasoner produced actions", "attempt", attempts, "actions", len(actions))
			r.observe(attempts, nil)
			return actions, nil
		}

		lastErr = err
		r.logger.Warn("reasoner output rejected", "attempt", attempts, "error", err)
		prompt.Turns = append(prompt.Turns,
			Turn{Role: RoleAssistant, Content: truncate(raw, 4000)},
			Turn{Role: RoleUser, Content: CorrectivePrompt(err)},
		)
	}

	out := core.NewReasoningError(fmt.Sprintf("no valid actions after %d attempts", attempts), lastErr)
	r.observe(attempts, out)
	return nil, out
}

func (r *Reasoner) generate(ctx context.Context, p Prompt) (string, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return breaker.Do(r.breaker, func() (string, error) {
		return r.gen.Generate(actx, p)
	})
}

func (r *Reasoner) observe(attempts int, err error) {
	if r.cfg.Observe != nil {
		r.cfg.Observe(attempts, err)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
