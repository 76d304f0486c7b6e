// Package ratelimit admits voice rounds per identity with a sliding window and
// caps concurrent live sessions per identity.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Admitter decides whether identity may start another voice round at now.
// A rejection never consumes budget.
type Admitter interface {
	Allow(ctx context.Context, identity string, now time.Time) (Decision, error)
}

type Config struct {
	// Max rounds per identity inside any trailing Window.
	Max    int
	Window time.Duration

	// MaxSessionsPerIdentity caps concurrent live connections; 0 disables.
	MaxSessionsPerIdentity int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

const (
	DefaultMax    = 10
	DefaultWindow = 60 * time.Second
)

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*identityLimiter
}

var _ Admitter = (*Limiter)(nil)

type identityLimiter struct {
	mu sync.Mutex

	// hits are admission times, oldest first.
	hits []time.Time

	sessions chan struct{}

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	if cfg.EntryTTL < cfg.Window {
		cfg.EntryTTL = cfg.Window
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*identityLimiter),
	}
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

// Decision is an admission result. RetryAfter is whole seconds, at least 1
// when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// Allow applies the sliding window: timestamps at or before now-Window are
// forgotten, and a request is admitted only while fewer than Max remain.
func (l *Limiter) Allow(_ context.Context, identity string, now time.Time) (Decision, error) {
	il := l.getOrCreate(identity, now)

	il.mu.Lock()
	defer il.mu.Unlock()
	il.lastSeen = now

	il.hits = prune(il.hits, now.Add(-l.cfg.Window))
	if len(il.hits) >= l.cfg.Max {
		return Decision{Allowed: false, RetryAfter: retryAfter(il.hits[0], l.cfg.Window, now)}, nil
	}
	il.hits = append(il.hits, now)
	return Decision{Allowed: true}, nil
}

// AcquireSession reserves one live-session slot for identity.
func (l *Limiter) AcquireSession(identity string, now time.Time) Decision {
	if l.cfg.MaxSessionsPerIdentity <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	il := l.getOrCreate(identity, now)
	il.mu.Lock()
	il.lastSeen = now
	il.mu.Unlock()

	select {
	case il.sessions <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-il.sessions }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(identity string, now time.Time) *identityLimiter {
	if identity == "" {
		identity = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if il, ok := l.m[identity]; ok {
		return il
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one idle entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.sessions) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}

	il := &identityLimiter{
		sessions: make(chan struct{}, max(1, l.cfg.MaxSessionsPerIdentity)),
		lastSeen: now,
	}
	l.m[identity] = il
	return il
}

// gcLocked drops identities idle longer than EntryTTL. Entries holding a
// session slot are kept so the cap survives collection.
func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		v.mu.Lock()
		idle := now.Sub(v.lastSeen) > ttl
		v.mu.Unlock()
		if idle && len(v.sessions) == 0 {
			delete(l.m, k)
		}
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) int {
	wait := oldest.Add(window).Sub(now).Seconds()
	return max(1, int(math.Ceil(wait)))
}
