// Package sessions tracks the live canvas sessions of one process so the
// gateway can notify and stop them during a graceful drain.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is how the tracker reaches back into a running session.
type Handle struct {
	Identity string
	Cancel   func()
	Warn     func(code, message string) error
}

// Info describes one registered session.
type Info struct {
	SessionID string
	Identity  string
	StartedAt time.Time
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
	now      func() time.Time
}

type entry struct {
	handle  Handle
	started time.Time
	once    sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// Register adds a session. Registering an id twice replaces the earlier
// entry; the returned func is idempotent.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	e := &entry{handle: h, started: now()}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*entry)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(sessionID, old)
	}
	return func() { t.release(sessionID, e) }
}

func (t *Tracker) release(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == e {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Active lists registered sessions, oldest first.
func (t *Tracker) Active() []Info {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Info, 0, len(t.sessions))
	for id, e := range t.sessions {
		out = append(out, Info{SessionID: id, Identity: e.handle.Identity, StartedAt: e.started})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, e := range t.sessions {
		out = append(out, e.handle)
	}
	return out
}

// WarnAll sends a notice to every session that accepts one. Failures are
// ignored; the count is of attempts.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
