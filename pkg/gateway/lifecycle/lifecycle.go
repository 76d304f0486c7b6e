package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle holds process-wide serving state shared by handlers. Once
// draining, readiness fails and new live sessions are refused.
type Lifecycle struct {
	draining      atomic.Bool
	drainingSince atomic.Int64
}

// BeginDrain marks the process as draining. Later calls keep the first
// timestamp.
func (l *Lifecycle) BeginDrain(now time.Time) {
	if l == nil {
		return
	}
	if l.draining.CompareAndSwap(false, true) {
		l.drainingSince.Store(now.UnixNano())
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince returns when draining began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil || !l.draining.Load() {
		return time.Time{}
	}
	return time.Unix(0, l.drainingSince.Load())
}
