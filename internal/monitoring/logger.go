// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger; tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttle logs through Logf at most once per interval. Lines dropped in
// between are counted and reported on the next line that gets through. It is
// meant for failures that repeat at poll rate, such as an unreachable relay.
type Throttle struct {
	mu         sync.Mutex
	interval   time.Duration
	now        func() time.Time
	last       time.Time
	suppressed int
}

// NewThrottle returns a Throttle reading time from now, or time.Now if nil.
func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{interval: interval, now: now}
}

// Logf logs the line unless one was logged less than interval ago. It
// reports whether the line was written.
func (t *Throttle) Logf(format string, v ...interface{}) bool {
	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.suppressed++
		t.mu.Unlock()
		return false
	}
	t.last = now
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	if n > 0 {
		Logf(format+" (%d similar suppressed)", append(v, n)...)
	} else {
		Logf(format, v...)
	}
	return true
}
