// Package ratelimit admits or rejects requests per caller identity using
// sliding minute and hour windows.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is matched by every ExceededError via errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

// Window kinds reported in ExceededError.Kind.
const (
	KindMinute = "minute"
	KindHour   = "hour"
)

// ExceededError describes a rejected request.
type ExceededError struct {
	Kind      string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Limit, e.Kind)
}

// Is reports whether target is ErrRateLimited.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter returns the time until the window resets, rounded up to whole seconds.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// Usage is a snapshot of one identity's windows.
type Usage struct {
	Enabled         bool `json:"enabled"`
	Minute          int  `json:"minute"`
	Hour            int  `json:"hour"`
	MinuteLimit     int  `json:"minute_limit"`
	HourLimit       int  `json:"hour_limit"`
	MinuteRemaining int  `json:"minute_remaining"`
	HourRemaining   int  `json:"hour_remaining"`
}

// Config holds limiter settings.
type Config struct {
	Enabled   bool
	PerMinute int
	PerHour   int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

type window struct {
	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time
	// dead is set once the window has been removed from the map; holders
	// must look the identity up again.
	dead bool
}

func (w *window) empty() bool {
	return len(w.minute) == 0 && len(w.hour) == 0
}

// sweepInterval is how often idle identities are dropped from the map.
const sweepInterval = time.Minute

// Limiter keeps per-identity sliding windows. It is safe for concurrent use;
// checks for the same identity are serialized, different identities never contend.
// Identities whose windows have emptied are dropped, so the map only holds
// callers seen within the last hour.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

// NewLimiter creates a limiter with the given limits.
func NewLimiter(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether the limiter records and rejects requests.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled
}

// Limits returns the configured per-minute and per-hour limits.
func (l *Limiter) Limits() (perMinute, perHour int) {
	return l.cfg.PerMinute, l.cfg.PerHour
}

// Identities returns the number of identities currently tracked.
func (l *Limiter) Identities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// window returns the identity's window, creating it when create is set.
// It also runs the periodic sweep.
func (l *Limiter) window(identity string, create bool) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := l.now(); !now.Before(l.nextSweep) {
		l.sweepLocked(now)
		l.nextSweep = now.Add(sweepInterval)
	}
	w, ok := l.windows[identity]
	if !ok && create {
		w = &window{}
		l.windows[identity] = w
	}
	return w
}

// sweepLocked drops every idle window. Windows busy in Check or Usage are
// skipped; they are dropped on access or at the next sweep.
func (l *Limiter) sweepLocked(now time.Time) {
	for id, w := range l.windows {
		if !w.mu.TryLock() {
			continue
		}
		w.minute = purge(w.minute, now, time.Minute)
		w.hour = purge(w.hour, now, time.Hour)
		if w.empty() {
			delete(l.windows, id)
			w.dead = true
		}
		w.mu.Unlock()
	}
}

// dropIfEmpty removes w from the map when it holds no timestamps. w.mu must be held.
func (l *Limiter) dropIfEmpty(identity string, w *window) {
	if !w.empty() {
		return
	}
	l.mu.Lock()
	if l.windows[identity] == w {
		delete(l.windows, identity)
	}
	l.mu.Unlock()
	w.dead = true
}

// Check admits the request and records it, or returns an *ExceededError.
// When disabled it always admits without recording.
func (l *Limiter) Check(identity string) error {
	if !l.cfg.Enabled {
		return nil
	}
	for {
		w := l.window(identity, true)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		err := l.checkLocked(identity, w)
		w.mu.Unlock()
		return err
	}
}

func (l *Limiter) checkLocked(identity string, w *window) error {
	now := l.now()
	w.minute = purge(w.minute, now, time.Minute)
	w.hour = purge(w.hour, now, time.Hour)

	if len(w.minute) >= l.cfg.PerMinute {
		l.dropIfEmpty(identity, w)
		return &ExceededError{Kind: KindMinute, Limit: l.cfg.PerMinute, ResetAt: now.Add(time.Minute)}
	}
	if len(w.hour) >= l.cfg.PerHour {
		l.dropIfEmpty(identity, w)
		return &ExceededError{Kind: KindHour, Limit: l.cfg.PerHour, ResetAt: now.Add(time.Hour)}
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return nil
}

// Usage returns the identity's current counts. Stale entries are purged but
// nothing is recorded, and an unknown identity is not added.
func (l *Limiter) Usage(identity string) Usage {
	u := Usage{
		Enabled:         l.cfg.Enabled,
		MinuteLimit:     l.cfg.PerMinute,
		HourLimit:       l.cfg.PerHour,
		MinuteRemaining: l.cfg.PerMinute,
		HourRemaining:   l.cfg.PerHour,
	}
	if !l.cfg.Enabled {
		return u
	}
	if w := l.window(identity, false); w != nil {
		w.mu.Lock()
		if !w.dead {
			now := l.now()
			w.minute = purge(w.minute, now, time.Minute)
			w.hour = purge(w.hour, now, time.Hour)
			u.Minute = len(w.minute)
			u.Hour = len(w.hour)
			l.dropIfEmpty(identity, w)
		}
		w.mu.Unlock()
	}

	u.MinuteRemaining = max(0, l.cfg.PerMinute-u.Minute)
	u.HourRemaining = max(0, l.cfg.PerHour-u.Hour)
	return u
}

// purge drops timestamps older than d. Timestamps are appended in order,
// so the stale ones form a prefix.
func purge(ts []time.Time, now time.Time, d time.Duration) []time.Time {
	cutoff := now.Add(-d)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
