package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_MinuteWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Enabled: true, PerMinute: 3, PerHour: 100}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check("alice"), "request %d should be admitted", i+1)
	}

	err := l.Check("alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, KindMinute, exceeded.Kind)
	assert.Equal(t, 3, exceeded.Limit)
	assert.Equal(t, 0, exceeded.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), exceeded.ResetAt)

	clock.Advance(61 * time.Second)
	assert.NoError(t, l.Check("alice"), "admission resumes after the window elapses")
}

func TestLimiter_HourWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Enabled: true, PerMinute: 10, PerHour: 4}, WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Check("bob"))
		clock.Advance(2 * time.Minute)
	}

	err := l.Check("bob")
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, KindHour, exceeded.Kind)
	assert.Equal(t, 4, exceeded.Limit)

	clock.Advance(time.Hour)
	assert.NoError(t, l.Check("bob"))
}

func TestLimiter_RejectedRequestIsNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Enabled: true, PerMinute: 1, PerHour: 100}, WithClock(clock.Now))

	require.NoError(t, l.Check("x"))
	for i := 0; i < 5; i++ {
		require.Error(t, l.Check("x"))
	}
	assert.Equal(t, 1, l.Usage("x").Hour)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, PerMinute: 1, PerHour: 10})

	require.NoError(t, l.Check("a"))
	require.Error(t, l.Check("a"))
	assert.NoError(t, l.Check("b"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{Enabled: false, PerMinute: 1, PerHour: 1})
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("anyone"))
	}
	u := l.Usage("anyone")
	assert.False(t, u.Enabled)
	assert.Equal(t, 0, u.Minute)
	assert.Equal(t, 1, u.MinuteRemaining)
}

func TestLimiter_Usage(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Enabled: true, PerMinute: 5, PerHour: 50}, WithClock(clock.Now))

	u := l.Usage("carol")
	assert.Equal(t, Usage{Enabled: true, MinuteLimit: 5, HourLimit: 50, MinuteRemaining: 5, HourRemaining: 50}, u)

	require.NoError(t, l.Check("carol"))
	require.NoError(t, l.Check("carol"))

	u = l.Usage("carol")
	assert.Equal(t, 2, u.Minute)
	assert.Equal(t, 2, u.Hour)
	assert.Equal(t, 3, u.MinuteRemaining)
	assert.Equal(t, 48, u.HourRemaining)

	// Usage is read-only.
	assert.Equal(t, 2, l.Usage("carol").Minute)

	clock.Advance(90 * time.Second)
	u = l.Usage("carol")
	assert.Equal(t, 0, u.Minute)
	assert.Equal(t, 2, u.Hour)
}

func TestLimiter_DropsIdleIdentities(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Enabled: true, PerMinute: 5, PerHour: 50}, WithClock(clock.Now))

	l.Usage("never-seen")
	assert.Equal(t, 0, l.Identities(), "Usage does not track unknown identities")

	for i := 0; i < 20; i++ {
		require.NoError(t, l.Check(fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.Equal(t, 20, l.Identities())

	clock.Advance(time.Hour + time.Second)
	require.NoError(t, l.Check("10.0.0.99"), "a check after an idle hour sweeps stale identities")
	assert.Equal(t, 1, l.Identities())

	clock.Advance(time.Hour + time.Second)
	u := l.Usage("10.0.0.99")
	assert.Equal(t, 0, u.Hour)
	assert.Equal(t, 0, l.Identities(), "an emptied window is dropped")

	require.NoError(t, l.Check("10.0.0.99"))
	assert.Equal(t, 1, l.Usage("10.0.0.99").Minute, "a dropped identity starts a fresh window")
}

func TestLimiter_ConcurrentChecksAtBoundary(t *testing.T) {
	const limit = 25
	l := NewLimiter(Config{Enabled: true, PerMinute: limit, PerHour: 1000})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(limit), admitted.Load())
}

func TestExceededError_RetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		reset time.Time
		want  time.Duration
	}{
		{now.Add(59*time.Second + 100*time.Millisecond), 60 * time.Second},
		{now.Add(time.Minute), time.Minute},
		{now.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.want), func(t *testing.T) {
			e := &ExceededError{ResetAt: tt.reset}
			assert.Equal(t, tt.want, e.RetryAfter(now))
		})
	}
}
