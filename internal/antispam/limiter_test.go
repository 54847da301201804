package antispam

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, clock *fakeClock, mutate ...func(*Config)) *Limiter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Exempt = []int64{1}
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return l
}

// provokeWarning produces one allowed event followed by one warned drop and
// then waits out the warning cooldown.
func provokeWarning(t *testing.T, l *Limiter, clock *fakeClock, user int64) Decision {
	t.Helper()
	require.True(t, l.Evaluate(user, KindMessage).Allowed)
	clock.Advance(100 * time.Millisecond)
	d := l.Evaluate(user, KindMessage)
	require.False(t, d.Allowed)
	clock.Advance(5 * time.Second)
	return d
}

func muteUser(t *testing.T, l *Limiter, clock *fakeClock, user int64) Decision {
	t.Helper()
	var d Decision
	for i := 0; i < 3; i++ {
		d = provokeWarning(t, l, clock, user)
	}
	require.Equal(t, NoticeMuted, d.Notice)
	return d
}

func TestRapidEventsOnlyFirstAllowed(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Evaluate(42, KindMessage).Allowed)
	for i := 0; i < 5; i++ {
		clock.Advance(150 * time.Millisecond)
		require.False(t, l.Evaluate(42, KindMessage).Allowed)
	}

	clock.Advance(time.Second)
	require.True(t, l.Evaluate(42, KindMessage).Allowed)
}

func TestKindsAreLimitedIndependently(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Evaluate(42, KindMessage).Allowed)
	require.True(t, l.Evaluate(42, KindCallback).Allowed)
	require.False(t, l.Evaluate(42, KindMessage).Allowed)
	require.False(t, l.Evaluate(42, KindCallback).Allowed)
}

func TestWarningOncePerCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Evaluate(42, KindMessage).Allowed)
	clock.Advance(100 * time.Millisecond)
	require.Equal(t, NoticeWarning, l.Evaluate(42, KindMessage).Notice)

	for i := 0; i < 4; i++ {
		clock.Advance(100 * time.Millisecond)
		d := l.Evaluate(42, KindMessage)
		require.False(t, d.Allowed)
		require.Equal(t, NoticeNone, d.Notice)
	}
}

func TestMuteAfterWarningThreshold(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.Equal(t, NoticeWarning, provokeWarning(t, l, clock, 42).Notice)
	require.Equal(t, NoticeWarning, provokeWarning(t, l, clock, 42).Notice)
	d := provokeWarning(t, l, clock, 42)
	require.Equal(t, NoticeMuted, d.Notice)
	require.Equal(t, 5*time.Minute, d.MuteFor)
	require.Equal(t, 5, d.Minutes)
	require.Equal(t, 1, l.Level(42))

	// Everything is dropped while muted, even well-spaced events.
	clock.Advance(30 * time.Second)
	require.False(t, l.Evaluate(42, KindMessage).Allowed)
	clock.Advance(30 * time.Second)
	require.False(t, l.Evaluate(42, KindCallback).Allowed)
}

func TestMutedNoticeOncePerCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	muteUser(t, l, clock, 42)

	// muteUser advanced 5s after the trigger, so a notice is due.
	d := l.Evaluate(42, KindMessage)
	require.Equal(t, NoticeStillMuted, d.Notice)
	require.Equal(t, 4, d.Minutes)

	clock.Advance(time.Second)
	require.Equal(t, NoticeNone, l.Evaluate(42, KindMessage).Notice)

	clock.Advance(4 * time.Minute)
	d = l.Evaluate(42, KindMessage)
	require.Equal(t, NoticeStillMuted, d.Notice)
	require.Equal(t, 1, d.Minutes)
}

func TestEscalationIsNonDecreasingAndCapped(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	var prev time.Duration
	want := []time.Duration{5 * time.Minute, 30 * time.Minute, time.Hour, 3 * time.Hour, 3 * time.Hour}
	for i, expected := range want {
		d := muteUser(t, l, clock, 42)
		require.Equal(t, expected, d.MuteFor, "mute #%d", i+1)
		require.GreaterOrEqual(t, d.MuteFor, prev)
		prev = d.MuteFor
		require.Equal(t, i+1, l.Level(42))
		clock.Advance(d.MuteFor)
	}
}

func TestWarningWindowResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 6; i++ {
		d := provokeWarning(t, l, clock, 42)
		require.Equal(t, NoticeWarning, d.Notice)
		clock.Advance(61 * time.Second)
	}
	require.Equal(t, 0, l.Level(42))
}

func TestExemptUserNeverBlocked(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 100; i++ {
		require.True(t, l.Evaluate(1, KindMessage).Allowed)
		require.True(t, l.Evaluate(1, KindCallback).Allowed)
	}
	require.Equal(t, 0, l.Stats().Tracked)
}

func TestUnknownUserPassesThrough(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 10; i++ {
		require.True(t, l.Evaluate(0, KindMessage).Allowed)
	}
	var nilLimiter *Limiter
	require.True(t, nilLimiter.Evaluate(42, KindMessage).Allowed)
}

func TestConcurrentEventsForSameUser(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	var allowed, warned atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Evaluate(42, KindMessage)
			if d.Allowed {
				allowed.Add(1)
			}
			if d.Notice == NoticeWarning {
				warned.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), allowed.Load())
	require.Equal(t, int32(1), warned.Load())
}

func TestPruneKeepsEscalatedUsers(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Evaluate(7, KindMessage).Allowed)
	d := muteUser(t, l, clock, 42)
	require.Equal(t, 2, l.Stats().Tracked)
	require.Equal(t, 1, l.Stats().Muted)

	clock.Advance(d.MuteFor + 48*time.Hour)
	require.Equal(t, 1, l.Prune(36*time.Hour))
	require.Equal(t, 1, l.Stats().Tracked)
	require.Equal(t, 1, l.Level(42))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MuteDurations = nil
	require.ErrorIs(t, cfg.Validate(), ErrEmptyLadder)

	cfg = DefaultConfig()
	cfg.MuteDurations = []time.Duration{time.Hour, time.Minute}
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Interval = 0
	_, err := New(cfg)
	require.Error(t, err)
}
