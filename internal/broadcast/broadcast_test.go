package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotCounts(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	c := NewCoordinator().WithClock(func() time.Time { return now })

	c.Start(50, 7)
	for i := 0; i < 5; i++ {
		c.MarkSent(true)
	}
	c.MarkSent(false)
	c.MarkSent(false)
	now = base.Add(12 * time.Second)

	snap := c.Snapshot()
	require.Equal(t, Snapshot{
		Running:        true,
		Total:          50,
		Sent:           5,
		Errors:         2,
		RequestedBy:    7,
		ElapsedSeconds: 12,
	}, snap)
}

func TestFinishKeepsCountsUntilNextStart(t *testing.T) {
	c := NewCoordinator()
	c.Start(3, 7)
	c.MarkSent(true)
	c.MarkSent(false)
	c.RequestCancel()
	c.Finish()

	snap := c.Snapshot()
	require.False(t, snap.Running)
	require.Equal(t, 1, snap.Sent)
	require.Equal(t, 1, snap.Errors)
	require.True(t, snap.CancelRequested)

	c.Start(10, 8)
	snap = c.Snapshot()
	require.True(t, snap.Running)
	require.Zero(t, snap.Sent)
	require.Zero(t, snap.Errors)
	require.False(t, snap.CancelRequested)
	require.Equal(t, int64(8), snap.RequestedBy)
}

func TestEmptySnapshotBeforeStart(t *testing.T) {
	snap := NewCoordinator().Snapshot()
	require.False(t, snap.Running)
	require.Zero(t, snap.ElapsedSeconds)
}

func TestRunnerCountsFailuresAndContinues(t *testing.T) {
	c := NewCoordinator()
	r := &Runner{Coordinator: c, Pacing: time.Millisecond}

	var sentTo []int64
	res := r.Run(context.Background(), 7, []int64{10, 11, 12, 13}, func(_ context.Context, id int64) error {
		sentTo = append(sentTo, id)
		if id == 11 {
			return errors.New("bot was blocked by the user")
		}
		return nil
	})

	require.Equal(t, Result{Sent: 3, Errors: 1}, res)
	require.Equal(t, []int64{10, 11, 12, 13}, sentTo)
	snap := c.Snapshot()
	require.False(t, snap.Running)
	require.Equal(t, 4, snap.Total)
	require.Equal(t, 3, snap.Sent)
	require.Equal(t, 1, snap.Errors)
}

func TestRunnerStopsAfterCancel(t *testing.T) {
	c := NewCoordinator()
	r := &Runner{Coordinator: c, Pacing: 5 * time.Millisecond}

	recipients := make([]int64, 20)
	for i := range recipients {
		recipients[i] = int64(100 + i)
	}
	calls := 0
	res := r.Run(context.Background(), 7, recipients, func(_ context.Context, _ int64) error {
		calls++
		if calls == 3 {
			c.RequestCancel()
		}
		return nil
	})

	require.Equal(t, 3, calls)
	require.True(t, res.Cancelled)
	snap := c.Snapshot()
	require.False(t, snap.Running)
	require.Equal(t, 3, snap.Sent)
	require.Equal(t, 20, snap.Total)
}

func TestRunnerCancelFromOtherGoroutineTakesEffectWithinPacing(t *testing.T) {
	c := NewCoordinator()
	pacing := 40 * time.Millisecond
	r := &Runner{Coordinator: c, Pacing: pacing}

	recipients := make([]int64, 1000)
	var mu sync.Mutex
	var sendTimes []time.Time
	started := make(chan struct{})
	var once sync.Once

	done := make(chan Result)
	go func() {
		done <- r.Run(context.Background(), 7, recipients, func(_ context.Context, _ int64) error {
			mu.Lock()
			sendTimes = append(sendTimes, time.Now())
			mu.Unlock()
			once.Do(func() { close(started) })
			return nil
		})
	}()

	<-started
	time.Sleep(2 * pacing)
	cancelAt := time.Now()
	c.RequestCancel()

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	require.True(t, res.Cancelled)

	mu.Lock()
	defer mu.Unlock()
	for _, ts := range sendTimes {
		require.False(t, ts.After(cancelAt.Add(pacing)), "send issued more than one pacing interval after cancel")
	}
	require.Less(t, len(sendTimes), len(recipients))
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	c := NewCoordinator()
	r := &Runner{Coordinator: c, Pacing: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	res := r.Run(ctx, 7, []int64{1, 2, 3}, func(_ context.Context, _ int64) error {
		calls++
		cancel()
		return nil
	})
	require.Equal(t, 1, calls)
	require.True(t, res.Cancelled)
	require.False(t, c.Snapshot().Running)
}

func TestRunnerReportsProgress(t *testing.T) {
	c := NewCoordinator()
	var seen []int
	r := &Runner{
		Coordinator:   c,
		Pacing:        time.Millisecond,
		ProgressEvery: 2,
		OnProgress:    func(s Snapshot) { seen = append(seen, s.Sent) },
	}
	r.Run(context.Background(), 7, []int64{1, 2, 3, 4, 5}, func(context.Context, int64) error { return nil })
	require.Equal(t, []int{2, 4, 5}, seen)
}

func TestRunnerProgressIgnoresFailures(t *testing.T) {
	c := NewCoordinator()
	var seen []int
	r := &Runner{
		Coordinator:   c,
		Pacing:        time.Millisecond,
		ProgressEvery: 2,
		OnProgress:    func(s Snapshot) { seen = append(seen, s.Sent) },
	}
	fail := map[int64]bool{3: true, 4: true, 5: true}
	res := r.Run(context.Background(), 7, []int64{1, 2, 3, 4, 5, 6}, func(_ context.Context, id int64) error {
		if fail[id] {
			return errors.New("blocked")
		}
		return nil
	})
	require.Equal(t, 3, res.Sent)
	require.Equal(t, 3, res.Errors)
	require.Equal(t, []int{2, 3}, seen)
}
