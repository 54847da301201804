// Package metrics keeps process-local activity counters and the Prometheus
// registry exposed by the health server.
package metrics

import (
	"sync"
	"time"
)

const defaultCapacity = 5000

// Runtime remembers the timestamps of the most recent updates in a fixed
// ring, enough to answer "events per minute" and draw the last hour.
type Runtime struct {
	mu    sync.Mutex
	ring  []time.Time
	next  int
	count int
	now   func() time.Time
}

func NewRuntime(capacity int) *Runtime {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Runtime{ring: make([]time.Time, capacity), now: time.Now}
}

func (r *Runtime) MarkEvent() {
	now := r.now()
	r.mu.Lock()
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()
}

// EventsPerMinute counts events seen during the last 60 seconds.
func (r *Runtime) EventsPerMinute() int {
	border := r.now().Add(-time.Minute)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := 0; i < r.count; i++ {
		if !r.ring[i].Before(border) {
			n++
		}
	}
	return n
}

// Point is one per-minute bucket.
type Point struct {
	Minute time.Time
	Count  int
}

// PerMinute returns the last n minute buckets, oldest first. Buckets with no
// events are present with a zero count.
func (r *Runtime) PerMinute(n int) []Point {
	if n <= 0 {
		n = 60
	}
	current := r.now().Truncate(time.Minute)
	first := current.Add(-time.Duration(n-1) * time.Minute)
	points := make([]Point, n)
	for i := range points {
		points[i].Minute = first.Add(time.Duration(i) * time.Minute)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.count; i++ {
		ts := r.ring[i].Truncate(time.Minute)
		if ts.Before(first) || ts.After(current) {
			continue
		}
		points[int(ts.Sub(first)/time.Minute)].Count++
	}
	return points
}
