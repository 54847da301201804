// Package broadcast tracks the single fan-out run an owner may start and
// drives its paced send loop.
package broadcast

import (
	"sync"
	"time"
)

// Snapshot is a copy of the run state for status display.
type Snapshot struct {
	Running         bool
	Total           int
	Sent            int
	Errors          int
	RequestedBy     int64
	CancelRequested bool
	ElapsedSeconds  int
}

// Coordinator holds exactly one broadcast record. Starting a run overwrites
// the previous one; there is no queue.
type Coordinator struct {
	mu              sync.Mutex
	now             func() time.Time
	running         bool
	startedAt       time.Time
	total           int
	sent            int
	errors          int
	requestedBy     int64
	cancelRequested bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{now: time.Now}
}

// WithClock replaces time.Now, used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *Coordinator) Start(total int, requestedBy int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.startedAt = c.now()
	c.total = total
	c.sent = 0
	c.errors = 0
	c.requestedBy = requestedBy
	c.cancelRequested = false
}

func (c *Coordinator) MarkSent(ok bool) {
	c.mu.Lock()
	if ok {
		c.sent++
	} else {
		c.errors++
	}
	c.mu.Unlock()
}

// RequestCancel raises the flag polled by the send loop.
func (c *Coordinator) RequestCancel() {
	c.mu.Lock()
	c.cancelRequested = true
	c.mu.Unlock()
}

func (c *Coordinator) CancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// Finish marks the run as stopped. Counters stay readable until the next Start.
func (c *Coordinator) Finish() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := 0
	if !c.startedAt.IsZero() {
		elapsed = int(c.now().Sub(c.startedAt) / time.Second)
	}
	return Snapshot{
		Running:         c.running,
		Total:           c.total,
		Sent:            c.sent,
		Errors:          c.errors,
		RequestedBy:     c.requestedBy,
		CancelRequested: c.cancelRequested,
		ElapsedSeconds:  elapsed,
	}
}
