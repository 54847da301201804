// Package antispam throttles chat interactions per user and escalates
// repeat offenders into timed mutes.
package antispam

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind separates interaction streams that are limited independently.
type Kind string

const (
	KindMessage  Kind = "message"
	KindCallback Kind = "callback"
)

// Notice tells the caller which throttling text, if any, to show.
type Notice int

const (
	NoticeNone Notice = iota
	NoticeWarning
	NoticeMuted
	NoticeStillMuted
)

func (n Notice) String() string {
	switch n {
	case NoticeWarning:
		return "warning"
	case NoticeMuted:
		return "muted"
	case NoticeStillMuted:
		return "still_muted"
	default:
		return "none"
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Notice  Notice
	// Minutes is the mute length (NoticeMuted) or the time left
	// (NoticeStillMuted), never below 1.
	Minutes int
	// MuteFor is set only when this evaluation triggered a new mute.
	MuteFor time.Duration
}

const shardCount = 32

type userState struct {
	lastEvent   map[Kind]time.Time
	lastWarning map[Kind]time.Time
	warnings    int
	windowStart time.Time
	mutedUntil  time.Time
	level       int
	seen        time.Time
}

type shard struct {
	mu    sync.Mutex
	users map[int64]*userState
}

// Limiter is safe for concurrent use. State is sharded by user id so that
// unrelated users do not contend on one mutex.
type Limiter struct {
	cfg    Config
	exempt map[int64]struct{}
	now    func() time.Time
	log    *zap.Logger
	shards [shardCount]shard
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for fail-open reports.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:    cfg,
		exempt: make(map[int64]struct{}, len(cfg.Exempt)),
		now:    time.Now,
		log:    zap.NewNop(),
	}
	l.cfg.MuteDurations = append([]time.Duration(nil), cfg.MuteDurations...)
	for _, id := range cfg.Exempt {
		l.exempt[id] = struct{}{}
	}
	for i := range l.shards {
		l.shards[i].users = make(map[int64]*userState)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// IsExempt reports whether the user bypasses limiting.
func (l *Limiter) IsExempt(userID int64) bool {
	_, ok := l.exempt[userID]
	return ok
}

// Evaluate classifies one interaction. It never blocks on I/O and never
// fails: userID 0 (no identifiable sender) and exempt users always pass, and
// an internal panic lets the event through.
func (l *Limiter) Evaluate(userID int64, kind Kind) (d Decision) {
	if l == nil || userID == 0 || l.IsExempt(userID) {
		return Decision{Allowed: true}
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("💥 antispam: panic during evaluation, event allowed",
				zap.Int64("user_id", userID), zap.String("kind", string(kind)), zap.Any("panic", r))
			d = Decision{Allowed: true}
		}
	}()

	now := l.now()
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.users[userID]
	if st == nil {
		st = &userState{
			lastEvent:   make(map[Kind]time.Time, 2),
			lastWarning: make(map[Kind]time.Time, 2),
		}
		sh.users[userID] = st
	}
	st.seen = now

	if now.Before(st.mutedUntil) {
		if !l.noticeDue(st, kind, now) {
			return Decision{}
		}
		st.lastWarning[kind] = now
		return Decision{Notice: NoticeStillMuted, Minutes: wholeMinutes(st.mutedUntil.Sub(now))}
	}

	last, seen := st.lastEvent[kind]
	if !seen || now.Sub(last) >= l.cfg.Interval {
		st.lastEvent[kind] = now
		return Decision{Allowed: true}
	}

	if !l.noticeDue(st, kind, now) {
		return Decision{}
	}
	st.lastWarning[kind] = now

	if st.windowStart.IsZero() || now.Sub(st.windowStart) > l.cfg.WarningWindow {
		st.windowStart = now
		st.warnings = 0
	}
	st.warnings++
	if st.warnings < l.cfg.WarningsBeforeMute {
		return Decision{Notice: NoticeWarning}
	}

	idx := st.level
	if idx > len(l.cfg.MuteDurations)-1 {
		idx = len(l.cfg.MuteDurations) - 1
	}
	dur := l.cfg.MuteDurations[idx]
	st.mutedUntil = now.Add(dur)
	st.level++
	st.warnings = 0
	st.windowStart = now
	return Decision{Notice: NoticeMuted, Minutes: wholeMinutes(dur), MuteFor: dur}
}

func (l *Limiter) noticeDue(st *userState, kind Kind, now time.Time) bool {
	last, ok := st.lastWarning[kind]
	return !ok || now.Sub(last) >= l.cfg.WarningCooldown
}

func (l *Limiter) shardFor(userID int64) *shard {
	return &l.shards[uint64(userID)%shardCount]
}

// Level returns how many times the user has been muted.
func (l *Limiter) Level(userID int64) int {
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st := sh.users[userID]; st != nil {
		return st.level
	}
	return 0
}

// Stats is a point-in-time view for the dev panel.
type Stats struct {
	Tracked int
	Muted   int
}

func (l *Limiter) Stats() Stats {
	now := l.now()
	var s Stats
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		s.Tracked += len(sh.users)
		for _, st := range sh.users {
			if now.Before(st.mutedUntil) {
				s.Muted++
			}
		}
		sh.mu.Unlock()
	}
	return s
}

// Prune forgets users idle for longer than maxAge. Users who have been muted
// at least once are kept so their escalation level survives.
func (l *Limiter) Prune(maxAge time.Duration) int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for id, st := range sh.users {
			if st.level > 0 || now.Before(st.mutedUntil) {
				continue
			}
			if now.Sub(st.seen) > maxAge {
				delete(sh.users, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func wholeMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
