// Package alerts forwards error-level log entries to owner chats.
//
// The logger side only publishes onto a bounded queue; a single goroutine
// started with Run applies the global rate limit and talks to the transport.
package alerts

import (
	"context"
	"fmt"
	"html"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sender is the outbound transport, normally the Telegram bot.
type Sender interface {
	SendAlert(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

func (f SenderFunc) SendAlert(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

// Event is one formatted log record waiting for delivery.
type Event struct {
	Level zapcore.Level
	Time  time.Time
	Text  string
}

type Config struct {
	Recipients        []int64
	CriticalRecipient int64
	MinInterval       time.Duration
	MaxLength         int
	QueueSize         int
	SendTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinInterval: 30 * time.Second,
		MaxLength:   3500,
		QueueSize:   64,
		SendTimeout: 10 * time.Second,
	}
}

// Stats counts what happened to published events.
type Stats struct {
	Forwarded  int64
	Suppressed int64
	Dropped    int64
}

type senderBox struct{ s Sender }

type Forwarder struct {
	cfg     Config
	queue   chan Event
	sender  atomic.Pointer[senderBox]
	running atomic.Bool
	now     func() time.Time
	log     atomic.Pointer[zap.Logger]
	breaker *gobreaker.CircuitBreaker

	// lastSent is owned by the Run goroutine.
	lastSent time.Time

	forwarded  atomic.Int64
	suppressed atomic.Int64
	dropped    atomic.Int64
}

func New(cfg Config) *Forwarder {
	def := DefaultConfig()
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	f := &Forwarder{
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueSize),
		now:   time.Now,
	}
	f.log.Store(zap.NewNop())
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "owner-alerts",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return f
}

// SetLogger sets the logger for delivery failures. Only warn level is used
// so the forwarder never feeds itself.
func (f *Forwarder) SetLogger(log *zap.Logger) {
	if log != nil {
		f.log.Store(log)
	}
}

// Bind attaches the transport. Until then every event is dropped.
func (f *Forwarder) Bind(s Sender) {
	if s == nil {
		f.sender.Store(nil)
		return
	}
	f.sender.Store(&senderBox{s: s})
}

func (f *Forwarder) currentSender() Sender {
	if b := f.sender.Load(); b != nil {
		return b.s
	}
	return nil
}

func (f *Forwarder) Running() bool { return f.running.Load() }

func (f *Forwarder) Stats() Stats {
	return Stats{
		Forwarded:  f.forwarded.Load(),
		Suppressed: f.suppressed.Load(),
		Dropped:    f.dropped.Load(),
	}
}

// publish never blocks; a full queue drops the event.
func (f *Forwarder) publish(ev Event) {
	if !f.running.Load() || f.currentSender() == nil {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Run drains the queue until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	f.running.Store(true)
	defer f.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			f.handle(ctx, ev)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, ev Event) bool {
	s := f.currentSender()
	if s == nil {
		f.dropped.Add(1)
		return false
	}
	now := f.now()
	if !f.lastSent.IsZero() && now.Sub(f.lastSent) < f.cfg.MinInterval {
		f.suppressed.Add(1)
		return false
	}
	f.lastSent = now

	text := Format(ev, f.cfg.MaxLength)
	for _, chatID := range f.targets(ev.Level) {
		sendCtx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)
		_, err := f.breaker.Execute(func() (any, error) {
			return nil, s.SendAlert(sendCtx, chatID, text)
		})
		cancel()
		if err != nil {
			f.log.Load().Warn("⚠️ Не удалось отправить алерт владельцу",
				zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	f.forwarded.Add(1)
	return true
}

func (f *Forwarder) targets(level zapcore.Level) []int64 {
	if level >= zapcore.DPanicLevel && f.cfg.CriticalRecipient != 0 {
		return []int64{f.cfg.CriticalRecipient}
	}
	return f.cfg.Recipients
}

// Format keeps the trailing maxLen runes of the record, where the error
// details usually are.
func Format(ev Event, maxLen int) string {
	r := []rune(ev.Text)
	if maxLen > 0 && len(r) > maxLen {
		r = r[len(r)-maxLen:]
	}
	return fmt.Sprintf("🚨 <b>%s</b>\n<code>%s</code>", ev.Level.CapitalString(), html.EscapeString(string(r)))
}
