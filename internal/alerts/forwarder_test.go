package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type sentAlert struct {
	chatID int64
	text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentAlert
	err  error
}

func (r *recordingSender) SendAlert(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentAlert{chatID: chatID, text: text})
	return r.err
}

func (r *recordingSender) messages() []sentAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentAlert(nil), r.sent...)
}

func startForwarder(t *testing.T, f *Forwarder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.Run(ctx)
	require.Eventually(t, f.Running, time.Second, time.Millisecond)
}

func TestTwoErrorsWithinIntervalForwardOnce(t *testing.T) {
	f := New(Config{Recipients: []int64{100}, MinInterval: time.Minute})
	sender := &recordingSender{}
	f.Bind(sender)
	startForwarder(t, f)

	log := zap.New(f.Core())
	log.Error("db is locked")
	log.Error("db is still locked")

	require.Eventually(t, func() bool { return f.Stats().Suppressed == 1 }, time.Second, time.Millisecond)
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(100), msgs[0].chatID)
	require.Contains(t, msgs[0].text, "🚨 <b>ERROR</b>")
	require.Contains(t, msgs[0].text, "db is locked")
}

func TestForwardsAgainAfterInterval(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f := New(Config{Recipients: []int64{100, 200}, MinInterval: 30 * time.Second})
	f.now = func() time.Time { return now }
	sender := &recordingSender{}
	f.Bind(sender)

	ctx := context.Background()
	require.True(t, f.handle(ctx, Event{Level: zapcore.ErrorLevel, Text: "first"}))
	now = now.Add(10 * time.Second)
	require.False(t, f.handle(ctx, Event{Level: zapcore.ErrorLevel, Text: "second"}))
	now = now.Add(25 * time.Second)
	require.True(t, f.handle(ctx, Event{Level: zapcore.ErrorLevel, Text: "third"}))

	msgs := sender.messages()
	require.Len(t, msgs, 4)
	require.Equal(t, Stats{Forwarded: 2, Suppressed: 1}, f.Stats())
}

func TestWarnLevelIsIgnored(t *testing.T) {
	f := New(Config{Recipients: []int64{100}})
	sender := &recordingSender{}
	f.Bind(sender)
	startForwarder(t, f)

	log := zap.New(f.Core())
	log.Warn("slow update")
	log.Info("hello")

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sender.messages())
	require.Equal(t, Stats{}, f.Stats())
}

func TestDropsWithoutSender(t *testing.T) {
	f := New(Config{Recipients: []int64{100}})
	startForwarder(t, f)

	log := zap.New(f.Core())
	require.NotPanics(t, func() { log.Error("startup failure") })
	require.Equal(t, int64(1), f.Stats().Dropped)
}

func TestDropsWhenNotRunning(t *testing.T) {
	f := New(Config{Recipients: []int64{100}})
	sender := &recordingSender{}
	f.Bind(sender)

	log := zap.New(f.Core())
	log.Error("nobody is draining")
	require.Equal(t, int64(1), f.Stats().Dropped)
	require.Empty(t, sender.messages())
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	f := New(Config{Recipients: []int64{100}, QueueSize: 1})
	f.Bind(&recordingSender{})
	f.running.Store(true)

	f.publish(Event{Level: zapcore.ErrorLevel, Text: "a"})
	f.publish(Event{Level: zapcore.ErrorLevel, Text: "b"})
	f.publish(Event{Level: zapcore.ErrorLevel, Text: "c"})
	require.Equal(t, int64(2), f.Stats().Dropped)
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	f := New(Config{Recipients: []int64{100}})
	f.Bind(&recordingSender{err: errors.New("telegram: Forbidden")})

	require.NotPanics(t, func() {
		require.True(t, f.handle(context.Background(), Event{Level: zapcore.ErrorLevel, Text: "boom"}))
	})
}

func TestCriticalGoesToCriticalRecipient(t *testing.T) {
	f := New(Config{Recipients: []int64{100, 200}, CriticalRecipient: 300})
	sender := &recordingSender{}
	f.Bind(sender)

	f.handle(context.Background(), Event{Level: zapcore.DPanicLevel, Text: "panic"})
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(300), msgs[0].chatID)
}

func TestFormatKeepsTail(t *testing.T) {
	text := strings.Repeat("a", 10) + "<tail>"
	out := Format(Event{Level: zapcore.ErrorLevel, Text: text}, 8)
	require.Equal(t, "🚨 <b>ERROR</b>\n<code>aa&lt;tail&gt;</code>", out)
}

func TestCoreWithKeepsFields(t *testing.T) {
	f := New(Config{Recipients: []int64{100}})
	sender := &recordingSender{}
	f.Bind(sender)
	startForwarder(t, f)

	log := zap.New(f.Core()).With(zap.String("component", "backup"))
	log.Error("copy failed", zap.Int64("user_id", 42))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, time.Millisecond)
	text := sender.messages()[0].text
	require.Contains(t, text, "backup")
	require.Contains(t, text, "42")
}
