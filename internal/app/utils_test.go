package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{5*time.Hour + 7*time.Minute, "5h7m"},
		{50 * time.Hour, "2d2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Fatalf("formatDuration(%s) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(26*time.Hour + 3*time.Minute + 9*time.Second); got != "26:03:09" {
		t.Fatalf("formatClock = %q", got)
	}
	if got := formatClock(0); got != "00:00:00" {
		t.Fatalf("formatClock(0) = %q", got)
	}
}

func TestShortenCountsRunes(t *testing.T) {
	if got := shorten("привет мир", 6); got != "привет..." {
		t.Fatalf("shorten = %q", got)
	}
	if got := shorten("ok", 10); got != "ok" {
		t.Fatalf("shorten = %q", got)
	}
	if got := shorten("ok", 0); got != "" {
		t.Fatalf("shorten with zero limit = %q", got)
	}
}

func TestParseCommandArg(t *testing.T) {
	tests := map[string]string{
		"/find  Иван":          "Иван",
		"/broadcast":           "",
		"/broadcast line1\nl2": "line1\nl2",
		"plain text":           "plain text",
		"/setcontent faq  hi ": "faq  hi",
	}
	for in, want := range tests {
		if got := parseCommandArg(in); got != want {
			t.Fatalf("parseCommandArg(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		sb.WriteString("line ")
		sb.WriteString(string(rune('0' + i%10)))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := tailLines(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != "line 8\nline 9\nline 0" {
		t.Fatalf("tailLines = %q", got)
	}

	if _, err := tailLines(filepath.Join(t.TempDir(), "missing.log"), 3); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSendWithRetry(t *testing.T) {
	calls := 0
	err := sendWithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("flood")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = sendWithRetry(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRunCtxGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	block := make(chan struct{})
	defer close(block)
	err := runCtx(ctx, func() error {
		<-block
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
