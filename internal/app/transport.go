package app

import (
	"context"
	"path/filepath"
	"time"

	tele "gopkg.in/telebot.v3"
)

type textSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// transport adapts the bot to the small send interfaces of the core
// packages.
type transport struct {
	bot *tele.Bot
}

func (t *transport) SendAlert(ctx context.Context, chatID int64, text string) error {
	return runCtx(ctx, func() error {
		_, err := t.bot.Send(&tele.User{ID: chatID}, text, tele.ModeHTML, tele.NoPreview)
		return err
	})
}

func (t *transport) DeliverFile(ctx context.Context, chatID int64, path, caption string) error {
	doc := &tele.Document{
		File:     tele.FromDisk(path),
		FileName: filepath.Base(path),
		Caption:  caption,
	}
	return sendWithRetry(ctx, 3, 500*time.Millisecond, func() error {
		_, err := t.bot.Send(&tele.User{ID: chatID}, doc)
		return err
	})
}

func (t *transport) SendText(ctx context.Context, chatID int64, text string) error {
	return runCtx(ctx, func() error {
		_, err := t.bot.Send(&tele.User{ID: chatID}, text, tele.ModeHTML)
		return err
	})
}

// runCtx gives up waiting when ctx ends; telebot calls take no context.
func runCtx(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
