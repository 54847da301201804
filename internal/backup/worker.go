package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Deliverer sends a backup file to one chat.
type Deliverer interface {
	DeliverFile(ctx context.Context, chatID int64, path, caption string) error
}

// Auditor is satisfied by *audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, actorID int64, role, action string, details map[string]any)
}

// Outcome reports one worker cycle. Delivered holds the targets that got the file.
type Outcome struct {
	Path      string
	Delivered []int64
	Err       error
}

type Worker struct {
	Service   *Service
	Interval  time.Duration
	Targets   []int64
	Deliverer Deliverer
	Audit     Auditor
	Log       *zap.Logger
	// OnCycle is called after every attempt, for metrics.
	OnCycle func(Outcome)
}

// Run sleeps Interval, then backs up and delivers, until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger()
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log.Info("💾 Автобэкап запущен", zap.Duration("interval", interval), zap.Int64s("targets", w.Targets))

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("🛑 Автобэкап остановлен")
			return
		case <-timer.C:
		}

		out := w.RunOnce(ctx)
		if out.Err != nil {
			log.Error("❌ Ошибка автобэкапа", zap.Error(out.Err))
		}
		if w.OnCycle != nil {
			w.OnCycle(out)
		}
		timer.Reset(interval)
	}
}

// RunOnce creates one backup and sends it to every target. A cancelled ctx
// stops delivery after the current file.
func (w *Worker) RunOnce(ctx context.Context) Outcome {
	log := w.logger()
	path, err := w.Service.Create(ctx)
	if err != nil {
		return Outcome{Err: fmt.Errorf("create backup: %w", err)}
	}
	out := Outcome{Path: path}

	caption := "💾 Автобэкап БД: " + filepath.Base(path)
	for _, id := range w.Targets {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			break
		}
		if w.Deliverer == nil {
			break
		}
		if err := w.Deliverer.DeliverFile(ctx, id, path, caption); err != nil {
			log.Warn("⚠️ Не удалось отправить бэкап", zap.Int64("chat_id", id), zap.Error(err))
			continue
		}
		out.Delivered = append(out.Delivered, id)
	}

	if w.Audit != nil && len(out.Delivered) > 0 {
		w.Audit.Record(context.WithoutCancel(ctx), 0, "system", "auto_backup_sent", map[string]any{
			"file":    path,
			"targets": out.Delivered,
		})
	}
	log.Info("✅ Автобэкап создан", zap.String("file", path), zap.Int("delivered", len(out.Delivered)))
	return out
}

func (w *Worker) logger() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}
