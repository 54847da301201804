package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/optikakg/optika_tg/internal/backup"
)

// startScheduler launches the auto-backup worker.
func (a *App) startScheduler(tr *transport) {
	if len(a.cfg.Backup.TargetIDs) == 0 {
		a.log.Warn("⚠️ Нет получателей автобэкапа, планировщик не запущен")
		return
	}
	w := &backup.Worker{
		Service:   a.backups,
		Interval:  a.cfg.Backup.Interval,
		Targets:   a.cfg.Backup.TargetIDs,
		Deliverer: tr,
		Audit:     a.audit,
		Log:       a.log.Named("backup"),
		OnCycle: func(out backup.Outcome) {
			a.countBackup("auto", out.Err)
		},
	}
	a.safeGo("auto-backup", func() { w.Run(a.ctx) })
}

// performBackup makes a backup on demand; the caller delivers it.
func (a *App) performBackup(ctx context.Context, actorID int64) (string, error) {
	path, err := a.backups.Create(ctx)
	a.countBackup("manual", err)
	if err != nil {
		a.log.Error("❌ Ошибка ручного бэкапа", zap.Int64("actor", actorID), zap.Error(err))
		return "", err
	}
	a.log.Info("💾 Бэкап создан", zap.String("path", path), zap.Int64("actor", actorID))
	a.logStaffAction(ctx, actorID, "db_backup_created", map[string]any{"file": path})
	return path, nil
}

// restoreLatest swaps the live database for the newest backup while the
// store is closed.
func (a *App) restoreLatest(ctx context.Context, actorID int64) (string, error) {
	var restored string
	err := a.store.Reopen(func() error {
		p, err := a.backups.Restore()
		restored = p
		return err
	})
	if err != nil {
		return "", err
	}
	a.content.Invalidate()
	a.log.Warn("♻️ БД восстановлена из бэкапа", zap.String("file", restored), zap.Int64("actor", actorID))
	a.logStaffAction(ctx, actorID, "db_restore_from_backup", map[string]any{"file": restored})
	return restored, nil
}

func (a *App) countBackup(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.metrics.Backups.WithLabelValues(trigger, result).Inc()
}
