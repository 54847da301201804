package app

import (
	"time"

	"go.uber.org/zap"
)

const housekeepingEvery = 30 * time.Minute

// watchdog remembers the previous sample so growth can be reported.
type watchdog struct {
	lastGoroutines int
	lastAliveLog   time.Time
}

func (a *App) startHousekeeping() {
	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()

	var wd watchdog
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
		if n := a.limiter.Prune(a.cfg.Antispam.PruneAfter); n > 0 {
			a.log.Debug("🧹 Очищено состояние антиспама", zap.Int("users", n))
		}
		a.monitorRuntime(&wd)
	}
}

func (a *App) monitorRuntime(wd *watchdog) {
	gor, alloc, _, sys := runtimeStats()
	if wd.lastGoroutines > 0 && gor > wd.lastGoroutines+300 {
		a.log.Warn("⚠️ Возможная утечка goroutines", zap.Int("was", wd.lastGoroutines), zap.Int("now", gor))
	}
	if gor > 2000 {
		a.log.Warn("⚠️ Много goroutines", zap.Int("goroutines", gor))
	}
	if alloc > 600*1024*1024 {
		a.log.Warn("⚠️ Высокое потребление памяти", zap.String("alloc", formatBytes(alloc)), zap.String("sys", formatBytes(sys)))
	}
	if wd.lastAliveLog.IsZero() || time.Since(wd.lastAliveLog) > 6*time.Hour {
		a.log.Info("💓 Watchdog",
			zap.String("uptime", formatDuration(time.Since(a.startedAt))),
			zap.Int("goroutines", gor),
			zap.String("mem", formatBytes(alloc)))
		wd.lastAliveLog = time.Now()
	}
	wd.lastGoroutines = gor
}
