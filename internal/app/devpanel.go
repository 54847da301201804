package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/backup"
)

// Telegram caps a message at 4096 characters, longer dumps go out as files.
const (
	logTailLines    = 400
	errorTailLines  = 200
	auditTailSize   = 500
	inlineTextLimit = 3500
)

var (
	devMenu             = &tele.ReplyMarkup{}
	btnDevStatus        = devMenu.Data("✅ Статус бота", "dev_status")
	btnDevDBStats       = devMenu.Data("📊 Статистика БД", "dev_db_stats")
	btnDevBroadcast     = devMenu.Data("📨 Статус рассылки", "dev_broadcast_status")
	btnDevBroadcastStop = devMenu.Data("⛔ Остановить рассылку", "dev_broadcast_stop")
	btnDevHealth        = devMenu.Data("🧪 Health-check логов", "dev_health_check")
	btnDevLogs          = devMenu.Data("📄 Последние логи", "dev_get_logs")
	btnDevErrors        = devMenu.Data("🚨 Ошибки из логов", "dev_get_errors")
	btnDevAudit         = devMenu.Data("🧾 Audit-log", "dev_get_audit")
	btnDevBackup        = devMenu.Data("💾 Backup БД + скачать", "dev_backup_db")
	btnDevLatestBackup  = devMenu.Data("📦 Последний backup", "dev_latest_backup")
	btnDevRestore       = devMenu.Data("♻️ Restore из backup", "dev_restore_backup")
	btnDevChart         = devMenu.Data("📈 График активности", "dev_activity_chart")
	btnDevLimiter       = devMenu.Data("🛡 Антиспам", "dev_limiter_stats")
)

func init() {
	devMenu.Inline(
		devMenu.Row(btnDevStatus, btnDevDBStats),
		devMenu.Row(btnDevBroadcast, btnDevBroadcastStop),
		devMenu.Row(btnDevHealth, btnDevLimiter),
		devMenu.Row(btnDevLogs, btnDevErrors),
		devMenu.Row(btnDevAudit, btnDevChart),
		devMenu.Row(btnDevBackup, btnDevLatestBackup),
		devMenu.Row(btnDevRestore),
	)
}

func (a *App) registerDevPanel(b *tele.Bot) {
	handlers := map[*tele.Btn]tele.HandlerFunc{
		&btnDevStatus:        a.devStatus,
		&btnDevDBStats:       a.devDBStats,
		&btnDevBroadcast:     a.devBroadcastStatus,
		&btnDevBroadcastStop: a.devBroadcastStop,
		&btnDevHealth:        a.devHealthCheck,
		&btnDevLogs:          a.devLogs,
		&btnDevErrors:        a.devErrors,
		&btnDevAudit:         a.devAudit,
		&btnDevBackup:        a.devBackup,
		&btnDevLatestBackup:  a.devLatestBackup,
		&btnDevRestore:       a.devRestore,
		&btnDevChart:         a.devChart,
		&btnDevLimiter:       a.devLimiter,
	}
	for btn, h := range handlers {
		b.Handle(btn, a.ownerOnly(h))
	}
}

// ownerOnly answers the callback and hides the panel from everyone else.
func (a *App) ownerOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermDevPanel) {
			return c.Respond(&tele.CallbackResponse{Text: "Доступ запрещён", ShowAlert: true})
		}
		_ = c.Respond()
		return h(c)
	}
}

func (a *App) HandleDevPanel(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermDevPanel) {
		return nil
	}
	return c.Send("🛠 <b>Панель разработчика</b>\n\nВыберите действие:", devMenu, tele.ModeHTML)
}

func (a *App) devStatus(c tele.Context) error {
	return c.Send(a.buildStatusText(), devMenu, tele.ModeHTML)
}

func (a *App) devDBStats(c tele.Context) error {
	text, err := a.buildDBStatsText(a.ctx)
	if err != nil {
		a.log.Error("❌ Ошибка статистики БД", zap.Error(err))
		return c.Send("❌ Ошибка БД.", devMenu)
	}
	return c.Send(text, devMenu, tele.ModeHTML)
}

func (a *App) devBroadcastStatus(c tele.Context) error {
	return c.Send(broadcastStatusText(a.broadcasts.Snapshot()), devMenu, tele.ModeHTML)
}

func (a *App) devBroadcastStop(c tele.Context) error {
	a.stopBroadcast(c.Sender().ID)
	return c.Send("⛔ Запрос на остановку рассылки отправлен.", devMenu)
}

func (a *App) devHealthCheck(c tele.Context) error {
	a.log.Info("🧪 DEV_PANEL_HEALTH_CHECK", zap.Int64("owner_id", c.Sender().ID))
	dbState := "✅ БД отвечает"
	if err := a.store.Ping(a.ctx); err != nil {
		dbState = "❌ БД: " + err.Error()
	}
	return c.Send("🧪 Health-check выполнен: записал тестовую строку в лог.\n"+dbState, devMenu)
}

func (a *App) devLogs(c tele.Context) error {
	text, err := tailLines(logFilePath(a.cfg.Logging), logTailLines)
	if err != nil || strings.TrimSpace(text) == "" {
		return c.Send("Лог-файл пуст. Нажмите «🧪 Health-check», затем попробуйте снова.", devMenu)
	}
	return a.sendTextFile(c, text, "bot-log-tail.txt", fmt.Sprintf("📄 Последние %d строк логов", logTailLines))
}

func (a *App) devErrors(c tele.Context) error {
	text, err := tailLines(errLogPath(a.cfg.Logging), errorTailLines)
	if errors.Is(err, os.ErrNotExist) {
		return c.Send("Лог-файл не найден.", devMenu)
	}
	if err != nil || strings.TrimSpace(text) == "" {
		return c.Send("Ошибок в логах не найдено ✅", devMenu)
	}
	return a.sendTextFile(c, text, "errors-tail.txt", "🚨 Последние WARN/ERROR")
}

func (a *App) devAudit(c tele.Context) error {
	events, err := a.audit.Tail(a.ctx, auditTailSize)
	if err != nil {
		a.log.Error("❌ Не удалось прочитать audit-log", zap.Error(err))
		return c.Send("❌ Не удалось прочитать audit-log.", devMenu)
	}
	if len(events) == 0 {
		return c.Send("Audit-log пуст.", devMenu)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ev := range events {
		_ = enc.Encode(ev)
	}
	return a.sendTextFile(c, buf.String(), "audit-log-tail.jsonl", fmt.Sprintf("🧾 Последние %d записей audit-log", len(events)))
}

func (a *App) devBackup(c tele.Context) error {
	path, err := a.performBackup(a.ctx, c.Sender().ID)
	if errors.Is(err, backup.ErrNoDatabase) {
		return c.Send("Файл БД не найден.", devMenu)
	}
	if err != nil {
		return c.Send("❌ Не удалось создать backup.", devMenu)
	}
	_ = c.Send(fmt.Sprintf("✅ Backup создан: <code>%s</code>", path), devMenu, tele.ModeHTML)
	return c.Send(&tele.Document{File: tele.FromDisk(path), FileName: filepath.Base(path), Caption: "💾 Backup БД"})
}

func (a *App) devLatestBackup(c tele.Context) error {
	latest, err := a.backups.Latest()
	if errors.Is(err, backup.ErrNoBackups) {
		return c.Send("Нет backup-файлов.", devMenu)
	}
	if err != nil {
		a.log.Error("❌ Ошибка чтения каталога бэкапов", zap.Error(err))
		return c.Send("❌ Не удалось прочитать каталог бэкапов.", devMenu)
	}
	return c.Send(&tele.Document{
		File:     tele.FromDisk(latest),
		FileName: filepath.Base(latest),
		Caption:  "📦 Последний backup: " + filepath.Base(latest),
	})
}

func (a *App) devRestore(c tele.Context) error {
	restored, err := a.restoreLatest(a.ctx, c.Sender().ID)
	if errors.Is(err, backup.ErrNoBackups) {
		return c.Send("Нет backup-файлов для восстановления.", devMenu)
	}
	if err != nil {
		a.log.Error("❌ Ошибка восстановления БД", zap.Error(err))
		return c.Send("❌ Не удалось восстановить БД.", devMenu)
	}
	return c.Send(fmt.Sprintf("♻️ Восстановлено из: <code>%s</code>", filepath.Base(restored)), devMenu, tele.ModeHTML)
}

func (a *App) devChart(c tele.Context) error {
	png, err := activityChart(a.metrics.Runtime.PerMinute(activityMinutes))
	if err != nil {
		a.log.Warn("⚠️ Не удалось построить график", zap.Error(err))
		return c.Send("Не удалось построить график.", devMenu)
	}
	return c.Send(&tele.Photo{
		File:    tele.FromReader(bytes.NewReader(png)),
		Caption: fmt.Sprintf("📈 Апдейты за последние %d минут", activityMinutes),
	})
}

func (a *App) devLimiter(c tele.Context) error {
	return c.Send(a.buildLimiterText(), devMenu, tele.ModeHTML)
}

// sendTextFile sends short output inline and the rest as a document.
func (a *App) sendTextFile(c tele.Context, text, name, caption string) error {
	if len([]rune(text)) <= inlineTextLimit {
		return c.Send(caption+"\n\n<pre>"+html.EscapeString(text)+"</pre>", devMenu, tele.ModeHTML)
	}
	return c.Send(&tele.Document{
		File:     tele.FromReader(strings.NewReader(text)),
		FileName: name,
		Caption:  caption,
	})
}
