package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/broadcast"
	"github.com/optikakg/optika_tg/internal/store"
)

const broadcastHeader = "📢 <b>Сообщение от оптики:</b>\n\n"

var (
	broadcastConfirmMenu = &tele.ReplyMarkup{}
	btnBroadcastConfirm  = broadcastConfirmMenu.Data("✅ Отправить всем", "bc_confirm")
	btnBroadcastCancel   = broadcastConfirmMenu.Data("✖️ Отмена", "bc_cancel")

	broadcastRunMenu = &tele.ReplyMarkup{}
	btnBroadcastStop = broadcastRunMenu.Data("⛔ Остановить", "bc_stop")
)

func init() {
	broadcastConfirmMenu.Inline(broadcastConfirmMenu.Row(btnBroadcastConfirm, btnBroadcastCancel))
	broadcastRunMenu.Inline(broadcastRunMenu.Row(btnBroadcastStop))
}

// ==========================================
// РАССЫЛКА
// ==========================================

func (a *App) HandleBroadcast(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermBroadcast) {
		return nil
	}
	text := parseCommandArg(c.Text())
	if text == "" {
		return c.Reply("⚠️ Ошибка синтаксиса.\nИспользуйте: <code>/broadcast Текст</code>", tele.ModeHTML)
	}
	if a.broadcasting.Load() {
		return c.Reply("⏳ Рассылка уже идёт. Дождитесь окончания или остановите её в /dev.")
	}
	a.setPending(c.Sender().ID, text)
	preview := fmt.Sprintf("📨 <b>Предпросмотр рассылки</b>\n\n%s\n\nОтправить всем клиентам?", html.EscapeString(shorten(text, 3000)))
	return c.Reply(preview, broadcastConfirmMenu, tele.ModeHTML)
}

func (a *App) onBroadcastConfirm(c tele.Context) error {
	id := c.Sender().ID
	if !a.hasPermission(a.ctx, id, PermBroadcast) {
		return c.Respond(&tele.CallbackResponse{Text: "Доступ запрещён", ShowAlert: true})
	}
	text, ok := a.takePending(id)
	if !ok {
		_ = c.Respond()
		return tryEdit(c, "Нет сообщения для рассылки. Отправьте /broadcast заново.")
	}
	recipients, err := a.store.BroadcastRecipients(a.ctx)
	if err != nil {
		a.log.Error("❌ Не удалось получить адресатов рассылки", zap.Error(err))
		return c.Respond(&tele.CallbackResponse{Text: "Ошибка БД", ShowAlert: true})
	}
	if len(recipients) == 0 {
		_ = c.Respond()
		return tryEdit(c, "📭 Список адресатов пуст.")
	}
	if !a.broadcasting.CompareAndSwap(false, true) {
		return c.Respond(&tele.CallbackResponse{Text: "Рассылка уже идёт", ShowAlert: true})
	}
	_ = c.Respond()
	_ = tryEdit(c, fmt.Sprintf("🚀 <b>Начинаю рассылку...</b>\nАдресатов: %d", len(recipients)), broadcastRunMenu, tele.ModeHTML)
	a.startBroadcast(id, text, recipients, c.Message())
	return nil
}

func (a *App) onBroadcastCancel(c tele.Context) error {
	a.takePending(c.Sender().ID)
	_ = c.Respond()
	return tryEdit(c, "Рассылка отменена.")
}

func (a *App) onBroadcastStop(c tele.Context) error {
	id := c.Sender().ID
	if !a.hasPermission(a.ctx, id, PermBroadcast) {
		return c.Respond(&tele.CallbackResponse{Text: "Доступ запрещён", ShowAlert: true})
	}
	a.stopBroadcast(id)
	return c.Respond(&tele.CallbackResponse{Text: "Запрос на остановку отправлен"})
}

func (a *App) stopBroadcast(actorID int64) {
	a.broadcasts.RequestCancel()
	a.log.Info("⛔ Запрошена остановка рассылки", zap.Int64("actor", actorID))
	a.logStaffAction(a.ctx, actorID, "broadcast_stop_requested", nil)
}

// startBroadcast runs the fan-out in the background. progress, when set, is
// the message that gets edited with live counters.
func (a *App) startBroadcast(requestedBy int64, text string, recipients []int64, progress *tele.Message) {
	a.runHeavy("broadcast", func() {
		defer a.broadcasting.Store(false)
		res := a.runBroadcast(a.ctx, requestedBy, text, recipients, progress)

		report := broadcastReport(res, len(recipients))
		if a.sender != nil {
			if err := a.sender.SendText(a.ctx, requestedBy, report); err != nil {
				a.log.Warn("⚠️ Не удалось отправить отчет рассылки", zap.Error(err))
			}
		}
	})
}

func (a *App) runBroadcast(ctx context.Context, requestedBy int64, text string, recipients []int64, progress *tele.Message) broadcast.Result {
	a.logStaffAction(ctx, requestedBy, "broadcast_started", map[string]any{
		"recipients": len(recipients),
		"text":       text,
	})
	runner := &broadcast.Runner{
		Coordinator:   a.broadcasts,
		Pacing:        a.cfg.Broadcast.Pacing,
		ProgressEvery: a.cfg.Broadcast.ProgressEvery,
		Log:           a.log.Named("broadcast"),
		OnProgress: func(s broadcast.Snapshot) {
			if progress == nil || a.bot == nil {
				return
			}
			if _, err := a.bot.Edit(progress, broadcastProgressText(s), broadcastRunMenu, tele.ModeHTML); err != nil {
				a.log.Debug("progress edit failed", zap.Error(err))
			}
		},
	}
	// the owner's text goes out as typed, not as markup
	body := broadcastHeader + html.EscapeString(text)
	res := runner.Run(ctx, requestedBy, recipients, func(ctx context.Context, chatID int64) error {
		if a.sender == nil {
			return errors.New("bot is not running")
		}
		err := a.sender.SendText(ctx, chatID, body)
		result := "ok"
		if err != nil {
			result = "error"
		}
		a.metrics.BroadcastSends.WithLabelValues(result).Inc()
		return err
	})

	a.log.Info("📨 Рассылка завершена",
		zap.Int("sent", res.Sent),
		zap.Int("errors", res.Errors),
		zap.Bool("cancelled", res.Cancelled))
	a.logStaffAction(ctx, requestedBy, "broadcast_finished", map[string]any{
		"sent":      res.Sent,
		"errors":    res.Errors,
		"total":     len(recipients),
		"cancelled": res.Cancelled,
	})
	return res
}

func broadcastProgressText(s broadcast.Snapshot) string {
	return fmt.Sprintf("🚀 <b>Рассылка идёт</b>\nОтправлено: %d/%d\nОшибок: %d\nПрошло: %d сек",
		s.Sent, s.Total, s.Errors, s.ElapsedSeconds)
}

func broadcastReport(res broadcast.Result, total int) string {
	title := "✅ <b>Рассылка завершена.</b>"
	if res.Cancelled {
		title = "⛔ <b>Рассылка остановлена.</b>"
	}
	return fmt.Sprintf("%s\nУспешно: %d\nОшибок: %d\nВсего адресатов: %d", title, res.Sent, res.Errors, total)
}

func broadcastStatusText(s broadcast.Snapshot) string {
	return "📨 <b>Статус рассылки</b>\n" +
		fmt.Sprintf("• Идёт: <b>%s</b>\n", yesNo(s.Running)) +
		fmt.Sprintf("• Отправлено/Всего: <b>%d/%d</b>\n", s.Sent, s.Total) +
		fmt.Sprintf("• Ошибок: <b>%d</b>\n", s.Errors) +
		fmt.Sprintf("• Запрошена остановка: <b>%s</b>\n", yesNo(s.CancelRequested)) +
		fmt.Sprintf("• Прошло: <b>%d сек</b>", s.ElapsedSeconds)
}

func (a *App) setPending(userID int64, text string) {
	a.pendingMu.Lock()
	a.pending[userID] = text
	a.pendingMu.Unlock()
}

func (a *App) takePending(userID int64) (string, bool) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	text, ok := a.pending[userID]
	delete(a.pending, userID)
	return text, ok
}

// ==========================================
// УПРАВЛЕНИЕ АДМИНАМИ
// ==========================================

func (a *App) HandleAddAdmin(c tele.Context) error {
	return a.changeRole(c, store.RoleAdmin, "admin_added")
}

func (a *App) HandleDelAdmin(c tele.Context) error {
	return a.changeRole(c, store.RoleClient, "admin_removed")
}

func (a *App) changeRole(c tele.Context, role, action string) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermManageAdmins) {
		return nil
	}
	arg := parseCommandArg(c.Text())
	if arg == "" {
		return c.Reply("Используйте: <code>/addadmin ID</code> или <code>/deladmin ID</code> (можно номер телефона)", tele.ModeHTML)
	}
	p, err := a.store.FindPerson(a.ctx, arg)
	if errors.Is(err, store.ErrNotFound) {
		return c.Reply("Пользователь не найден. Он должен сначала запустить бота через /start.")
	}
	if err != nil {
		a.log.Error("❌ Ошибка поиска пользователя", zap.String("query", arg), zap.Error(err))
		return c.Reply("❌ Ошибка БД.")
	}
	if a.cfg.IsOwner(p.TelegramID) {
		return c.Reply("Роль владельца задаётся только в конфигурации.")
	}
	if err := a.store.SetRole(a.ctx, p.TelegramID, role); err != nil {
		a.log.Error("❌ Не удалось изменить роль", zap.Int64("target", p.TelegramID), zap.Error(err))
		return c.Reply("❌ Не удалось изменить роль.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, action, map[string]any{"target": p.TelegramID})
	return c.Reply(fmt.Sprintf("✅ %s: роль <b>%s</b>", html.EscapeString(p.FullName()), role), tele.ModeHTML)
}

func (a *App) HandleAdmins(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermManageAdmins) {
		return nil
	}
	admins, err := a.store.ListByRole(a.ctx, store.RoleAdmin)
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}
	var sb strings.Builder
	sb.WriteString("👥 <b>Администраторы</b>\n")
	if len(admins) == 0 {
		sb.WriteString("\nСписок пуст.")
	}
	for _, p := range admins {
		fmt.Fprintf(&sb, "\n• <code>%d</code> %s %s", p.TelegramID, html.EscapeString(p.FullName()), p.PhoneOr(""))
	}
	return c.Reply(sb.String(), tele.ModeHTML)
}

// ==========================================
// КЛИЕНТЫ
// ==========================================

func (a *App) HandleFind(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermFindClients) {
		return nil
	}
	q := parseCommandArg(c.Text())
	if q == "" {
		return c.Reply("Используйте: <code>/find телефон, ID или имя</code>", tele.ModeHTML)
	}
	people, err := a.store.Search(a.ctx, q)
	if err != nil {
		a.log.Error("❌ Ошибка поиска клиентов", zap.String("query", q), zap.Error(err))
		return c.Reply("❌ Ошибка БД.")
	}
	if len(people) == 0 {
		return c.Reply("Ничего не найдено.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Найдено: %d\n", len(people))
	for _, p := range people {
		fmt.Fprintf(&sb, "\n• <code>%d</code> %s, %s", p.TelegramID, html.EscapeString(p.FullName()), p.PhoneOr("без телефона"))
		if p.LastVisitDate != nil {
			fmt.Fprintf(&sb, ", визит %s", p.LastVisitDate.Format("02.01.2006"))
		}
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "clients_search", map[string]any{"query": q, "found": len(people)})
	return c.Reply(sb.String(), tele.ModeHTML)
}

func (a *App) HandleSetContent(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermEditContent) {
		return nil
	}
	arg := parseCommandArg(c.Text())
	key, value, _ := strings.Cut(arg, " ")
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		var sb strings.Builder
		sb.WriteString("Используйте: <code>/setcontent раздел текст</code>\n\nРазделы:")
		for _, s := range a.content.Sections() {
			fmt.Fprintf(&sb, "\n• <code>%s</code> %s", s.Key, s.Title)
		}
		return c.Reply(sb.String(), tele.ModeHTML)
	}
	if err := a.content.Set(a.ctx, key, value); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Reply("Неизвестный раздел.")
		}
		a.log.Error("❌ Не удалось сохранить контент", zap.String("key", key), zap.Error(err))
		return c.Reply("❌ Ошибка БД.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "content_updated", map[string]any{"key": key, "length": len([]rune(value))})
	return c.Reply("✅ Текст раздела обновлён.")
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}
