package app

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/store"
)

const clientMessageHeader = "💬 <b>Сообщение от оптики:</b>\n\n"

// ==========================================
// КЛИЕНТЫ
// ==========================================

// HandleEditClient: /editclient <клиент> Имя [Фамилия] [возраст]
func (a *App) HandleEditClient(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermEditClients) {
		return nil
	}
	words := strings.Fields(parseCommandArg(c.Text()))
	if len(words) < 2 || len(words) > 4 {
		return c.Reply("Используйте: <code>/editclient ID Имя [Фамилия] [возраст]</code>\nОставить как есть: <code>-</code>", tele.ModeHTML)
	}
	p, err := a.store.FindPerson(a.ctx, words[0])
	if errors.Is(err, store.ErrNotFound) {
		return c.Reply("Клиент не найден.")
	}
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}

	var (
		upd     store.ProfileUpdate
		changes []string
	)
	if w := words[1]; w != "-" {
		upd.FirstName = &w
		changes = append(changes, "Имя")
	}
	if len(words) >= 3 && words[2] != "-" {
		w := words[2]
		upd.LastName = &w
		changes = append(changes, "Фамилия")
	}
	if len(words) == 4 && words[3] != "-" {
		age, err := strconv.Atoi(words[3])
		if err != nil || age < 1 || age > 120 {
			return c.Reply("⚠️ Возраст должен быть числом от 1 до 120.")
		}
		upd.Age = &age
		changes = append(changes, "Возраст")
	}
	if len(changes) == 0 {
		return c.Reply("Ничего не изменено. Укажите хотя бы одно значение.")
	}

	if err := a.store.UpdateProfile(a.ctx, p.TelegramID, upd); err != nil {
		a.log.Error("❌ Не удалось обновить клиента", zap.Int64("client", p.TelegramID), zap.Error(err))
		return c.Reply("❌ Не удалось сохранить изменения.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "client_updated", map[string]any{"client": p.TelegramID, "fields": changes})
	return c.Reply("✅ Данные обновлены: " + strings.Join(changes, ", "))
}

// HandleMessageClient: /msg <клиент> <текст>
func (a *App) HandleMessageClient(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermMessageClients) {
		return nil
	}
	who, text := splitFirstWord(parseCommandArg(c.Text()))
	if who == "" || text == "" {
		return c.Reply("Используйте: <code>/msg ID_или_телефон текст</code>", tele.ModeHTML)
	}
	p, err := a.store.FindPerson(a.ctx, who)
	if errors.Is(err, store.ErrNotFound) {
		return c.Reply("❌ Клиент не найден.")
	}
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}
	if a.sender == nil {
		return c.Reply("❌ Бот ещё не запущен, попробуйте позже.")
	}

	name := p.FullName()
	if name == "" {
		name = strconv.FormatInt(p.TelegramID, 10)
	}
	if err := a.sender.SendText(a.ctx, p.TelegramID, clientMessageHeader+html.EscapeString(text)); err != nil {
		a.log.Warn("⚠️ Не удалось отправить сообщение клиенту", zap.Int64("client", p.TelegramID), zap.Error(err))
		return c.Reply("❌ Ошибка отправки: " + html.EscapeString(err.Error()))
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "client_messaged", map[string]any{"client": p.TelegramID, "text": shorten(text, 200)})
	return c.Reply(fmt.Sprintf("✅ Сообщение отправлено клиенту %s!", html.EscapeString(name)))
}

// splitFirstWord keeps line breaks in the rest.
func splitFirstWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \n\t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}
