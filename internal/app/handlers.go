package app

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/store"
)

const btnMyVisionText = "👓 Мои рецепты"

var (
	contactMenu     = &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	btnShareContact = contactMenu.Contact("📱 Поделиться номером")
	btnSkipContact  = contactMenu.Text("Пропустить")
)

func init() {
	contactMenu.Reply(
		contactMenu.Row(btnShareContact),
		contactMenu.Row(btnSkipContact),
	)
}

// buildClientMenu lays the section titles out two per row.
func buildClientMenu(sections []store.Section) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true}
	var rows []tele.Row
	var pair []tele.Btn
	for _, s := range sections {
		pair = append(pair, m.Text(s.Title))
		if len(pair) == 2 {
			rows = append(rows, m.Row(pair...))
			pair = nil
		}
	}
	if len(pair) > 0 {
		rows = append(rows, m.Row(pair...))
	}
	rows = append(rows, m.Row(m.Text(btnMyVisionText)))
	m.Reply(rows...)
	return m
}

func (a *App) registerHandlers(b *tele.Bot) {
	b.Use(RecoverMiddleware(a.log), PrivateOnly(), a.MetricsMiddleware(), a.AntispamMiddleware())

	// Команды клиента
	b.Handle("/start", a.HandleStart)
	b.Handle("/help", a.HandleHelp)
	b.Handle("/myvision", a.HandleMyVision)
	b.Handle(tele.OnContact, a.HandleContact)

	// Команды персонала
	b.Handle("/find", a.HandleFind)
	b.Handle("/visions", a.HandleVisions)
	b.Handle("/addvision", a.HandleAddVision)
	b.Handle("/editvision", a.HandleEditVision)
	b.Handle("/delvision", a.HandleDelVision)
	b.Handle("/editclient", a.HandleEditClient)
	b.Handle("/msg", a.HandleMessageClient)
	b.Handle("/broadcast", a.HandleBroadcast)
	b.Handle("/addadmin", a.HandleAddAdmin)
	b.Handle("/deladmin", a.HandleDelAdmin)
	b.Handle("/admins", a.HandleAdmins)
	b.Handle("/setcontent", a.HandleSetContent)
	b.Handle("/dev", a.HandleDevPanel)

	// Кнопки клавиатуры
	for _, s := range a.content.Sections() {
		btn := tele.Btn{Text: s.Title}
		b.Handle(&btn, a.sectionHandler(s.Key))
	}
	b.Handle(&tele.Btn{Text: btnMyVisionText}, a.HandleMyVision)
	b.Handle(&btnSkipContact, a.showMenu)

	// Inline
	b.Handle(&btnBroadcastConfirm, a.onBroadcastConfirm)
	b.Handle(&btnBroadcastCancel, a.onBroadcastCancel)
	b.Handle(&btnBroadcastStop, a.onBroadcastStop)
	a.registerDevPanel(b)

	b.Handle(tele.OnText, a.showMenu)
}

func (a *App) HandleStart(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	p, created, err := a.store.RegisterOrTouch(a.ctx, store.Profile{
		TelegramID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
	})
	if err != nil {
		a.log.Error("❌ Ошибка регистрации", zap.Int64("user_id", u.ID), zap.Error(err))
		return c.Send("❌ Не удалось выполнить запрос, попробуйте позже.")
	}
	if created {
		a.log.Info("👤 Новый клиент", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
		a.logStaffAction(a.ctx, u.ID, "client_registered", nil)
	}

	name := p.FullName()
	if name == "" {
		name = "гость"
	}
	greeting := fmt.Sprintf("👋 Здравствуйте, <b>%s</b>!\nДобро пожаловать в бот нашей оптики.", html.EscapeString(name))
	if p.Phone == nil {
		return c.Send(greeting+"\n\nЧтобы мы могли связаться с вами, поделитесь номером телефона 👇", contactMenu, tele.ModeHTML)
	}
	return c.Send(greeting+"\n\nВыберите раздел в меню 👇", a.menu, tele.ModeHTML)
}

func (a *App) HandleContact(c tele.Context) error {
	u := c.Sender()
	msg := c.Message()
	if u == nil || msg == nil || msg.Contact == nil {
		return nil
	}
	if msg.Contact.UserID != 0 && msg.Contact.UserID != u.ID {
		return c.Send("Пожалуйста, отправьте свой номер кнопкой ниже.", contactMenu)
	}
	if _, _, err := a.store.RegisterOrTouch(a.ctx, store.Profile{
		TelegramID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
	}); err != nil {
		a.log.Error("❌ Ошибка регистрации", zap.Int64("user_id", u.ID), zap.Error(err))
		return c.Send("❌ Не удалось сохранить номер, попробуйте позже.")
	}

	phone, err := a.store.SetPhone(a.ctx, u.ID, msg.Contact.PhoneNumber)
	switch {
	case errors.Is(err, store.ErrPhoneTaken):
		a.log.Warn("⚠️ Номер уже привязан к другому пользователю", zap.Int64("user_id", u.ID))
		return c.Send("Этот номер уже привязан к другому аккаунту. Обратитесь в салон.", a.menu)
	case errors.Is(err, store.ErrBadPhone):
		return c.Send("Не удалось распознать номер. Попробуйте ещё раз.", contactMenu)
	case err != nil:
		a.log.Error("❌ Не удалось сохранить телефон", zap.Int64("user_id", u.ID), zap.Error(err))
		return c.Send("❌ Не удалось сохранить номер, попробуйте позже.")
	}
	a.logStaffAction(a.ctx, u.ID, "phone_shared", nil)
	return c.Send(fmt.Sprintf("✅ Номер <code>%s</code> сохранён. Спасибо!", phone), a.menu, tele.ModeHTML)
}

func (a *App) sectionHandler(key string) tele.HandlerFunc {
	return func(c tele.Context) error {
		title, _ := a.content.Title(key)
		text := a.content.Get(a.ctx, key)
		return c.Send(fmt.Sprintf("<b>%s</b>\n\n%s", html.EscapeString(title), text), a.menu, tele.ModeHTML, tele.NoPreview)
	}
}

func (a *App) showMenu(c tele.Context) error {
	return c.Send("Выберите раздел в меню 👇", a.menu)
}

func (a *App) HandleHelp(c tele.Context) error {
	var sb strings.Builder
	sb.WriteString("ℹ️ <b>Помощь</b>\n\n")
	sb.WriteString("/start — главное меню\n")
	sb.WriteString("/myvision — ваши рецепты\n")
	if c.Sender() != nil && a.isStaff(a.ctx, c.Sender().ID) {
		sb.WriteString("\n<b>Персонал</b>\n")
		sb.WriteString("/find <i>запрос</i> — поиск клиента\n")
		sb.WriteString("/visions <i>клиент</i> — рецепты клиента\n")
		sb.WriteString("/addvision <i>клиент значения</i> [| <i>линзы | оправа | заметка</i>] — новая запись зрения\n")
		sb.WriteString("/editvision <i>номер поле значение</i> — исправить запись\n")
		sb.WriteString("/delvision <i>номер</i> — удалить запись\n")
		sb.WriteString("/editclient <i>клиент Имя [Фамилия] [возраст]</i> — данные клиента\n")
		sb.WriteString("/msg <i>клиент текст</i> — написать клиенту\n")
	}
	if c.Sender() != nil && a.hasPermission(a.ctx, c.Sender().ID, PermDevPanel) {
		sb.WriteString("\n<b>Владелец</b>\n")
		sb.WriteString("/broadcast <i>текст</i> — рассылка всем клиентам (текст без разметки)\n")
		sb.WriteString("/addadmin, /deladmin, /admins — администраторы\n")
		sb.WriteString("/setcontent <i>раздел текст</i> — тексты меню\n")
		sb.WriteString("/dev — панель разработчика\n")
	}
	return c.Send(sb.String(), tele.ModeHTML)
}

func tryEdit(c tele.Context, what interface{}, opts ...interface{}) error {
	err := c.Edit(what, opts...)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}
