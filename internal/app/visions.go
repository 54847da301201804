package app

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/store"
)

const (
	visionsShown = 5
	minPD        = 40
	maxPD        = 90
)

var (
	errVisionArgs   = errors.New("expected 6 or 7 values: sphR cylR axisR sphL cylL axisL [pd]")
	errUnknownField = errors.New("unknown field")
)

// parseVisionArgs reads "sphR cylR axisR sphL cylL axisL [pd]"; a dash
// leaves the value empty. Commas are accepted as decimal separators.
func parseVisionArgs(args []string) (*store.Vision, error) {
	if len(args) != 6 && len(args) != 7 {
		return nil, errVisionArgs
	}
	v := &store.Vision{VisitDate: time.Now()}
	fields := []string{"sph_r", "cyl_r", "axis_r", "sph_l", "cyl_l", "axis_l", "pd"}
	for i, raw := range args {
		if err := setVisionField(v, fields[i], raw); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// splitVisionExtras cuts "values | lens | frame | note" into the numeric
// part and up to three free-text fields.
func splitVisionExtras(text string) (values string, extras []string) {
	parts := strings.Split(text, "|")
	values = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		extras = append(extras, strings.TrimSpace(p))
	}
	return values, extras
}

// setVisionField applies one "field value" pair; "-" or an empty value
// clears the field.
func setVisionField(v *store.Vision, field, raw string) error {
	raw = strings.TrimSpace(raw)
	empty := raw == "-" || raw == ""
	switch field {
	case "sph_r", "cyl_r", "sph_l", "cyl_l":
		target := map[string]**float64{"sph_r": &v.SphR, "cyl_r": &v.CylR, "sph_l": &v.SphL, "cyl_l": &v.CylL}[field]
		if empty {
			*target = nil
			return nil
		}
		f, err := parseDiopters(raw)
		if err != nil {
			return err
		}
		*target = &f
	case "axis_r", "axis_l":
		target := &v.AxisR
		if field == "axis_l" {
			target = &v.AxisL
		}
		if empty {
			*target = nil
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 180 {
			return fmt.Errorf("axis %q: must be 0..180", raw)
		}
		*target = &n
	case "pd":
		if empty {
			v.PD = nil
			return nil
		}
		pd, err := parsePD(raw)
		if err != nil {
			return err
		}
		v.PD = &pd
	case "lens", "frame", "note":
		if empty {
			raw = ""
		}
		switch field {
		case "lens":
			v.LensType = shorten(raw, 100)
		case "frame":
			v.FrameModel = shorten(raw, 100)
		default:
			v.Note = shorten(raw, 1000)
		}
	case "date":
		d, err := time.ParseInLocation("02.01.2006", raw, time.Local)
		if err != nil {
			return fmt.Errorf("date %q: expected DD.MM.YYYY", raw)
		}
		v.VisitDate = d
	default:
		return fmt.Errorf("%w %q", errUnknownField, field)
	}
	return nil
}

func parseDiopters(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: not a number", raw)
	}
	if f < -30 || f > 30 {
		return 0, fmt.Errorf("value %q: out of range", raw)
	}
	return f, nil
}

// parsePD reads the pupillary distance in millimetres.
func parsePD(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil || f < minPD || f > maxPD {
		return 0, fmt.Errorf("pd %q: must be %d..%d mm", raw, minPD, maxPD)
	}
	return f, nil
}

func formatVision(v store.Vision) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 <b>%s</b> · #%d\n", v.VisitDate.Format("02.01.2006"), v.ID)
	fmt.Fprintf(&sb, "OD: SPH %s CYL %s AXIS %s\n", fmtFloat(v.SphR), fmtFloat(v.CylR), fmtInt(v.AxisR))
	fmt.Fprintf(&sb, "OS: SPH %s CYL %s AXIS %s", fmtFloat(v.SphL), fmtFloat(v.CylL), fmtInt(v.AxisL))
	if v.PD != nil {
		fmt.Fprintf(&sb, "\nPD: %s", fmtFloat(v.PD))
	}
	if v.LensType != "" {
		fmt.Fprintf(&sb, "\nЛинзы: %s", html.EscapeString(v.LensType))
	}
	if v.FrameModel != "" {
		fmt.Fprintf(&sb, "\nОправа: %s", html.EscapeString(v.FrameModel))
	}
	if v.Note != "" {
		fmt.Fprintf(&sb, "\n📝 %s", html.EscapeString(v.Note))
	}
	return sb.String()
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "—"
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}

func fmtInt(n *int) string {
	if n == nil {
		return "—"
	}
	return strconv.Itoa(*n)
}

// HandleMyVision shows the client their own latest records.
func (a *App) HandleMyVision(c tele.Context) error {
	if c.Sender() == nil {
		return nil
	}
	visions, err := a.store.Visions(a.ctx, c.Sender().ID, visionsShown)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.log.Error("❌ Ошибка чтения записей зрения", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Send("❌ Не удалось получить данные, попробуйте позже.")
	}
	if len(visions) == 0 {
		return c.Send("У вас пока нет записей проверки зрения. Запишитесь на приём через меню.")
	}
	parts := make([]string, 0, len(visions))
	for _, v := range visions {
		parts = append(parts, formatVision(v))
	}
	return c.Send("👓 <b>Ваши рецепты</b>\n\n"+strings.Join(parts, "\n\n"), tele.ModeHTML)
}

// HandleVisions: /visions <клиент>
func (a *App) HandleVisions(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermFindClients) {
		return nil
	}
	q := parseCommandArg(c.Text())
	if q == "" {
		return c.Reply("Используйте: <code>/visions ID или телефон</code>", tele.ModeHTML)
	}
	p, err := a.store.FindPerson(a.ctx, q)
	if errors.Is(err, store.ErrNotFound) {
		return c.Reply("Клиент не найден.")
	}
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}
	visions, err := a.store.Visions(a.ctx, p.TelegramID, visionsShown)
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}
	head := fmt.Sprintf("👤 <b>%s</b> <code>%d</code> %s\n\n", html.EscapeString(p.FullName()), p.TelegramID, p.PhoneOr(""))
	if len(visions) == 0 {
		return c.Reply(head+"Записей нет.", tele.ModeHTML)
	}
	parts := make([]string, 0, len(visions))
	for _, v := range visions {
		parts = append(parts, formatVision(v))
	}
	return c.Reply(head+strings.Join(parts, "\n\n"), tele.ModeHTML)
}

// HandleAddVision: /addvision <клиент> sphR cylR axisR sphL cylL axisL [pd] [| линзы | оправа | заметка]
func (a *App) HandleAddVision(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermEditVisions) {
		return nil
	}
	values, extras := splitVisionExtras(parseCommandArg(c.Text()))
	args := strings.Fields(values)
	if len(args) < 7 {
		return c.Reply("Используйте: <code>/addvision ID sphR cylR axisR sphL cylL axisL [pd] [| линзы | оправа | заметка]</code>\nПустое значение: <code>-</code>", tele.ModeHTML)
	}
	if len(extras) > 3 {
		return c.Reply("⚠️ После значений допускается не больше трёх полей: линзы | оправа | заметка.")
	}
	p, err := a.store.FindPerson(a.ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return c.Reply("Клиент не найден.")
	}
	if err != nil {
		return c.Reply("❌ Ошибка БД.")
	}
	v, err := parseVisionArgs(args[1:])
	if err != nil {
		return c.Reply("⚠️ " + html.EscapeString(err.Error()))
	}
	for i, field := range []string{"lens", "frame", "note"} {
		if i < len(extras) {
			_ = setVisionField(v, field, extras[i])
		}
	}
	if err := a.store.AddVision(a.ctx, p.TelegramID, v); err != nil {
		a.log.Error("❌ Не удалось сохранить запись зрения", zap.Int64("client", p.TelegramID), zap.Error(err))
		return c.Reply("❌ Не удалось сохранить запись.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "vision_added", map[string]any{"client": p.TelegramID, "vision_id": v.ID})
	return c.Reply("✅ Запись добавлена.\n\n"+formatVision(*v), tele.ModeHTML)
}

// HandleEditVision: /editvision <номер> <поле> <значение>
func (a *App) HandleEditVision(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermEditVisions) {
		return nil
	}
	fields := strings.Fields(parseCommandArg(c.Text()))
	if len(fields) < 3 {
		return c.Reply("Используйте: <code>/editvision номер поле значение</code>\n"+
			"Поля: sph_r cyl_r axis_r sph_l cyl_l axis_l pd lens frame note date\nОчистить: <code>-</code>", tele.ModeHTML)
	}
	v, ok := a.loadVision(c, fields[0])
	if !ok {
		return nil
	}
	field := strings.ToLower(fields[1])
	if err := setVisionField(v, field, strings.Join(fields[2:], " ")); err != nil {
		return c.Reply("⚠️ " + html.EscapeString(err.Error()))
	}
	if err := a.store.UpdateVision(a.ctx, v); err != nil {
		a.log.Error("❌ Не удалось обновить запись зрения", zap.Uint("vision_id", v.ID), zap.Error(err))
		return c.Reply("❌ Не удалось сохранить запись.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "vision_updated", map[string]any{"vision_id": v.ID, "field": field})
	return c.Reply("✅ Запись обновлена.\n\n"+formatVision(*v), tele.ModeHTML)
}

// HandleDelVision: /delvision <номер>
func (a *App) HandleDelVision(c tele.Context) error {
	if c.Sender() == nil || !a.hasPermission(a.ctx, c.Sender().ID, PermEditVisions) {
		return nil
	}
	arg := parseCommandArg(c.Text())
	if arg == "" {
		return c.Reply("Используйте: <code>/delvision номер</code>", tele.ModeHTML)
	}
	v, ok := a.loadVision(c, arg)
	if !ok {
		return nil
	}
	details := map[string]any{"vision_id": v.ID}
	if p, err := a.store.OwnerOfVision(a.ctx, v); err == nil {
		details["client"] = p.TelegramID
	}
	if err := a.store.DeleteVision(a.ctx, v.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.log.Error("❌ Не удалось удалить запись зрения", zap.Uint("vision_id", v.ID), zap.Error(err))
		return c.Reply("❌ Не удалось удалить запись.")
	}
	a.logStaffAction(a.ctx, c.Sender().ID, "vision_deleted", details)
	return c.Reply(fmt.Sprintf("🗑 Запись #%d удалена.", v.ID))
}

// loadVision replies to the user itself when the record cannot be loaded.
func (a *App) loadVision(c tele.Context, raw string) (*store.Vision, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(raw, "#"), 10, 32)
	if err != nil || id == 0 {
		_ = c.Reply("⚠️ Номер записи должен быть числом.")
		return nil, false
	}
	v, err := a.store.VisionByID(a.ctx, uint(id))
	if errors.Is(err, store.ErrNotFound) {
		_ = c.Reply("Запись не найдена.")
		return nil, false
	}
	if err != nil {
		a.log.Error("❌ Ошибка чтения записи зрения", zap.Uint64("vision_id", id), zap.Error(err))
		_ = c.Reply("❌ Ошибка БД.")
		return nil, false
	}
	return v, true
}
