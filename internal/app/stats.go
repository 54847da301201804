package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/optikakg/optika_tg/internal/metrics"
)

const activityMinutes = 60

// activityChart renders updates per minute for the last hour as a PNG.
func activityChart(points []metrics.Point) ([]byte, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("not enough points: %d", len(points))
	}
	xs := make([]time.Time, 0, len(points))
	ys := make([]float64, 0, len(points))
	top := 1.0
	for _, p := range points {
		xs = append(xs, p.Minute)
		ys = append(ys, float64(p.Count))
		top = max(top, float64(p.Count))
	}

	graph := chart.Chart{
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Апдейты",
				XValues: xs,
				YValues: ys,
				Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 3.0},
			},
		},
		XAxis: chart.XAxis{Name: "Время", ValueFormatter: chart.TimeValueFormatterWithFormat("15:04")},
		// a flat zero series has no range of its own
		YAxis: chart.YAxis{
			Name:           "В минуту",
			Range:          &chart.ContinuousRange{Min: 0, Max: top},
			ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.0f", v.(float64)) },
		},
		Height: 400,
		Width:  800,
	}

	buffer := bytes.NewBuffer([]byte{})
	err := graph.Render(chart.PNG, buffer)
	return buffer.Bytes(), err
}

func (a *App) buildStatusText() string {
	uptime := time.Since(a.startedAt)
	gor, alloc, _, sys := runtimeStats()
	logPath := logFilePath(a.cfg.Logging)
	_, statErr := os.Stat(logPath)

	targets := make([]string, 0, len(a.cfg.Backup.TargetIDs))
	for _, id := range a.cfg.Backup.TargetIDs {
		targets = append(targets, fmt.Sprint(id))
	}

	return "✅ <b>Статус бота</b>\n" +
		fmt.Sprintf("• PID: <code>%d</code>\n", os.Getpid()) +
		fmt.Sprintf("• Uptime: <code>%s</code>\n", formatClock(uptime)) +
		fmt.Sprintf("• RAM: <b>%s</b> (sys %s)\n", formatBytes(alloc), formatBytes(sys)) +
		fmt.Sprintf("• Goroutines: <b>%d</b>\n", gor) +
		fmt.Sprintf("• Update rate: <b>%d / мин</b>\n", a.metrics.Runtime.EventsPerMinute()) +
		fmt.Sprintf("• Автобэкап: каждые <b>%s</b>\n", formatDuration(a.cfg.Backup.Interval)) +
		fmt.Sprintf("• Кому шлём автобэкап: <code>%s</code>\n", strings.Join(targets, ", ")) +
		fmt.Sprintf("• Лог-файл: <code>%s</code>\n", logPath) +
		fmt.Sprintf("• Файл существует: <b>%s</b>", yesNo(statErr == nil))
}

func (a *App) buildDBStatsText(ctx context.Context) (string, error) {
	counts, err := a.store.Counts(ctx)
	if err != nil {
		return "", err
	}
	dbSize := "—"
	if info, err := os.Stat(a.cfg.Database.Path); err == nil {
		dbSize = formatBytes(uint64(info.Size()))
	}
	return "📊 <b>Статистика БД</b>\n" +
		fmt.Sprintf("• Пользователей: <b>%d</b>\n", counts.Persons) +
		fmt.Sprintf("• С телефоном: <b>%d</b>\n", counts.WithPhone) +
		fmt.Sprintf("• Записей зрения: <b>%d</b>\n", counts.Visions) +
		fmt.Sprintf("• Владельцев: <b>%d</b>\n", len(a.cfg.Bot.OwnerIDs)) +
		fmt.Sprintf("• Админов: <b>%d</b>\n", counts.Admins) +
		fmt.Sprintf("• Размер файла: <b>%s</b>", dbSize), nil
}

func (a *App) buildLimiterText() string {
	st := a.limiter.Stats()
	return "🛡 <b>Антиспам</b>\n" +
		fmt.Sprintf("• Отслеживается: <b>%d</b>\n", st.Tracked) +
		fmt.Sprintf("• Сейчас ограничены: <b>%d</b>\n", st.Muted) +
		fmt.Sprintf("• Интервал: <b>%s</b>\n", a.cfg.Antispam.Interval) +
		fmt.Sprintf("• Предупреждений до мута: <b>%d</b>", a.cfg.Antispam.WarningsBeforeMute)
}
