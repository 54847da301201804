package app

import (
	"fmt"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/antispam"
)

// PrivateOnly drops updates that come from groups and channels.
func PrivateOnly() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat != nil && chat.Type != tele.ChatPrivate {
				return nil
			}
			return next(c)
		}
	}
}

// MetricsMiddleware counts every update before the limiter sees it.
func (a *App) MetricsMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			a.metrics.MarkUpdate(string(updateKind(c)))
			return next(c)
		}
	}
}

// AntispamMiddleware asks the limiter about every update and answers dropped
// ones with at most one short notice.
func (a *App) AntispamMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return next(c)
			}
			kind := updateKind(c)
			d := a.limiter.Evaluate(sender.ID, kind)
			if d.Allowed {
				return next(c)
			}

			a.metrics.Throttled.WithLabelValues(d.Notice.String()).Inc()
			if d.MuteFor > 0 {
				a.log.Info("🔇 Пользователь ограничен за спам",
					zap.Int64("user_id", sender.ID),
					zap.Duration("duration", d.MuteFor),
					zap.Int("level", a.limiter.Level(sender.ID)))
				a.logStaffAction(a.ctx, 0, "antispam_mute", map[string]any{
					"user_id": sender.ID,
					"minutes": d.Minutes,
				})
			}

			text := antispamNotice(d)
			if kind == antispam.KindCallback {
				if text == "" {
					return c.Respond()
				}
				return c.Respond(&tele.CallbackResponse{Text: text})
			}
			if text == "" {
				return nil
			}
			return c.Reply(text)
		}
	}
}

func updateKind(c tele.Context) antispam.Kind {
	if c.Callback() != nil {
		return antispam.KindCallback
	}
	return antispam.KindMessage
}

func antispamNotice(d antispam.Decision) string {
	switch d.Notice {
	case antispam.NoticeWarning:
		return "Слишком часто 🙏 Подождите секунду."
	case antispam.NoticeMuted:
		return fmt.Sprintf("Доступ ограничен на %d мин.", d.Minutes)
	case antispam.NoticeStillMuted:
		return fmt.Sprintf("Вы временно ограничены за спам. Попробуйте снова через ~%d мин.", d.Minutes)
	default:
		return ""
	}
}
