package app

import (
	"runtime/debug"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

func RecoverMiddleware(log *zap.Logger) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("💥 PANIC [handler]", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
					err = nil
				}
			}()
			return next(c)
		}
	}
}
