package alerts

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

type core struct {
	f   *Forwarder
	enc zapcore.Encoder
}

// Core returns a zapcore.Core to tee into the application logger. It accepts
// error level and above and hands formatted entries to the forwarder.
func (f *Forwarder) Core() zapcore.Core {
	return &core{f: f, enc: zapcore.NewConsoleEncoder(alertEncoderConfig())}
}

func alertEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func (c *core) Enabled(l zapcore.Level) bool {
	return l >= zapcore.ErrorLevel
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, fld := range fields {
		fld.AddTo(enc)
	}
	return &core{f: c.f, enc: enc}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write must not fail back into the logger, so encoding errors are ignored.
func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if !c.f.running.Load() || c.f.currentSender() == nil {
		c.f.dropped.Add(1)
		return nil
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return nil
	}
	text := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	c.f.publish(Event{Level: ent.Level, Time: ent.Time, Text: text})
	return nil
}

func (c *core) Sync() error { return nil }
