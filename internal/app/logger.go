package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/optikakg/optika_tg/internal/config"
)

const (
	logFileName   = "bot.log"
	errorFileName = "errors.log"
)

// NewLogger builds the process logger: console, rotated JSON file, a separate
// error file and any extra cores (the owner alert core). The returned func
// flushes and closes the files.
func NewLogger(cfg config.LoggingConfig, extra ...zapcore.Core) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	mainFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, logFileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	errFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, errorFileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(fileEnc)

	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(mainFile), level),
		// warnings and above also go to the short error file
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(errFile), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.WarnLevel && level.Enabled(l)
		})),
	}
	if cfg.Console {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stdout), level))
	}
	cores = append(cores, extra...)

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	closer := func() {
		_ = logger.Sync()
		_ = mainFile.Close()
		_ = errFile.Close()
	}
	return logger, closer, nil
}

func logFilePath(cfg config.LoggingConfig) string {
	return filepath.Join(cfg.Dir, logFileName)
}

func errLogPath(cfg config.LoggingConfig) string {
	return filepath.Join(cfg.Dir, errorFileName)
}

// safeGo runs fn in a tracked goroutine; Shutdown waits for all of them.
func (a *App) safeGo(name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.recoverPanic(name)
		fn()
	}()
}

func (a *App) recoverPanic(name string) {
	if r := recover(); r != nil {
		a.log.Error("💥 PANIC", zap.String("goroutine", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
	}
}
