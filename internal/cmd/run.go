package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/optikakg/optika_tg/internal/alerts"
	"github.com/optikakg/optika_tg/internal/app"
	"github.com/optikakg/optika_tg/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (default)",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := app.EnsureLayout(cfg); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	var (
		fwd   *alerts.Forwarder
		extra []zapcore.Core
	)
	if cfg.Alerts.Enabled {
		fwd = alerts.New(alertsConfig(cfg))
		extra = append(extra, fwd.Core())
	}

	log, closeLog, err := app.NewLogger(cfg.Logging, extra...)
	if err != nil {
		return err
	}
	defer closeLog()
	if fwd != nil {
		fwd.SetLogger(log.Named("alerts"))
	}

	log.Info("🚀 Запуск бота",
		zap.String("version", versionInfo.Version),
		zap.String("token", cfg.MaskedToken()),
		zap.String("db", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, fwd)
	if err != nil {
		log.Error("❌ Не удалось запустить бота", zap.Error(err))
		return err
	}
	if err := a.Run(ctx); err != nil {
		log.Error("❌ Ошибка при остановке", zap.Error(err))
		return err
	}
	log.Info("👋 Бот остановлен")
	return nil
}

func alertsConfig(cfg *config.Config) alerts.Config {
	ac := alerts.DefaultConfig()
	ac.Recipients = append([]int64(nil), cfg.Bot.OwnerIDs...)
	ac.CriticalRecipient = cfg.Bot.CriticalOwnerID
	ac.MinInterval = cfg.Alerts.MinInterval
	if cfg.Alerts.MaxLength > 0 {
		ac.MaxLength = cfg.Alerts.MaxLength
	}
	if cfg.Alerts.QueueSize > 0 {
		ac.QueueSize = cfg.Alerts.QueueSize
	}
	return ac
}

// commandContext falls back to Background when cobra was run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
