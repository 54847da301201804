package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/optikakg/optika_tg/internal/alerts"
	"github.com/optikakg/optika_tg/internal/antispam"
	"github.com/optikakg/optika_tg/internal/audit"
	"github.com/optikakg/optika_tg/internal/backup"
	"github.com/optikakg/optika_tg/internal/broadcast"
	"github.com/optikakg/optika_tg/internal/config"
	"github.com/optikakg/optika_tg/internal/metrics"
	"github.com/optikakg/optika_tg/internal/store"
)

const shutdownTimeout = 15 * time.Second

// App wires the bot transport to the domain components. Everything is
// created in New and passed explicitly; there is no package state. sender
// is set to the bot transport once Run has started.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	bot    *tele.Bot
	sender textSender
	menu   *tele.ReplyMarkup

	store      *store.Store
	content    *store.Content
	limiter    *antispam.Limiter
	broadcasts *broadcast.Coordinator
	alerts     *alerts.Forwarder
	metrics    *metrics.Registry
	audit      *audit.Recorder
	auditSink  audit.Sink
	backups    *backup.Service

	startedAt time.Time
	heavy     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pendingMu    sync.Mutex
	pending      map[int64]string
	broadcasting atomic.Bool
}

// New opens the database and the audit sink, builds the core components and
// connects to Telegram.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, fwd *alerts.Forwarder) (*App, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("🔌 БД подключена", zap.String("path", cfg.Database.Path))

	sink, err := openAuditSink(ctx, cfg.Audit, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a, err := newApp(cfg, log, fwd, st, sink)
	if err != nil {
		_ = st.Close()
		_ = sink.Close(ctx)
		return nil, err
	}

	log.Info("🔄 Подключение к Telegram API...")
	bot, err := tele.NewBot(tele.Settings{
		Token:     cfg.Bot.Token,
		Poller:    &tele.LongPoller{Timeout: cfg.Bot.PollTimeout},
		ParseMode: tele.ModeHTML,
		OnError: func(err error, c tele.Context) {
			fields := []zap.Field{zap.Error(err)}
			if c != nil && c.Chat() != nil {
				fields = append(fields, zap.Int64("chat_id", c.Chat().ID))
			}
			log.Error("❌ Ошибка обработки апдейта", fields...)
		},
	})
	if err != nil {
		_ = st.Close()
		_ = sink.Close(ctx)
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a.bot = bot
	a.registerHandlers(bot)
	log.Info("✅ Соединение установлено", zap.String("bot", bot.Me.Username), zap.Int64("bot_id", bot.Me.ID))
	return a, nil
}

// newApp builds everything that does not need the network.
func newApp(cfg *config.Config, log *zap.Logger, fwd *alerts.Forwarder, st *store.Store, sink audit.Sink) (*App, error) {
	limiter, err := antispam.New(cfg.Antispam.Limiter(cfg.Bot.OwnerIDs), antispam.WithLogger(log.Named("antispam")))
	if err != nil {
		return nil, fmt.Errorf("antispam: %w", err)
	}
	if fwd == nil {
		fwd = alerts.New(alerts.DefaultConfig())
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		content:    store.NewContent(st, store.DefaultSections()),
		limiter:    limiter,
		broadcasts: broadcast.NewCoordinator(),
		alerts:     fwd,
		metrics:    metrics.NewRegistry(),
		audit:      audit.NewRecorder(sink, log.Named("audit")),
		auditSink:  sink,
		backups:    backup.NewService(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep, st),
		startedAt:  time.Now(),
		heavy:      make(chan struct{}, heavySlots),
		pending:    make(map[int64]string),
	}
	a.menu = buildClientMenu(a.content.Sections())
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.registerGauges()
	return a, nil
}

func openAuditSink(ctx context.Context, cfg config.AuditConfig, log *zap.Logger) (audit.Sink, error) {
	if cfg.MongoURI != "" {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		sink, err := audit.NewMongoSink(mctx, cfg.MongoURI, cfg.MongoDB)
		if err == nil {
			log.Info("✅ Audit пишется в MongoDB", zap.String("db", cfg.MongoDB))
			return sink, nil
		}
		log.Warn("⚠️ MongoDB недоступна, audit пишется в файл", zap.Error(err))
	}
	sink, err := audit.NewFileSink(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	return sink, nil
}

func (a *App) registerGauges() {
	a.metrics.GaugeFunc("optika_antispam_tracked_users", "Users with anti-spam state", func() float64 {
		return float64(a.limiter.Stats().Tracked)
	})
	a.metrics.GaugeFunc("optika_antispam_muted_users", "Users muted right now", func() float64 {
		return float64(a.limiter.Stats().Muted)
	})
	a.metrics.GaugeFunc("optika_alerts_forwarded", "Owner alerts delivered", func() float64 {
		return float64(a.alerts.Stats().Forwarded)
	})
	a.metrics.GaugeFunc("optika_alerts_suppressed", "Owner alerts skipped by the minimum interval", func() float64 {
		return float64(a.alerts.Stats().Suppressed)
	})
	a.metrics.GaugeFunc("optika_alerts_dropped", "Owner alerts dropped before delivery", func() float64 {
		return float64(a.alerts.Stats().Dropped)
	})
	a.metrics.GaugeFunc("optika_broadcast_running", "1 while a broadcast is in progress", func() float64 {
		if a.broadcasts.Snapshot().Running {
			return 1
		}
		return 0
	})
	a.metrics.GaugeFunc("optika_uptime_seconds", "Seconds since start", func() float64 {
		return time.Since(a.startedAt).Seconds()
	})
}

// Run blocks until ctx is cancelled, then stops the poller and waits for the
// background workers.
func (a *App) Run(ctx context.Context) error {
	if a.bot == nil {
		return errors.New("bot is not connected")
	}
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	if n, err := a.content.Seed(a.ctx); err != nil {
		a.log.Warn("⚠️ Не удалось заполнить тексты разделов", zap.Error(err))
	} else if n > 0 {
		a.log.Info("📝 Добавлены тексты разделов по умолчанию", zap.Int("count", n))
	}

	tr := &transport{bot: a.bot}
	a.sender = tr
	a.alerts.Bind(tr)
	a.safeGo("alerts", func() { a.alerts.Run(a.ctx) })
	a.startScheduler(tr)
	a.safeGo("housekeeping", a.startHousekeeping)
	if a.cfg.Health.Addr != "" {
		a.safeGo("health-server", func() { a.startHealthServer(a.cfg.Health.Addr) })
	}

	a.log.Info("🧹 Сброс вебхука...")
	if err := a.bot.RemoveWebhook(true); err != nil {
		a.log.Warn("⚠️ Не удалось сбросить вебхук", zap.Error(err))
	}

	a.log.Info("🚀 Бот запущен", zap.Int("owners", len(a.cfg.Bot.OwnerIDs)))
	a.safeGo("bot", a.bot.Start)

	<-a.ctx.Done()
	a.log.Info("⏹ Завершение работы...")
	a.bot.Stop()
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		a.log.Warn("⚠️ Не все фоновые задачи завершились вовремя")
	}

	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.auditSink.Close(cctx); err != nil {
		errs = append(errs, fmt.Errorf("close audit: %w", err))
	}
	return errors.Join(errs...)
}
