// Package config loads bot settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/optikakg/optika_tg/internal/antispam"
)

const EnvPrefix = "OPTIKA"

var (
	ErrMissingToken = errors.New("bot token is not set")
	ErrNoOwners     = errors.New("owner ids are not set")
)

type Config struct {
	Bot       BotConfig
	Database  DatabaseConfig
	Backup    BackupConfig
	Antispam  AntispamConfig
	Alerts    AlertsConfig
	Broadcast BroadcastConfig
	Logging   LoggingConfig
	Health    HealthConfig
	Audit     AuditConfig
}

type BotConfig struct {
	Token           string
	OwnerIDs        []int64
	CriticalOwnerID int64
	PollTimeout     time.Duration
}

type DatabaseConfig struct {
	Path string
}

type BackupConfig struct {
	Dir       string
	Keep      int
	Interval  time.Duration
	TargetIDs []int64
}

type AntispamConfig struct {
	Interval           time.Duration
	WarningCooldown    time.Duration
	WarningsBeforeMute int
	WarningWindow      time.Duration
	MuteDurations      []time.Duration
	PruneAfter         time.Duration
}

type AlertsConfig struct {
	Enabled     bool
	MinInterval time.Duration
	MaxLength   int
	QueueSize   int
}

type BroadcastConfig struct {
	Pacing        time.Duration
	ProgressEvery int
}

type LoggingConfig struct {
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

type HealthConfig struct {
	Addr string
}

type AuditConfig struct {
	Path     string
	MongoURI string
	MongoDB  string
}

// legacy variable names from earlier deployments
var legacyEnv = map[string]string{
	"bot.token":             "BOT_TOKEN",
	"bot.owner_ids":         "OWNER_IDS",
	"bot.critical_owner_id": "CRITICAL_OWNER_ID",
	"database.path":         "DATABASE_PATH",
	"backup.target_ids":     "AUTO_BACKUP_TARGET_IDS",
	"backup.interval_hours": "AUTO_BACKUP_INTERVAL_HOURS",
	"health.addr":           "HEALTH_ADDR",
	"audit.mongo_uri":       "MONGO_URI",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.owner_ids", "")
	v.SetDefault("bot.critical_owner_id", 0)
	v.SetDefault("bot.poll_timeout", "10s")

	v.SetDefault("database.path", "data/database.db")

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.keep", 14)
	v.SetDefault("backup.interval", "24h")
	v.SetDefault("backup.interval_hours", 0)
	v.SetDefault("backup.target_ids", "")

	v.SetDefault("antispam.interval", "1s")
	v.SetDefault("antispam.warning_cooldown", "5s")
	v.SetDefault("antispam.warnings_before_mute", 3)
	v.SetDefault("antispam.warning_window", "60s")
	v.SetDefault("antispam.mute_durations", "5m,30m,1h,3h")
	v.SetDefault("antispam.prune_after", "24h")

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.min_interval", "30s")
	v.SetDefault("alerts.max_length", 3500)
	v.SetDefault("alerts.queue_size", 64)

	v.SetDefault("broadcast.pacing", "50ms")
	v.SetDefault("broadcast.progress_every", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.console", true)

	v.SetDefault("health.addr", "")

	v.SetDefault("audit.path", "logs/audit.log")
	v.SetDefault("audit.mongo_uri", "")
	v.SetDefault("audit.mongo_db", "optika")
}

// Load reads path (if not empty) and the environment. A missing default
// config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if _, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); ok {
			continue
		}
		if val, ok := os.LookupEnv(env); ok {
			v.Set(key, val)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var err error
	cfg := &Config{}

	cfg.Bot.Token = strings.TrimSpace(v.GetString("bot.token"))
	if cfg.Bot.OwnerIDs, err = parseIDs(v.Get("bot.owner_ids")); err != nil {
		return nil, fmt.Errorf("bot.owner_ids: %w", err)
	}
	cfg.Bot.CriticalOwnerID = v.GetInt64("bot.critical_owner_id")
	cfg.Bot.PollTimeout = v.GetDuration("bot.poll_timeout")

	cfg.Database.Path = v.GetString("database.path")

	cfg.Backup.Dir = v.GetString("backup.dir")
	cfg.Backup.Keep = v.GetInt("backup.keep")
	cfg.Backup.Interval = v.GetDuration("backup.interval")
	if hours := v.GetInt("backup.interval_hours"); hours > 0 {
		cfg.Backup.Interval = time.Duration(hours) * time.Hour
	}
	if cfg.Backup.TargetIDs, err = parseIDs(v.Get("backup.target_ids")); err != nil {
		return nil, fmt.Errorf("backup.target_ids: %w", err)
	}
	if len(cfg.Backup.TargetIDs) == 0 {
		cfg.Backup.TargetIDs = append([]int64(nil), cfg.Bot.OwnerIDs...)
	}

	cfg.Antispam.Interval = v.GetDuration("antispam.interval")
	cfg.Antispam.WarningCooldown = v.GetDuration("antispam.warning_cooldown")
	cfg.Antispam.WarningsBeforeMute = v.GetInt("antispam.warnings_before_mute")
	cfg.Antispam.WarningWindow = v.GetDuration("antispam.warning_window")
	if cfg.Antispam.MuteDurations, err = parseDurations(v.Get("antispam.mute_durations")); err != nil {
		return nil, fmt.Errorf("antispam.mute_durations: %w", err)
	}
	cfg.Antispam.PruneAfter = v.GetDuration("antispam.prune_after")

	cfg.Alerts.Enabled = v.GetBool("alerts.enabled")
	cfg.Alerts.MinInterval = v.GetDuration("alerts.min_interval")
	cfg.Alerts.MaxLength = v.GetInt("alerts.max_length")
	cfg.Alerts.QueueSize = v.GetInt("alerts.queue_size")

	cfg.Broadcast.Pacing = v.GetDuration("broadcast.pacing")
	cfg.Broadcast.ProgressEvery = v.GetInt("broadcast.progress_every")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Dir = v.GetString("logging.dir")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Console = v.GetBool("logging.console")

	cfg.Health.Addr = v.GetString("health.addr")

	cfg.Audit.Path = v.GetString("audit.path")
	cfg.Audit.MongoURI = v.GetString("audit.mongo_uri")
	cfg.Audit.MongoDB = v.GetString("audit.mongo_db")

	return cfg, nil
}

// Validate checks what the bot cannot start without.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return ErrMissingToken
	}
	if len(c.Bot.OwnerIDs) == 0 {
		return ErrNoOwners
	}
	if c.Backup.Interval <= 0 {
		return fmt.Errorf("backup.interval must be positive")
	}
	if c.Broadcast.Pacing <= 0 {
		return fmt.Errorf("broadcast.pacing must be positive")
	}
	if c.Alerts.MinInterval < 0 {
		return fmt.Errorf("alerts.min_interval must not be negative")
	}
	return c.Antispam.Limiter(c.Bot.OwnerIDs).Validate()
}

// Limiter converts the section into limiter settings; owners are exempt.
func (a AntispamConfig) Limiter(exempt []int64) antispam.Config {
	return antispam.Config{
		Interval:           a.Interval,
		WarningCooldown:    a.WarningCooldown,
		WarningsBeforeMute: a.WarningsBeforeMute,
		WarningWindow:      a.WarningWindow,
		MuteDurations:      a.MuteDurations,
		Exempt:             exempt,
	}
}

func (c *Config) IsOwner(id int64) bool {
	for _, o := range c.Bot.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}

// MaskedToken keeps the bot id part and hides the secret.
func (c *Config) MaskedToken() string {
	t := c.Bot.Token
	if t == "" {
		return ""
	}
	if i := strings.IndexByte(t, ':'); i > 0 {
		return t[:i] + ":***"
	}
	return "***"
}

// parseIDs accepts "1, 2,3", a YAML list or a single number.
func parseIDs(raw any) ([]int64, error) {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = strings.Split(val, ",")
	case []any:
		for _, it := range val {
			items = append(items, fmt.Sprint(it))
		}
	case []string:
		items = val
	case []int64:
		return append([]int64(nil), val...), nil
	case int, int64, float64:
		items = []string{fmt.Sprint(val)}
	default:
		return nil, fmt.Errorf("unsupported value %v", raw)
	}

	var out []int64
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		id, err := strconv.ParseInt(it, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", it)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseDurations(raw any) ([]time.Duration, error) {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []any:
		for _, it := range val {
			items = append(items, fmt.Sprint(it))
		}
	case []string:
		items = val
	default:
		return nil, fmt.Errorf("unsupported value %v", raw)
	}

	var out []time.Duration
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		d, err := time.ParseDuration(it)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", it)
		}
		out = append(out, d)
	}
	return out, nil
}
