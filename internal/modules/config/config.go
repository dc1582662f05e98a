package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config is the process configuration. Every key can be overridden from the
// environment: dots become underscores, so bridge.inbound_dir reads
// BRIDGE_INBOUND_DIR.
type Config struct {
	Service struct {
		Name     string `mapstructure:"name"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"service"`

	Telegram struct {
		Token          string        `mapstructure:"token"`
		ChatID         int64         `mapstructure:"chat_id"`
		ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	} `mapstructure:"telegram"`

	DB string `mapstructure:"db_dsn"`

	Ledger struct {
		Driver   string `mapstructure:"driver"` // postgres | memory
		Migrate  bool   `mapstructure:"migrate"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"ledger"`

	Bridge struct {
		OutboundDir   string        `mapstructure:"outbound_dir"`
		InboundDir    string        `mapstructure:"inbound_dir"`
		ProcessedDir  string        `mapstructure:"processed_dir"`
		QuarantineDir string        `mapstructure:"quarantine_dir"`
		StatusLog     string        `mapstructure:"status_log"`
		PollInterval  time.Duration `mapstructure:"poll_interval"`
		DedupTTL      time.Duration `mapstructure:"dedup_ttl"`
		DedupMax      int           `mapstructure:"dedup_max"`
		DefaultSymbol string        `mapstructure:"default_symbol"`
		Account       string        `mapstructure:"account"`
	} `mapstructure:"bridge"`

	Runner struct {
		ChannelsFile   string        `mapstructure:"channels_file"`
		WatchChannels  bool          `mapstructure:"watch_channels"`
		SignalTTL      time.Duration `mapstructure:"signal_ttl"`
		ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
		DefaultQty     int           `mapstructure:"default_qty"`
	} `mapstructure:"runner"`

	Health struct {
		Addr           string        `mapstructure:"addr"`
		ReportInterval time.Duration `mapstructure:"report_interval"`
	} `mapstructure:"health"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`
}

// NewConfig loads .env, then configs/$CONFIG_FILE (values_local.yaml by
// default), then environment overrides.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	dir := getenvDefault(configDirENV, "configs")
	name := getenvDefault(configFilePathENV, "values_local.yaml")
	return Load(afero.NewOsFs(), filepath.Join(dir, name))
}

// Load reads path from fs. A missing file leaves the defaults in place.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("db_dsn", databaseDSN)
	_ = v.BindEnv("telegram.token", tokenTelegramENV)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			exists, _ := afero.Exists(fs, path)
			if exists {
				return nil, errors.Wrapf(err, "read config %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "signal_bridge")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.confirm_timeout", "60s")

	v.SetDefault("db_dsn", "")

	v.SetDefault("ledger.driver", "postgres")
	v.SetDefault("ledger.migrate", true)
	v.SetDefault("ledger.max_conns", 8)

	v.SetDefault("bridge.outbound_dir", "bridge/outbound")
	v.SetDefault("bridge.inbound_dir", "bridge/inbound")
	v.SetDefault("bridge.processed_dir", "bridge/inbound/processed")
	v.SetDefault("bridge.quarantine_dir", "bridge/inbound/processed")
	v.SetDefault("bridge.status_log", "bridge/status_log.jsonl")
	v.SetDefault("bridge.poll_interval", "500ms")
	v.SetDefault("bridge.dedup_ttl", "24h")
	v.SetDefault("bridge.dedup_max", 100000)
	v.SetDefault("bridge.default_symbol", "GC")
	v.SetDefault("bridge.account", "")

	v.SetDefault("runner.channels_file", "configs/channels.yaml")
	v.SetDefault("runner.watch_channels", true)
	v.SetDefault("runner.signal_ttl", "1h")
	v.SetDefault("runner.expiry_interval", "1m")
	v.SetDefault("runner.default_qty", 1)

	v.SetDefault("health.addr", ":8081")
	v.SetDefault("health.report_interval", "30s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
}

func (c *Config) validate() error {
	switch c.Ledger.Driver {
	case "postgres":
		if c.DB == "" {
			return errors.New("db_dsn (DATABASE_DSN) is required for the postgres ledger")
		}
	case "memory":
	default:
		return errors.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Bridge.PollInterval <= 0 {
		return errors.New("bridge.poll_interval must be positive")
	}
	if c.Bridge.InboundDir == "" || c.Bridge.OutboundDir == "" {
		return errors.New("bridge inbound and outbound dirs are required")
	}
	if c.Runner.DefaultQty <= 0 {
		return errors.New("runner.default_qty must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
