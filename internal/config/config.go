package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-forecast/internal/forecast"
	"price-forecast/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	GenAI     GenAIConfig     `mapstructure:"genai"`
	Images    ImagesConfig    `mapstructure:"images"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatasetConfig locates the price history and its reference files.
type DatasetConfig struct {
	// Source is "csv" (read Path) or "postgres" (read price_points).
	Source        string `mapstructure:"source"`
	Path          string `mapstructure:"path"`
	ProductsPath  string `mapstructure:"products_path"`
	PlatformsPath string `mapstructure:"platforms_path"`
	HistoryDays   int    `mapstructure:"history_days"`
}

// ForecastConfig holds model hyperparameters and request limits.
type ForecastConfig struct {
	WindowLength int     `mapstructure:"window_length"`
	BatchSize    int     `mapstructure:"batch_size"`
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	HiddenSize   int     `mapstructure:"hidden_size"`
	NumLayers    int     `mapstructure:"num_layers"`
	Horizon      int     `mapstructure:"horizon"`
	MaxHorizon   int     `mapstructure:"max_horizon"`
	Seed         int64   `mapstructure:"seed"`
}

// ExecutionConfig bounds the compute a single forecast may use.
type ExecutionConfig struct {
	Workers int `mapstructure:"workers"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the periodic forecasting job.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Concurrency     int           `mapstructure:"concurrency"`
	Watchlist       []string      `mapstructure:"watchlist"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// GenAIConfig points at an OpenAI-compatible chat completions endpoint.
type GenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APIURL         string        `mapstructure:"api_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ImagesConfig covers product image lookup.
type ImagesConfig struct {
	UnsplashKey    string        `mapstructure:"unsplash_access_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Placeholder    string        `mapstructure:"placeholder"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig selects the enrichment cache backend.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	Directory     string `mapstructure:"directory"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEFORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed variable names older deployments export.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"genai.api_key":              {"PRICEFORECAST_GENAI_API_KEY", "GEN_AI_API_KEY"},
		"genai.model":                {"PRICEFORECAST_GENAI_MODEL", "GEN_AI_MODEL"},
		"genai.api_url":              {"PRICEFORECAST_GENAI_API_URL", "GEN_AI_API_URL"},
		"images.unsplash_access_key": {"PRICEFORECAST_IMAGES_UNSPLASH_ACCESS_KEY", "UNSPLASH_ACCESS_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "priceforecast")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("dataset.source", "csv")
	v.SetDefault("dataset.path", "dataset/dataset.csv")
	v.SetDefault("dataset.products_path", "dataset/products.csv")
	v.SetDefault("dataset.platforms_path", "dataset/platforms.csv")
	v.SetDefault("dataset.history_days", 30)

	def := forecast.DefaultConfig()
	v.SetDefault("forecast.window_length", def.WindowLength)
	v.SetDefault("forecast.batch_size", def.BatchSize)
	v.SetDefault("forecast.epochs", def.Epochs)
	v.SetDefault("forecast.learning_rate", def.LearningRate)
	v.SetDefault("forecast.hidden_size", def.HiddenSize)
	v.SetDefault("forecast.num_layers", def.NumLayers)
	v.SetDefault("forecast.horizon", def.Horizon)
	v.SetDefault("forecast.max_horizon", 60)
	v.SetDefault("forecast.seed", def.Seed)

	v.SetDefault("execution.workers", 1)

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.concurrency", 2)
	v.SetDefault("scheduler.watchlist", []string{})

	v.SetDefault("server.address", ":5001")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.request_timeout", "10m")

	v.SetDefault("genai.api_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("genai.model", "gpt-4o-mini")
	v.SetDefault("genai.temperature", 0.4)
	v.SetDefault("genai.request_timeout", "60s")

	v.SetDefault("images.base_url", "https://api.unsplash.com")
	v.SetDefault("images.placeholder", "https://dummyimage.com/300x300/1f2937/ffffff&text=AI")
	v.SetDefault("images.request_timeout", "10s")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.directory", "exports")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Dataset.Source {
	case "csv":
		if c.Dataset.Path == "" {
			return fmt.Errorf("dataset.path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when dataset.source is postgres")
		}
	default:
		return fmt.Errorf("dataset.source must be csv or postgres, got %q", c.Dataset.Source)
	}
	if c.Dataset.HistoryDays <= 0 {
		return fmt.Errorf("dataset.history_days must be greater than zero")
	}
	if err := c.ForecastConfig().Validate(); err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if c.Forecast.MaxHorizon <= 0 {
		return fmt.Errorf("forecast.max_horizon must be greater than zero")
	}
	if c.Forecast.Horizon > c.Forecast.MaxHorizon {
		return fmt.Errorf("forecast.horizon cannot exceed forecast.max_horizon")
	}
	if c.Execution.Workers < 0 {
		return fmt.Errorf("execution.workers cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be greater than zero")
	}
	if _, err := c.Watchlist(); err != nil {
		return err
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ForecastConfig maps the forecast section onto pipeline hyperparameters.
func (c *Config) ForecastConfig() forecast.Config {
	f := c.Forecast
	return forecast.Config{
		WindowLength: f.WindowLength,
		BatchSize:    f.BatchSize,
		Epochs:       f.Epochs,
		LearningRate: f.LearningRate,
		HiddenSize:   f.HiddenSize,
		NumLayers:    f.NumLayers,
		Horizon:      f.Horizon,
		Seed:         f.Seed,
	}
}

// ExecutionConfig maps the execution section onto the pipeline's worker limits.
func (c *Config) ExecutionConfig() forecast.ExecutionConfig {
	return forecast.ExecutionConfig{Workers: c.Execution.Workers}
}

// WatchItem is one product/platform pair the scheduler forecasts.
type WatchItem struct {
	ProductID string
	Platform  string
}

// Watchlist parses scheduler.watchlist entries of the form "product:platform".
func (c *Config) Watchlist() ([]WatchItem, error) {
	items := make([]WatchItem, 0, len(c.Scheduler.Watchlist))
	for _, raw := range c.Scheduler.Watchlist {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		product, platform, ok := strings.Cut(raw, ":")
		if !ok || product == "" || platform == "" {
			return nil, fmt.Errorf("scheduler.watchlist entry %q must look like product:platform", raw)
		}
		items = append(items, WatchItem{ProductID: product, Platform: platform})
	}
	return items, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
