// Package config loads and validates autoscraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. REMOTEHIVE_ENGINE_MAX_CONCURRENT.
const EnvPrefix = "REMOTEHIVE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Beat        BeatConfig        `mapstructure:"beat"`
	Boards      BoardsConfig      `mapstructure:"boards"`
	Application ApplicationConfig `mapstructure:"application"`
	// APIKeys holds third-party credentials keyed by provider name.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// ServerConfig controls HTTP listeners for both services.
type ServerConfig struct {
	APIPort         int `mapstructure:"api_port"`
	AutoscraperPort int `mapstructure:"autoscraper_port"`
	// Port overrides whichever role is being started (platforms set PORT).
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig configures token issuance and the bootstrap admin.
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RememberMeTTL  time.Duration `mapstructure:"remember_me_ttl"`
	AdminEmail     string        `mapstructure:"admin_email"`
	AdminPassword  string        `mapstructure:"admin_password"`
	LoginPerMinute int           `mapstructure:"login_per_minute"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// DatabaseConfig controls the Postgres pool. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig points at the shared broker.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// QueueConfig selects the task queue backend. An empty Backend resolves to
// redis when redis.url is set and memory otherwise.
type QueueConfig struct {
	Backend      string        `mapstructure:"backend"`
	MaxSize      int           `mapstructure:"max_size"`
	StreamPrefix string        `mapstructure:"stream_prefix"`
	Group        string        `mapstructure:"group"`
	Block        time.Duration `mapstructure:"block"`
	// ControlPoll is how often workers re-read the shared engine state.
	ControlPoll time.Duration `mapstructure:"control_poll"`
}

// EngineConfig governs job creation and execution.
type EngineConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DefaultQuery    string        `mapstructure:"default_query"`
	DefaultLocation string        `mapstructure:"default_location"`
	DefaultMaxPages int           `mapstructure:"default_max_pages"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
	DedupThreshold  float64       `mapstructure:"dedup_threshold"`
}

// ScraperConfig configures outbound HTTP.
type ScraperConfig struct {
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	DefaultRPS     float64  `mapstructure:"default_rps"`
	DefaultBurst   int      `mapstructure:"default_burst"`
	BlockedHosts   []string `mapstructure:"blocked_hosts"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where raw pages are kept.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for new-posting notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig configures the progress hub.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
	Batch         struct {
		MaxEvents int `mapstructure:"max_events"`
		MaxWaitMs int `mapstructure:"max_wait_ms"`
	} `mapstructure:"batch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SMTPConfig configures failure alert mail. An empty host disables it.
type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	AlertTo  []string `mapstructure:"alert_to"`
}

// Enabled reports whether alerts can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && len(s.AlertTo) > 0
}

// BeatConfig configures the periodic scheduler.
type BeatConfig struct {
	DefaultSchedule string        `mapstructure:"default_schedule"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// BoardsConfig points at the board catalogue seed.
type BoardsConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// ApplicationConfig feeds OpenTelemetry resource attributes.
type ApplicationConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindDeploymentEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORS.Origins = splitList(cfg.CORS.Origins)
	cfg.SMTP.AlertTo = splitList(cfg.SMTP.AlertTo)
	cfg.Scraper.BlockedHosts = splitList(cfg.Scraper.BlockedHosts)
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
		if cfg.Redis.URL != "" {
			cfg.Queue.Backend = "redis"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindDeploymentEnv maps the conventional unprefixed variables onto config keys.
// Prefixed variables still win because viper checks bound names in order.
func bindDeploymentEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.dsn":    {"REMOTEHIVE_DATABASE_DSN", "DATABASE_URL"},
		"redis.url":       {"REMOTEHIVE_REDIS_URL", "REDIS_URL"},
		"queue.backend":   {"REMOTEHIVE_QUEUE_BACKEND"},
		"auth.jwt_secret": {"REMOTEHIVE_AUTH_JWT_SECRET", "JWT_SECRET_KEY"},
		"cors.origins":    {"REMOTEHIVE_CORS_ORIGINS", "CORS_ORIGINS"},
		"smtp.host":       {"REMOTEHIVE_SMTP_HOST", "SMTP_HOST"},
		"smtp.port":       {"REMOTEHIVE_SMTP_PORT", "SMTP_PORT"},
		"smtp.username":   {"REMOTEHIVE_SMTP_USERNAME", "SMTP_USERNAME"},
		"smtp.password":   {"REMOTEHIVE_SMTP_PASSWORD", "SMTP_PASSWORD"},
		"server.port":     {"REMOTEHIVE_SERVER_PORT", "PORT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.api_port", 8000)
	v.SetDefault("server.autoscraper_port", 8001)
	v.SetDefault("server.port", 0)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.remember_me_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_per_minute", 5)
	v.SetDefault("cors.origins", []string{"http://localhost:3000"})
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", true)
	v.SetDefault("queue.max_size", 1000)
	v.SetDefault("queue.stream_prefix", "remotehive:tasks")
	v.SetDefault("queue.group", "autoscraper")
	v.SetDefault("queue.block", 2*time.Second)
	v.SetDefault("queue.control_poll", 2*time.Second)
	v.SetDefault("engine.max_concurrent", 5)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.default_query", "remote")
	v.SetDefault("engine.default_location", "Remote")
	v.SetDefault("engine.default_max_pages", 3)
	v.SetDefault("engine.job_timeout", 10*time.Minute)
	v.SetDefault("engine.retention_period", 24*time.Hour)
	v.SetDefault("engine.dedup_threshold", 0.85)
	v.SetDefault("scraper.user_agent", "RemoteHive-Autoscraper/1.0")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.default_rps", 1.0)
	v.SetDefault("scraper.default_burst", 1)
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 200)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local_dir", "./data/raw")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "autoscraper@remotehive.local")
	v.SetDefault("beat.default_schedule", "@every 24h")
	v.SetDefault("beat.refresh_interval", 5*time.Minute)
	v.SetDefault("application.service_name", "remotehive-autoscraper")
	v.SetDefault("application.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.APIPort <= 0 || c.Server.AutoscraperPort <= 0 {
		return fmt.Errorf("server ports must be > 0")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be > 0")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}
	if c.Engine.DefaultMaxPages <= 0 {
		return fmt.Errorf("engine.default_max_pages must be > 0")
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be > 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	if c.SMTP.Host != "" && c.SMTP.Port <= 0 {
		return fmt.Errorf("smtp.port must be > 0 when smtp.host is set")
	}
	return nil
}

// ListenPort returns the port for a role, honoring the PORT override.
func (c Config) ListenPort(role string) int {
	if c.Server.Port > 0 {
		return c.Server.Port
	}
	if role == "autoscraper" {
		return c.Server.AutoscraperPort
	}
	return c.Server.APIPort
}

// FetchTimeout converts the scraper timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds HTTP handler execution.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// splitList accepts comma separated env values as well as YAML lists.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
