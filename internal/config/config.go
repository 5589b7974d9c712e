package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-sync/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Portal     PortalConfig     `yaml:"portal" mapstructure:"portal"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PortalConfig configures the lead portal client.
type PortalConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UsernameField     string  `yaml:"username_field" mapstructure:"username_field"`
	PasswordField     string  `yaml:"password_field" mapstructure:"password_field"`
	CSRFField         string  `yaml:"csrf_field" mapstructure:"csrf_field"`
	InvalidLoginText  string  `yaml:"invalid_login_text" mapstructure:"invalid_login_text"`
	NoRecordsText     string  `yaml:"no_records_text" mapstructure:"no_records_text"`
	QuotePassword     bool    `yaml:"quote_password" mapstructure:"quote_password"`
	Retry             Retry   `yaml:"retry" mapstructure:"retry"`
}

// Timeout returns the per-request portal timeout.
func (p PortalConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// Retry holds retry settings in config units.
type Retry struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Policy returns the retry policy. Unset fields keep the resilience defaults.
func (r Retry) Policy() resilience.RetryConfig {
	p := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	return p
}

// CRMConfig selects the CRM sink and its enrichment behavior.
type CRMConfig struct {
	Driver              string  `yaml:"driver" mapstructure:"driver"`
	SourceTag           string  `yaml:"source_tag" mapstructure:"source_tag"`
	DetectOwner         bool    `yaml:"detect_owner" mapstructure:"detect_owner"`
	TeamFallback        string  `yaml:"team_fallback" mapstructure:"team_fallback"`
	MaxErrorRate        float64 `yaml:"max_error_rate" mapstructure:"max_error_rate"`
	Retry               Retry   `yaml:"retry" mapstructure:"retry"`
	CircuitThreshold    int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs    int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	DefaultCompanyLabel string  `yaml:"default_company_label" mapstructure:"default_company_label"`
}

// Breaker returns the circuit breaker guarding CRM writes.
func (c CRMConfig) Breaker() resilience.CircuitBreakerConfig {
	b := resilience.DefaultCircuitBreakerConfig()
	if c.CircuitThreshold > 0 {
		b.FailureThreshold = c.CircuitThreshold
	}
	if c.CircuitResetSecs > 0 {
		b.ResetTimeout = time.Duration(c.CircuitResetSecs) * time.Second
	}
	return b
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion API credentials for the team directory.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	TeamDB string `yaml:"team_db" mapstructure:"team_db"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the lock lease duration.
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSecs) * time.Second
}

// RefreshInterval is how often an active run renews its lease: three times
// per ttl, so one failed renewal still leaves the lease valid.
func (l LockConfig) RefreshInterval() time.Duration {
	return l.TTL() / 3
}

// RedisConfig configures the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RabbitMQConfig configures lead event publishing. Empty URL disables it.
type RabbitMQConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// TemporalConfig configures the scheduled sync worker.
type TemporalConfig struct {
	HostPort    string `yaml:"host_port" mapstructure:"host_port"`
	Namespace   string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue   string `yaml:"task_queue" mapstructure:"task_queue"`
	Cron        string `yaml:"cron" mapstructure:"cron"`
	TimeoutMins int    `yaml:"timeout_mins" mapstructure:"timeout_mins"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lead-sync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("portal.quote_password", true)
	v.SetDefault("portal.timeout_secs", 30)
	v.SetDefault("portal.user_agent", "lead-sync/1.0")
	v.SetDefault("portal.max_body_bytes", 64<<20)
	v.SetDefault("portal.requests_per_second", 2.0)
	v.SetDefault("portal.username_field", "inputUsrNme")
	v.SetDefault("portal.password_field", "inputPassword")
	v.SetDefault("portal.csrf_field", "csrf_token")
	v.SetDefault("portal.invalid_login_text", "invalid username or password")
	v.SetDefault("portal.no_records_text", "No records found")
	v.SetDefault("portal.retry.max_attempts", 3)
	v.SetDefault("portal.retry.initial_backoff_ms", 500)
	v.SetDefault("portal.retry.max_backoff_ms", 10000)
	v.SetDefault("crm.driver", "local")
	v.SetDefault("crm.source_tag", "Portal")
	v.SetDefault("crm.detect_owner", true)
	v.SetDefault("crm.team_fallback", "random")
	v.SetDefault("crm.max_error_rate", 0.2)
	v.SetDefault("crm.retry.max_attempts", 3)
	v.SetDefault("crm.retry.initial_backoff_ms", 250)
	v.SetDefault("crm.retry.max_backoff_ms", 5000)
	v.SetDefault("crm.circuit_threshold", 5)
	v.SetDefault("crm.circuit_reset_secs", 30)
	v.SetDefault("crm.default_company_label", "Portal Lead")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("lock.driver", "table")
	v.SetDefault("lock.ttl_secs", 900)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("rabbitmq.exchange", "lead-sync")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "lead-sync")
	v.SetDefault("temporal.cron", "0 * * * *")
	v.SetDefault("temporal.timeout_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode:
// "sync", "worker", "schedule", "teams-notion" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
	case "sync", "worker":
		errs = append(errs, c.validateSync()...)
		if mode == "worker" && c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	case "schedule":
		if c.Temporal.Cron == "" {
			errs = append(errs, "temporal.cron is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	case "teams-notion":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.TeamDB == "" {
			errs = append(errs, "notion.team_db is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSync() []string {
	var errs []string

	if c.Portal.TimeoutSecs <= 0 {
		errs = append(errs, "portal.timeout_secs must be > 0")
	}
	if c.Portal.MaxBodyBytes <= 0 {
		errs = append(errs, "portal.max_body_bytes must be > 0")
	}

	switch c.CRM.Driver {
	case "local":
	case "salesforce":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.client_id, salesforce.username and salesforce.key_path are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("crm.driver %q must be local or salesforce", c.CRM.Driver))
	}
	switch c.CRM.TeamFallback {
	case "random", "first", "none":
	default:
		errs = append(errs, fmt.Sprintf("crm.team_fallback %q must be random, first or none", c.CRM.TeamFallback))
	}
	if c.CRM.MaxErrorRate < 0 || c.CRM.MaxErrorRate > 1 {
		errs = append(errs, "crm.max_error_rate must be between 0 and 1")
	}

	switch c.Lock.Driver {
	case "table":
	case "postgres":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "lock.driver postgres requires store.driver postgres")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.driver %q must be table, postgres or redis", c.Lock.Driver))
	}
	if c.Lock.TTLSecs < 3 {
		errs = append(errs, "lock.ttl_secs must be >= 3")
	}

	return errs
}

// InitLogger initializes the global zap logger and returns it.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
