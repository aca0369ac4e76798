package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Environment string           `json:"environment" env:"ENVIRONMENT"`
	Database    DatabaseConfig   `json:"database" envPrefix:"DB_"`
	Server      ServerConfig     `json:"server" envPrefix:"SERVER_"`
	Redis       RedisConfig      `json:"redis" envPrefix:"REDIS_"`
	OpenAI      OpenAIConfig     `json:"openai" envPrefix:"OPENAI_"`
	Insights    InsightsConfig   `json:"insights" envPrefix:"INSIGHTS_"`
	Security    SecurityConfig   `json:"security" envPrefix:"SECURITY_"`
	Monitoring  MonitoringConfig `json:"monitoring" envPrefix:"MONITORING_"`
}

type DatabaseConfig struct {
	Driver       string        `json:"driver" env:"DRIVER"`
	DSN          string        `json:"dsn" env:"DSN"`
	Host         string        `json:"host" env:"HOST"`
	Port         int           `json:"port" env:"PORT"`
	User         string        `json:"user" env:"USER"`
	Password     string        `json:"password" env:"PASSWORD"`
	DBName       string        `json:"dbname" env:"NAME"`
	SSLMode      string        `json:"sslmode" env:"SSLMODE"`
	MaxOpenConns int           `json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int           `json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxLifetime  time.Duration `json:"max_lifetime" env:"MAX_LIFETIME"`
	MaxIdleTime  time.Duration `json:"max_idle_time" env:"MAX_IDLE_TIME"`
	ReplicaDSNs  []string      `json:"replica_dsns" env:"REPLICA_DSNS" envSeparator:","`
	LogLevel     string        `json:"log_level" env:"LOG_LEVEL"`
}

type ServerConfig struct {
	Port           string        `json:"port" env:"PORT"`
	ReadTimeout    time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `json:"idle_timeout" env:"IDLE_TIMEOUT"`
	MaxHeaderBytes int           `json:"max_header_bytes" env:"MAX_HEADER_BYTES"`
	EnableTLS      bool          `json:"enable_tls" env:"ENABLE_TLS"`
	TLSCertFile    string        `json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile     string        `json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// RedisConfig is optional. With no host the refresh throttle is disabled.
type RedisConfig struct {
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB"`
	PoolSize int    `json:"pool_size" env:"POOL_SIZE"`
	MinIdle  int    `json:"min_idle" env:"MIN_IDLE"`
}

type OpenAIConfig struct {
	APIKey          string        `json:"api_key" env:"API_KEY"`
	Model           string        `json:"model" env:"MODEL"`
	BaseURL         string        `json:"base_url" env:"BASE_URL"`
	Timeout         time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxRetries      int           `json:"max_retries" env:"MAX_RETRIES"`
	Temperature     float64       `json:"temperature" env:"TEMPERATURE"`
	BreakerFailures int           `json:"breaker_failures" env:"BREAKER_FAILURES"`
	BreakerCooldown time.Duration `json:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
}

type InsightsConfig struct {
	MaxLeads          int           `json:"max_leads" env:"MAX_LEADS"`
	LockTTL           time.Duration `json:"lock_ttl" env:"LOCK_TTL"`
	GenerationTimeout time.Duration `json:"generation_timeout" env:"GENERATION_TIMEOUT"`
	Retention         time.Duration `json:"retention" env:"RETENTION"`
	ReaperInterval    time.Duration `json:"reaper_interval" env:"REAPER_INTERVAL"`
	ReaperEnabled     *bool         `json:"reaper_enabled" env:"REAPER_ENABLED"`
	RefreshCooldown   time.Duration `json:"refresh_cooldown" env:"REFRESH_COOLDOWN"`
	DefaultLocale     string        `json:"default_locale" env:"DEFAULT_LOCALE"`
}

type SecurityConfig struct {
	RateLimitEnabled bool     `json:"rate_limit_enabled" env:"RATE_LIMIT_ENABLED"`
	RateLimitRPS     float64  `json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	AllowedOrigins   []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type MonitoringConfig struct {
	ServiceName        string  `json:"service_name" env:"SERVICE_NAME"`
	LogLevel           string  `json:"log_level" env:"LOG_LEVEL"`
	LogFormat          string  `json:"log_format" env:"LOG_FORMAT"`
	EnableTracing      bool    `json:"enable_tracing" env:"ENABLE_TRACING"`
	TracingEndpoint    string  `json:"tracing_endpoint" env:"TRACING_ENDPOINT"`
	TracingInsecure    bool    `json:"tracing_insecure" env:"TRACING_INSECURE"`
	TracingSampleRatio float64 `json:"tracing_sample_ratio" env:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig reads config/config.json (or the file named by PULSE_CONFIG),
// overlays environment variables and fills per-environment defaults. It
// does not validate; call Validate before use.
func LoadConfig() (*Config, error) {
	config := &Config{}

	configPath := os.Getenv("PULSE_CONFIG")
	if configPath == "" {
		configDir, err := filepath.Abs("config")
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(configDir, "config.json")
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.Environment == "" {
		config.Environment = "development"
	}

	config.setCommonDefaults()
	config.setEnvironmentDefaults()

	return config, nil
}

func (c *Config) setCommonDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 60 * time.Second
	}
	if c.OpenAI.BreakerFailures == 0 {
		c.OpenAI.BreakerFailures = 5
	}
	if c.OpenAI.BreakerCooldown == 0 {
		c.OpenAI.BreakerCooldown = 30 * time.Second
	}
	if c.Insights.MaxLeads == 0 {
		c.Insights.MaxLeads = 100
	}
	if c.Insights.LockTTL == 0 {
		c.Insights.LockTTL = 5 * time.Minute
	}
	if c.Insights.GenerationTimeout == 0 {
		c.Insights.GenerationTimeout = 2 * time.Minute
	}
	if c.Insights.Retention == 0 {
		c.Insights.Retention = 7 * 24 * time.Hour
	}
	if c.Insights.ReaperInterval == 0 {
		c.Insights.ReaperInterval = time.Hour
	}
	if c.Insights.ReaperEnabled == nil {
		enabled := true
		c.Insights.ReaperEnabled = &enabled
	}
	if c.Insights.RefreshCooldown == 0 {
		c.Insights.RefreshCooldown = 30 * time.Second
	}
	if c.Insights.DefaultLocale == "" {
		c.Insights.DefaultLocale = "en"
	}
	if c.Monitoring.ServiceName == "" {
		c.Monitoring.ServiceName = "pulse"
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.TracingSampleRatio == 0 {
		c.Monitoring.TracingSampleRatio = 0.1
	}
}

func (c *Config) setEnvironmentDefaults() {
	switch c.Environment {
	case "production":
		c.setProductionDefaults()
	case "staging":
		c.setStagingDefaults()
	default: // development
		c.setDevelopmentDefaults()
	}
}

func (c *Config) setDevelopmentDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "console"
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 50.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 100
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 20.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 40
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 20
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = 10 * time.Minute
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// A request may block on a fresh generation.
		c.Server.WriteTimeout = c.Insights.GenerationTimeout + 30*time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdle == 0 {
		c.Redis.MinIdle = 5
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 10.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 20
	}
}

// GetDatabaseURL returns the primary DSN. An explicit DSN wins over the
// discrete postgres fields.
func (c *Config) GetDatabaseURL() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == "sqlite" {
		return "pulse.db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	port := c.Redis.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, port)
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
