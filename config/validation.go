package config

import (
	"fmt"
	"strings"

	"github.com/malwarebo/pulse/models"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Insights.Validate(); err != nil {
		return fmt.Errorf("insights config: %w", err)
	}

	if err := c.OpenAI.Validate(c.IsProduction()); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres":
	case "sqlite":
		if len(c.ReplicaDSNs) > 0 {
			return fmt.Errorf("replica_dsns require the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if c.DSN != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.EnableTLS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file are required when TLS is enabled")
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return nil
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	return nil
}

func (c *InsightsConfig) Validate() error {
	if c.MaxLeads <= 0 {
		return fmt.Errorf("max_leads must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("generation_timeout must be positive")
	}
	// A generation that outlives its lock lets a second caller start a
	// duplicate attempt.
	if c.GenerationTimeout >= c.LockTTL {
		return fmt.Errorf("generation_timeout (%s) must be shorter than lock_ttl (%s)", c.GenerationTimeout, c.LockTTL)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	// The reaper must never reach a lock or a valid entry that is still live.
	if c.Retention <= c.LockTTL {
		return fmt.Errorf("retention (%s) must be longer than lock_ttl (%s)", c.Retention, c.LockTTL)
	}
	if maxTTL := models.MaxTTL(); c.Retention < maxTTL {
		return fmt.Errorf("retention (%s) must be at least the longest insight ttl (%s)", c.Retention, maxTTL)
	}
	if c.RefreshCooldown < 0 {
		return fmt.Errorf("refresh_cooldown must not be negative")
	}
	return nil
}

func (c *OpenAIConfig) Validate(production bool) error {
	key := strings.TrimSpace(c.APIKey)
	if production && (key == "" || key == "your_openai_api_key") {
		return fmt.Errorf("api key is required - set OPENAI_API_KEY environment variable")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func (c *MonitoringConfig) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.EnableTracing && c.TracingEndpoint == "" {
		return fmt.Errorf("tracing_endpoint is required when tracing is enabled")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("tracing_sample_ratio must be between 0 and 1")
	}
	return nil
}
