package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Redis.Enabled || c.Security.RateLimitBackend == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	if err := c.Routing.Validate(); err != nil {
		return fmt.Errorf("routing config: %w", err)
	}

	if err := c.Fraud.Validate(); err != nil {
		return fmt.Errorf("fraud config: %w", err)
	}

	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts config: %w", err)
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
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
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	switch c.RateLimitBackend {
	case "database", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("rate_limit_requests must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	return nil
}

func (c *RoutingConfig) Validate() error {
	if !strings.Contains(c.ProviderURLPattern, "{service}") {
		return fmt.Errorf("provider_url_pattern must contain {service}")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider_timeout must be positive")
	}
	return nil
}

func (c *FraudConfig) Validate() error {
	if c.UnusualHourStart < 0 || c.UnusualHourStart > 23 || c.UnusualHourEnd < 0 || c.UnusualHourEnd > 23 {
		return fmt.Errorf("unusual hours must be within 0-23")
	}
	for name, w := range map[string]float64{
		"high_amount":        c.Weights.HighAmount,
		"rapid_transactions": c.Weights.RapidTransactions,
		"unusual_hours":      c.Weights.UnusualHours,
		"new_client":         c.Weights.NewClient,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight %s must be within [0,1]", name)
		}
	}
	return nil
}

var validSeverities = map[string]bool{"info": true, "warning": true, "error": true, "critical": true}

func (c *AlertsConfig) Validate() error {
	if !validSeverities[c.DefaultSeverity] {
		return fmt.Errorf("invalid default severity %q", c.DefaultSeverity)
	}
	for metric, scale := range c.Scales {
		if scale.Direction != "below" && scale.Direction != "above" {
			return fmt.Errorf("scale %s: direction must be below or above", metric)
		}
		if !validSeverities[scale.Fallback] {
			return fmt.Errorf("scale %s: invalid fallback severity %q", metric, scale.Fallback)
		}
		for _, bp := range scale.Breakpoints {
			if !validSeverities[bp.Severity] {
				return fmt.Errorf("scale %s: invalid severity %q", metric, bp.Severity)
			}
		}
	}
	return nil
}
