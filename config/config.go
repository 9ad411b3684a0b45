package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Server      ServerConfig     `mapstructure:"server"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Security    SecurityConfig   `mapstructure:"security"`
	Routing     RoutingConfig    `mapstructure:"routing"`
	Fraud       FraudConfig      `mapstructure:"fraud"`
	Alerts      AlertsConfig     `mapstructure:"alerts"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
}

type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime  time.Duration `mapstructure:"max_idle_time"`
	ReplicaDSNs  []string      `mapstructure:"replica_dsns"`
	LogQueries   bool          `mapstructure:"log_queries"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	PoolSize int           `mapstructure:"pool_size"`
	MinIdle  int           `mapstructure:"min_idle"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SecurityConfig struct {
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitBackend   string        `mapstructure:"rate_limit_backend"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	BurstRPS           float64       `mapstructure:"burst_rps"`
	Burst              int           `mapstructure:"burst"`
	StaleWindowMaxAge  time.Duration `mapstructure:"stale_window_max_age"`
	TrustedProxyRanges []string      `mapstructure:"trusted_proxy_ranges"`
}

type RoutingConfig struct {
	ProviderURLPattern string        `mapstructure:"provider_url_pattern"`
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout"`
}

type FraudConfig struct {
	HighAmountThreshold float64       `mapstructure:"high_amount_threshold"`
	RapidCount          int           `mapstructure:"rapid_count"`
	RapidWindow         time.Duration `mapstructure:"rapid_window"`
	UnusualHourStart    int           `mapstructure:"unusual_hour_start"`
	UnusualHourEnd      int           `mapstructure:"unusual_hour_end"`
	NewClientAge        time.Duration `mapstructure:"new_client_age"`
	Weights             FraudWeights  `mapstructure:"weights"`
	ReviewThreshold     float64       `mapstructure:"review_threshold"`
	HighRiskThreshold   float64       `mapstructure:"high_risk_threshold"`
}

type FraudWeights struct {
	HighAmount        float64 `mapstructure:"high_amount"`
	RapidTransactions float64 `mapstructure:"rapid_transactions"`
	UnusualHours      float64 `mapstructure:"unusual_hours"`
	NewClient         float64 `mapstructure:"new_client"`
}

// Breakpoint maps a metric bound to a severity; the first match in list order wins.
type Breakpoint struct {
	Bound    float64 `mapstructure:"bound"`
	Severity string  `mapstructure:"severity"`
}

// SeverityScale compares "below" (value < bound) or "above" (value > bound).
type SeverityScale struct {
	Direction   string       `mapstructure:"direction"`
	Breakpoints []Breakpoint `mapstructure:"breakpoints"`
	Fallback    string       `mapstructure:"fallback"`
}

type AlertsConfig struct {
	Scales          map[string]SeverityScale `mapstructure:"scales"`
	DefaultSeverity string                   `mapstructure:"default_severity"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AlertSchedule string `mapstructure:"alert_schedule"`
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

type MonitoringConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// envAliases keeps the plain variable names deployments already export.
var envAliases = map[string]string{
	"database.host":        "DB_HOST",
	"database.port":        "DB_PORT",
	"database.user":        "DB_USER",
	"database.password":    "DB_PASSWORD",
	"database.dbname":      "DB_NAME",
	"database.sslmode":     "DB_SSLMODE",
	"server.port":          "SERVER_PORT",
	"redis.host":           "REDIS_HOST",
	"redis.port":           "REDIS_PORT",
	"redis.password":       "REDIS_PASSWORD",
	"monitoring.log_level": "LOG_LEVEL",
}

func LoadConfig(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setBaseDefaults(v)

	v.SetConfigName("config")
	if len(paths) == 0 {
		paths = []string{"config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	}

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, "PAYGATE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("environment", "PAYGATE_ENVIRONMENT", "ENVIRONMENT"); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	config.setEnvironmentDefaults()

	return config, nil
}

func setBaseDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "paygate")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic", "paygate.events")

	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.rate_limit_backend", "database")
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", time.Hour)
	v.SetDefault("security.block_duration", time.Hour)
	v.SetDefault("security.stale_window_max_age", 24*time.Hour)

	v.SetDefault("routing.provider_url_pattern", "http://{service}:8080/provider/api/{route}")
	v.SetDefault("routing.provider_timeout", 30*time.Second)

	v.SetDefault("fraud.high_amount_threshold", 10000)
	v.SetDefault("fraud.rapid_count", 5)
	v.SetDefault("fraud.rapid_window", 300*time.Second)
	v.SetDefault("fraud.unusual_hour_start", 22)
	v.SetDefault("fraud.unusual_hour_end", 6)
	v.SetDefault("fraud.new_client_age", 7*24*time.Hour)
	v.SetDefault("fraud.weights.high_amount", 0.3)
	v.SetDefault("fraud.weights.rapid_transactions", 0.4)
	v.SetDefault("fraud.weights.unusual_hours", 0.2)
	v.SetDefault("fraud.weights.new_client", 0.3)
	v.SetDefault("fraud.review_threshold", 0.5)
	v.SetDefault("fraud.high_risk_threshold", 0.8)

	v.SetDefault("alerts.default_severity", "warning")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.alert_schedule", "0 */5 * * * *")
	v.SetDefault("scheduler.purge_schedule", "0 0 * * * *")

	v.SetDefault("monitoring.log_level", "info")
	v.SetDefault("monitoring.metrics_enabled", true)
}

// DefaultSeverityScales returns the stock breakpoint lists per metric.
func DefaultSeverityScales() map[string]SeverityScale {
	return map[string]SeverityScale{
		"success_rate": {
			Direction: "below",
			Breakpoints: []Breakpoint{
				{Bound: 50, Severity: "critical"},
				{Bound: 70, Severity: "error"},
				{Bound: 85, Severity: "warning"},
			},
			Fallback: "info",
		},
		"inactivity": {
			Direction: "above",
			Breakpoints: []Breakpoint{
				{Bound: 168, Severity: "critical"},
				{Bound: 72, Severity: "error"},
				{Bound: 24, Severity: "warning"},
			},
			Fallback: "info",
		},
	}
}

func (c *Config) setEnvironmentDefaults() {
	if len(c.Alerts.Scales) == 0 {
		c.Alerts.Scales = DefaultSeverityScales()
	}

	switch c.Environment {
	case "production":
		c.setProductionDefaults()
	case "staging":
		c.setStagingDefaults()
	default:
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
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Security.BurstRPS == 0 {
		c.Security.BurstRPS = 1000.0
	}
	if c.Security.Burst == 0 {
		c.Security.Burst = 2000
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 20
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 12 * time.Hour
	}
	if c.Security.BurstRPS == 0 {
		c.Security.BurstRPS = 500.0
	}
	if c.Security.Burst == 0 {
		c.Security.Burst = 1000
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 200
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 50
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
	// provider calls may take up to the routing timeout
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = c.Routing.ProviderTimeout + 15*time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdle == 0 {
		c.Redis.MinIdle = 10
	}
	if c.Security.BurstRPS == 0 {
		c.Security.BurstRPS = 100.0
	}
	if c.Security.Burst == 0 {
		c.Security.Burst = 200
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
