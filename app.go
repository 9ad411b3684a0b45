package main

import (
	"context"
	"fmt"
	"time"

	"github.com/malwarebo/paygate/cache"
	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/db"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/providers"
	"github.com/malwarebo/paygate/services"
	"github.com/malwarebo/paygate/stores"
	"github.com/malwarebo/paygate/utils"
)

// application holds every long-lived component.
type application struct {
	cfg        *config.Config
	db         *db.DB
	redis      *cache.RedisCache
	ruleCache  *cache.RuleCache
	metrics    *monitoring.Metrics
	notifier   *monitoring.Notifier
	health     *monitoring.HealthService
	registry   services.RuleRegistry
	dispatcher services.Dispatcher
	scorer     services.FraudScorer
	guard      services.SecurityGuard
	alerts     services.AlertEngine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}
	utils.SetLevel(cfg.Monitoring.LogLevel)
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	database, err := db.CreateDB(cfg.Database, cfg.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.Ping(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to reach database: %v", err)
	}
	return database, nil
}

// buildApplication connects to storage and wires the services. The caller
// owns the result and must call close.
func buildApplication(cfg *config.Config, report func(step, message string)) (*application, error) {
	if report == nil {
		report = func(string, string) {}
	}
	app := &application{cfg: cfg}

	report("database", fmt.Sprintf("Connecting to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	app.db = database
	gdb := database.GetDB()

	if cfg.Redis.Enabled || cfg.Security.RateLimitBackend == "redis" {
		report("redis", fmt.Sprintf("Connecting to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
		redisCache, err := cache.CreateRedisCache(cfg.Redis)
		switch {
		case err == nil:
			app.redis = redisCache
		case cfg.Security.RateLimitBackend == "redis":
			app.close()
			return nil, fmt.Errorf("redis is required by the rate limit backend: %v", err)
		default:
			utils.Warn(context.Background(), "Redis unavailable, continuing without rule cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	app.metrics = monitoring.NewMetrics()

	channels := []monitoring.Channel{monitoring.LogChannel{}}
	if cfg.Kafka.Enabled {
		report("kafka", fmt.Sprintf("Publishing notifications to topic %s", cfg.Kafka.Topic))
		channels = append(channels, monitoring.NewKafkaChannel(cfg.Kafka))
	}
	app.notifier = monitoring.NewNotifier(channels...)

	clients := stores.CreateClientStore(gdb)
	ledger := stores.CreateTransactionStore(gdb)
	assessments := stores.CreateFraudStore(gdb)
	events := stores.CreateSecurityEventStore(gdb)

	var windows stores.RateLimitStore = stores.CreateSQLRateLimitStore(gdb)
	if cfg.Security.RateLimitBackend == "redis" {
		windows = stores.CreateRedisRateLimitStore(app.redis.Client())
	}

	var ruleCache services.RuleCache
	if app.redis != nil {
		app.ruleCache = cache.CreateRuleCache(app.redis)
		ruleCache = app.ruleCache
	}

	app.registry = services.CreateRuleRegistry(stores.CreateRuleStore(gdb), ledger, ruleCache, cfg.Routing.ProviderURLPattern)

	app.scorer = services.CreateFraudScorer(services.FraudScorerDeps{
		Assessments: assessments,
		Ledger:      ledger,
		Clients:     clients,
		Events:      events,
		Notifier:    app.notifier,
		Metrics:     app.metrics,
	}, cfg.Fraud)

	app.dispatcher = services.CreateDispatcher(services.DispatcherDeps{
		Registry: app.registry,
		Ledger:   ledger,
		Clients:  clients,
		Provider: providers.CreateHTTPProviderClient(cfg.Routing.ProviderTimeout, app.metrics.ObserveProviderCall),
		Scorer:   app.scorer,
		Metrics:  app.metrics,
	})

	app.guard = services.CreateSecurityGuard(services.SecurityGuardDeps{
		Windows:     windows,
		Blocks:      stores.CreateIPBlockStore(gdb),
		Events:      events,
		Assessments: assessments,
		Notifier:    app.notifier,
		Metrics:     app.metrics,
	}, cfg.Security)

	app.alerts = services.CreateAlertEngine(services.AlertEngineDeps{
		Rules:    stores.CreateAlertRuleStore(gdb),
		Alerts:   stores.CreateAlertStore(gdb),
		Clients:  clients,
		Ledger:   ledger,
		Notifier: app.notifier,
		Metrics:  app.metrics,
	}, services.NewSeverityClassifier(cfg.Alerts))

	app.health = monitoring.CreateHealthService(version)
	app.health.AddCheck("database", true, database.Ping)
	if app.redis != nil {
		app.health.AddCheck("redis", cfg.Security.RateLimitBackend == "redis", app.redis.Ping)
	}

	return app, nil
}

// close waits for background scoring, then releases connections.
func (app *application) close() {
	ctx := context.Background()
	if app.dispatcher != nil {
		app.dispatcher.Wait()
	}
	if app.notifier != nil {
		if err := app.notifier.Close(); err != nil {
			utils.Warn(ctx, "Failed to close notifier", map[string]interface{}{"error": err.Error()})
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			utils.Warn(ctx, "Failed to close redis", map[string]interface{}{"error": err.Error()})
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			utils.Warn(ctx, "Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}
	utils.Sync()
}
