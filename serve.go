package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/malwarebo/paygate/api"
	"github.com/malwarebo/paygate/middleware"
	"github.com/malwarebo/paygate/scheduler"
	"github.com/malwarebo/paygate/security"
	"github.com/malwarebo/paygate/utils"
	"github.com/spf13/cobra"
)

const maxRequestBytes = 1 << 20

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	printBanner()
	fmt.Println()

	printStep("1/6", "Loading configuration...")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Configuration loaded (%s)", cfg.Environment))

	printStep("2/6", "Connecting storage and wiring services...")
	app, err := buildApplication(cfg, func(step, message string) { printInfo("  • " + message) })
	if err != nil {
		return err
	}
	defer app.close()
	if app.redis == nil && cfg.Redis.Enabled {
		printWarning("Redis unavailable (continuing without rule cache)")
	}
	printSuccess("Services initialized")

	printStep("3/6", "Initializing request guards...")
	resolver := utils.CreateIPResolver(cfg.Security.TrustedProxyRanges...)
	burst := security.CreateBurstLimiter(cfg.Security.BurstRPS, cfg.Security.Burst)
	defer burst.Close()
	guard := middleware.CreateGuard(app.guard, resolver,
		cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow, cfg.Security.RateLimitEnabled)
	printSuccess(fmt.Sprintf("Rate limit %d requests per %s (%s backend)",
		cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow, cfg.Security.RateLimitBackend))

	printStep("4/6", "Scheduling background jobs...")
	jobs := scheduler.CreateScheduler()
	if cfg.Scheduler.Enabled {
		if err := registerJobs(jobs, app); err != nil {
			return err
		}
		jobs.Start()
		for _, stats := range jobs.Stats() {
			printInfo(fmt.Sprintf("  • %s: %s", stats.Name, stats.Schedule))
		}
	} else {
		printWarning("Scheduler disabled")
	}

	printStep("5/6", "Setting up HTTP server...")
	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware)
	router.Use(middleware.LoggingMiddleware(app.metrics))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.RequestSizeLimitMiddleware(maxRequestBytes))

	api.RegisterRoutes(router, api.Handlers{
		Payment:  api.CreatePaymentHandler(app.dispatcher),
		Security: api.CreateSecurityHandler(app.guard),
		Alerts:   api.CreateAlertHandler(app.alerts),
		Health:   api.CreateHealthHandler(app.health),
		Metrics:  app.metrics.Handler(),
	}, middleware.BurstLimitMiddleware(burst, resolver), guard.Middleware)

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	printStep("6/6", "Starting server...")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	fmt.Println()
	printSuccess(fmt.Sprintf("PayGate is ready on port %s", cfg.Server.Port))
	printInfo(fmt.Sprintf("  • Process:  POST http://localhost:%s/api/v1/payment/process", cfg.Server.Port))
	printInfo(fmt.Sprintf("  • Status:   POST http://localhost:%s/api/v1/payment/status", cfg.Server.Port))
	printInfo(fmt.Sprintf("  • Health:   GET  http://localhost:%s/api/v1/health", cfg.Server.Port))
	printInfo(fmt.Sprintf("  • Metrics:  GET  http://localhost:%s/metrics", cfg.Server.Port))
	fmt.Println()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		printError(fmt.Sprintf("Server failed: %v", err))
		return err
	case <-quit:
	}

	fmt.Println()
	printWarning("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	if err := jobs.Stop(ctx); err != nil {
		printWarning(fmt.Sprintf("Background jobs still running: %v", err))
	}

	printSuccess("Server exited gracefully")
	return nil
}

func registerJobs(jobs *scheduler.Scheduler, app *application) error {
	if err := jobs.AddJob(scheduler.Job{
		Name:     "evaluate-alerts",
		Schedule: app.cfg.Scheduler.AlertSchedule,
		Timeout:  2 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := app.alerts.Evaluate(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	return jobs.AddJob(scheduler.Job{
		Name:     "purge-rate-limits",
		Schedule: app.cfg.Scheduler.PurgeSchedule,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			_, err := app.guard.PurgeStaleWindows(ctx, app.cfg.Security.StaleWindowMaxAge)
			return err
		},
	})
}
