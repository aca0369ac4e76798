package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/malwarebo/pulse/api"
	"github.com/malwarebo/pulse/cache"
	"github.com/malwarebo/pulse/config"
	"github.com/malwarebo/pulse/db"
	"github.com/malwarebo/pulse/middleware"
	"github.com/malwarebo/pulse/observability"
	"github.com/malwarebo/pulse/providers"
	"github.com/malwarebo/pulse/security"
	"github.com/malwarebo/pulse/services"
	"github.com/malwarebo/pulse/stores"
	"github.com/malwarebo/pulse/utils"
	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the insight HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printBanner()
	fmt.Println()

	printStep("1/7", "Loading configuration...")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Configuration loaded (%s)", cfg.Environment))

	printStep("2/7", "Initializing tracing...")
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Monitoring.EnableTracing,
		ServiceName: cfg.Monitoring.ServiceName,
		Environment: cfg.Environment,
		Version:     version,
		Endpoint:    cfg.Monitoring.TracingEndpoint,
		Insecure:    cfg.Monitoring.TracingInsecure,
		SampleRatio: cfg.Monitoring.TracingSampleRatio,
	})
	if err != nil {
		return err
	}
	if cfg.Monitoring.EnableTracing {
		printSuccess(fmt.Sprintf("Exporting traces to %s", cfg.Monitoring.TracingEndpoint))
	} else {
		printInfo("Tracing disabled")
	}

	printStep("3/7", "Connecting to database...")
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	printSuccess(fmt.Sprintf("Connected to %s", cfg.Database.Driver))

	if serveMigrate {
		if err := db.CreateSchemaMigrator(database.DB).Up(); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		printSuccess("Migrations applied")
	}

	printStep("4/7", "Connecting to Redis...")
	var redisCache *cache.RedisCache
	var throttle *cache.RefreshThrottle
	if cfg.RedisEnabled() {
		redisCache, err = cache.CreateRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			MinIdle:  cfg.Redis.MinIdle,
		})
		if err != nil {
			printWarning(fmt.Sprintf("%v (continuing without refresh throttle)", err))
		} else {
			defer redisCache.Close()
			throttle = cache.CreateRefreshThrottle(redisCache.Client(), cfg.Insights.RefreshCooldown)
			printSuccess(fmt.Sprintf("Connected to Redis at %s", cfg.GetRedisAddr()))
		}
	} else {
		printInfo("Redis not configured, refresh throttle disabled")
	}

	printStep("5/7", "Initializing insight provider...")
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Provider %s ready", provider.Name()))

	printStep("6/7", "Initializing services...")
	clock := utils.SystemClock
	cacheStore := stores.CreateInsightCacheStore(database.DB, clock, cfg.Insights.LockTTL)
	leadStore := stores.CreateLeadStore(database.DB)
	tenantService := services.CreateTenantService(stores.CreateTenantStore(database.DB))

	coordinator := services.CreateInsightCoordinator(
		cacheStore,
		services.CreateContextBuilder(leadStore, clock, cfg.Insights.MaxLeads),
		services.CreatePriorityInference(provider, clock),
		clock,
		services.CoordinatorConfig{GenerationTimeout: cfg.Insights.GenerationTimeout},
	)

	var limiter *security.TieredRateLimiter
	if cfg.Security.RateLimitEnabled {
		limiter = security.CreateDefaultTieredRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)
		defer limiter.Close()
	}

	if *cfg.Insights.ReaperEnabled {
		reaper := services.CreateReaper(cacheStore, cfg.Insights.ReaperInterval, cfg.Insights.Retention)
		go reaper.Run(ctx)
	}
	printSuccess("Services initialized")

	printStep("7/7", "Setting up HTTP server...")
	health := api.CreateHealthHandler()
	sqlDB, err := database.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	health.AddCheck("database", sqlDB)
	if redisCache != nil {
		health.AddCheck("redis", api.PingFunc(redisCache.Ping))
	}
	health.AddProvider(provider.Name(), func() string { return provider.State().String() })

	router := api.CreateRouter(api.RouterConfig{
		Insights:       api.CreateInsightHandler(coordinator, cacheStore, throttle, cfg.Insights.DefaultLocale),
		Health:         health,
		Tenants:        middleware.CreateTenantMiddleware(tenantService, limiter),
		AllowedOrigins: cfg.Security.AllowedOrigins,
	})

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	fmt.Println()
	fmt.Printf("%s%sPulse is ready!%s\n", colorGreen, colorBold, colorReset)
	printInfo(fmt.Sprintf("Health:   http://localhost:%s/api/v1/health", cfg.Server.Port))
	printInfo(fmt.Sprintf("Insights: http://localhost:%s/api/v1/insights/lead_priority", cfg.Server.Port))
	fmt.Println()

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	fmt.Println()
	printWarning("Shutting down Pulse...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		printWarning(fmt.Sprintf("Tracing flush failed: %v", err))
	}

	printSuccess("Pulse stopped gracefully")
	return nil
}

// buildProvider picks OpenAI when a key is configured and the static
// provider otherwise, behind a circuit breaker either way.
func buildProvider(cfg *config.Config) (*providers.CircuitBreakerProvider, error) {
	var inner providers.InferenceProvider
	if cfg.OpenAI.APIKey != "" {
		openaiProvider, err := providers.CreateOpenAIProvider(providers.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			Timeout:     cfg.OpenAI.Timeout,
			MaxRetries:  cfg.OpenAI.MaxRetries,
			Temperature: cfg.OpenAI.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		inner = openaiProvider
	} else {
		printWarning("OPENAI_API_KEY not set, using the static provider")
		inner = providers.CreateStaticProvider(nil)
	}

	return providers.CreateCircuitBreakerProvider(inner, providers.BreakerConfig{
		MaxFailures: cfg.OpenAI.BreakerFailures,
		Cooldown:    cfg.OpenAI.BreakerCooldown,
	}), nil
}
