package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/todoauth/internal/authkit"
	"github.com/tyemirov/todoauth/internal/web"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildWindowCounter = func(ctx context.Context, logger *zap.Logger, redisURL string) (web.WindowCounter, func() error, error) {
	client, err := web.NewRedisClient(redisURL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		logger.Warn("redis unreachable; rate limiting fails open until it recovers",
			zap.String("code", "web.ratelimit.redis_unreachable"),
			zap.Error(pingErr))
	}
	return web.NewRedisWindowCounter(client), client.Close, nil
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv populates the environment from a dotenv file when one exists.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config.dotenv: %w", err)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "todoauth",
		Short:   "Credential and session service for the todo app: JWT access tokens, revocable refresh cookies, admin gating",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().String("database_url", "", "Database URL for accounts (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.PersistentFlags().Int("bcrypt_cost", bcrypt.DefaultCost, "bcrypt cost for password hashes")

	rootCmd.Flags().String("listen_addr", ":5000", "HTTP listen address")
	rootCmd.Flags().String("environment", environmentDevelopment, "Deployment environment (development or production)")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("access_token_secret", "", "HS256 secret for access tokens")
	rootCmd.Flags().String("refresh_token_secret", "", "HS256 secret for refresh tokens; must differ from the access secret")
	rootCmd.Flags().Duration("access_token_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_token_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{"http://localhost:5173"}, "Origins allowed to call the API with credentials")
	rootCmd.Flags().String("redis_url", "", "Redis URL for rate limiting; empty disables rate limiting")
	rootCmd.Flags().Int64("rate_limit_max", 100, "Requests allowed per client IP per window")
	rootCmd.Flags().Duration("rate_limit_window", 15*time.Minute, "Rate limit window")
	rootCmd.Flags().Bool("metrics_enabled", false, "Expose Prometheus metrics on /metrics")
	rootCmd.Flags().StringSlice("trusted_proxies", nil, "Proxy addresses or CIDRs whose X-Forwarded-For is honored; empty uses the socket peer address")

	for _, flagName := range []string{"database_url", "bcrypt_cost"} {
		_ = viper.BindPFlag(flagName, rootCmd.PersistentFlags().Lookup(flagName))
	}
	for _, flagName := range []string{
		"listen_addr", "environment", "cookie_domain", "access_token_secret", "refresh_token_secret",
		"access_token_ttl", "refresh_token_ttl", "cors_allowed_origins", "redis_url",
		"rate_limit_max", "rate_limit_window", "metrics_enabled", "trusted_proxies",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSeedCommand())
	return rootCmd
}

const (
	environmentDevelopment = "development"
	environmentProduction  = "production"

	configCodeMissingAccessSecret     = "config.missing_access_token_secret"
	configCodeMissingRefreshSecret    = "config.missing_refresh_token_secret"
	configCodeSharedTokenSecret       = "config.shared_token_secret"
	configCodeInvalidAccessTTL        = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_token_ttl"
	configCodeUnknownEnvironment      = "config.unknown_environment"
	configCodeInvalidRateLimit        = "config.invalid_rate_limit"
	configCodeInvalidTrustedProxies   = "config.invalid_trusted_proxies"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeSeedRequiresDatabase    = "config.seed_requires_database"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the token and cookie settings from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	accessSecret := viper.GetString("access_token_secret")
	if accessSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAccessSecret, "access_token_secret must be provided")
	}

	refreshSecret := viper.GetString("refresh_token_secret")
	if refreshSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingRefreshSecret, "refresh_token_secret must be provided")
	}
	if refreshSecret == accessSecret {
		return authkit.ServerConfig{}, configError(configCodeSharedTokenSecret, "access_token_secret and refresh_token_secret must differ")
	}

	accessTTL := viper.GetDuration("access_token_ttl")
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_token_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_token_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_token_ttl must be greater than zero")
	}

	environment := strings.ToLower(strings.TrimSpace(viper.GetString("environment")))
	if environment == "" {
		environment = environmentDevelopment
	}
	if environment != environmentDevelopment && environment != environmentProduction {
		return authkit.ServerConfig{}, configError(configCodeUnknownEnvironment, fmt.Sprintf("environment must be %s or %s, got %q", environmentDevelopment, environmentProduction, environment))
	}
	cookieSecure, sameSite := authkit.CookiePolicy(environment == environmentProduction)

	return authkit.ServerConfig{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		TokenIssuer:        authkit.DefaultTokenIssuer,
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		RefreshCookieName:  authkit.DefaultRefreshCookieName,
		RefreshCookiePath:  authkit.DefaultRefreshCookiePath,
		CookieDomain:       viper.GetString("cookie_domain"),
		CookieSecure:       cookieSecure,
		SameSiteMode:       sameSite,
		BcryptCost:         viper.GetInt("bcrypt_cost"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	rateLimitMax := viper.GetInt64("rate_limit_max")
	rateLimitWindow := viper.GetDuration("rate_limit_window")
	redisURL := strings.TrimSpace(viper.GetString("redis_url"))
	if redisURL != "" && (rateLimitMax <= 0 || rateLimitWindow <= 0) {
		return configError(configCodeInvalidRateLimit, "rate_limit_max and rate_limit_window must be greater than zero")
	}

	userStore, closeStore, storeErr := openUserStore(context.Background(), logger, viper.GetString("database_url"))
	if storeErr != nil {
		return storeErr
	}
	defer func() { _ = closeStore() }()

	var metricsRecorder authkit.MetricsRecorder = authkit.NewCounterMetrics()
	var metricsHandler http.Handler
	if viper.GetBool("metrics_enabled") {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prometheusMetrics, metricsErr := authkit.NewPrometheusMetrics(registry)
		if metricsErr != nil {
			return metricsErr
		}
		metricsRecorder = prometheusMetrics
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	service, serviceErr := authkit.NewSessionService(serverConfig, authkit.ServiceDependencies{
		Users:   userStore,
		Clock:   authkit.NewSystemClock(),
		Logger:  logger,
		Metrics: metricsRecorder,
	})
	if serviceErr != nil {
		return serviceErr
	}

	var rateLimiter gin.HandlerFunc
	if redisURL != "" {
		counter, closeCounter, counterErr := buildWindowCounter(context.Background(), logger, redisURL)
		if counterErr != nil {
			return counterErr
		}
		defer func() { _ = closeCounter() }()
		limiter, limiterErr := web.RateLimit(logger, counter, web.RateLimitPolicy{MaxRequests: rateLimitMax, Window: rateLimitWindow})
		if limiterErr != nil {
			return limiterErr
		}
		rateLimiter = limiter
	}

	gin.SetMode(gin.ReleaseMode)
	router, routerErr := buildRouter(logger, service, routerOptions{
		allowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		rateLimiter:    rateLimiter,
		metricsHandler: metricsHandler,
		trustedProxies: viper.GetStringSlice("trusted_proxies"),
	})
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.Bool("cookie_secure", serverConfig.CookieSecure),
		zap.Bool("rate_limited", rateLimiter != nil),
		zap.Bool("metrics", metricsHandler != nil))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

type routerOptions struct {
	allowedOrigins []string
	rateLimiter    gin.HandlerFunc
	metricsHandler http.Handler
	trustedProxies []string
}

func buildRouter(logger *zap.Logger, service *authkit.SessionService, options routerOptions) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(options.trustedProxies); err != nil {
		return nil, configError(configCodeInvalidTrustedProxies, err.Error())
	}
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	router.Use(web.SecurityHeaders())

	corsMiddleware, corsErr := web.ConfigureCORS(logger, options.allowedOrigins)
	if corsErr != nil {
		return nil, corsErr
	}
	router.Use(corsMiddleware)

	if options.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(options.metricsHandler))
	}

	api := router.Group("/api")
	if options.rateLimiter != nil {
		api.Use(options.rateLimiter)
	}
	api.GET("/health", web.HandleHealth)
	authkit.MountAuthRoutes(api, service)
	web.MountAdminRoutes(api, service, logger)

	router.NoRoute(web.HandleNotFound)
	return router, nil
}

// openUserStore selects the GORM store for a database URL and the in-memory store otherwise.
func openUserStore(ctx context.Context, logger *zap.Logger, databaseURL string) (authkit.UserStore, func() error, error) {
	if strings.TrimSpace(databaseURL) == "" {
		logger.Info("using in-memory user store")
		return authkit.NewMemoryUserStore(), func() error { return nil }, nil
	}
	persistentStore, storeErr := authkit.NewDatabaseUserStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, nil, storeErr
	}
	logger.Info("using persistent user store", zap.String("driver", persistentStore.Driver()))
	return persistentStore, persistentStore.Close, nil
}

func newSeedCommand() *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed-superadmin",
		Short: "Create the superadmin account or promote an existing one",
		RunE:  runSeed,
	}
	seedCmd.Flags().String("superadmin_email", "admin@todo.com", "Superadmin email")
	seedCmd.Flags().String("superadmin_password", "Admin@123", "Superadmin password")
	seedCmd.Flags().String("superadmin_name", "Super Admin", "Superadmin display name")
	for _, flagName := range []string{"superadmin_email", "superadmin_password", "superadmin_name"} {
		_ = viper.BindPFlag(flagName, seedCmd.Flags().Lookup(flagName))
		envName := strings.ToUpper(flagName)
		_ = viper.BindEnv(flagName, "APP_"+envName, envName)
	}
	return seedCmd
}

func runSeed(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	databaseURL := viper.GetString("database_url")
	if strings.TrimSpace(databaseURL) == "" {
		return configError(configCodeSeedRequiresDatabase, "database_url must be provided to seed a superadmin")
	}
	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	userStore, closeStore, storeErr := openUserStore(ctx, logger, databaseURL)
	if storeErr != nil {
		return storeErr
	}
	defer func() { _ = closeStore() }()

	seeded, outcome, seedErr := authkit.SeedSuperadmin(ctx, userStore, authkit.SuperadminSeed{
		Email:      viper.GetString("superadmin_email"),
		Password:   viper.GetString("superadmin_password"),
		Name:       viper.GetString("superadmin_name"),
		BcryptCost: viper.GetInt("bcrypt_cost"),
	})
	if seedErr != nil {
		return seedErr
	}
	logger.Info("superadmin seeded",
		zap.String("code", "seed.superadmin."+string(outcome)),
		zap.String("user_id", seeded.ID),
		zap.String("email", seeded.Email))
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
