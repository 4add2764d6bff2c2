package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentexcel/accountd/internal/identity"
	"github.com/talentexcel/accountd/internal/linkkit"
	"github.com/talentexcel/accountd/internal/profiles"
	"github.com/talentexcel/accountd/internal/web"
	"github.com/talentexcel/accountd/pkg/sessionvalidator"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (identity.GoogleTokenValidator, error) {
	return identity.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "accountd",
		Short:   "Account service with password and Google sign-in, multi-account linking, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	rootCmd.Flags().String("jwt_issuer", "talentexcel-accountd", "Issuer claim for access tokens")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID (empty disables Google sign-in)")
	rootCmd.Flags().String("oauth_redirect_url", "", "Default OAuth redirect target")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 60*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("oauth_state_ttl", 5*time.Minute, "OAuth state token lifetime")
	rootCmd.Flags().String("database_url", "", "Database URL for identities and registries (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().String("redis_url", "", "Redis URL for registry storage (overrides database_url for registries)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("jwt_issuer", rootCmd.Flags().Lookup("jwt_issuer"))
	_ = viper.BindPFlag("google_web_client_id", rootCmd.Flags().Lookup("google_web_client_id"))
	_ = viper.BindPFlag("oauth_redirect_url", rootCmd.Flags().Lookup("oauth_redirect_url"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("oauth_state_ttl", rootCmd.Flags().Lookup("oauth_state_ttl"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("redis_url", rootCmd.Flags().Lookup("redis_url"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
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

// LoadServerConfig reads and validates the identity provider configuration.
func LoadServerConfig() (identity.Config, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return identity.Config{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return identity.Config{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return identity.Config{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	return identity.Config{
		SigningKey:        []byte(jwtSigningKey),
		Issuer:            viper.GetString("jwt_issuer"),
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		GoogleWebClientID: viper.GetString("google_web_client_id"),
		OAuthRedirectURL:  viper.GetString("oauth_redirect_url"),
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
	providerConfig, ok := contextValue.(identity.Config)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	redisURL := viper.GetString("redis_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	oauthStateTTL := viper.GetDuration("oauth_state_ttl")

	startupCtx := context.Background()

	var credentialStore identity.CredentialStore
	var refreshStore identity.RefreshTokenStore
	var profileStore profiles.Store
	var registryBackend linkkit.KVStore

	if databaseURL != "" {
		gormDB, driverLabel, openErr := linkkit.OpenDatabase(databaseURL)
		if openErr != nil {
			return openErr
		}
		databaseCredentials, credErr := identity.NewDatabaseCredentialStore(startupCtx, gormDB)
		if credErr != nil {
			return credErr
		}
		databaseRefresh, refreshErr := identity.NewDatabaseRefreshTokenStore(startupCtx, gormDB)
		if refreshErr != nil {
			return refreshErr
		}
		databaseProfiles, profilesErr := profiles.NewDatabaseStore(startupCtx, gormDB)
		if profilesErr != nil {
			return profilesErr
		}
		databaseRegistry, registryErr := linkkit.NewDatabaseKVStoreFromDB(startupCtx, gormDB, driverLabel)
		if registryErr != nil {
			return registryErr
		}
		credentialStore = databaseCredentials
		refreshStore = databaseRefresh
		profileStore = databaseProfiles
		registryBackend = databaseRegistry
		logger.Info("using persistent stores", zap.String("driver", driverLabel))
	} else {
		credentialStore = identity.NewMemoryCredentialStore()
		refreshStore = identity.NewMemoryRefreshTokenStore()
		profileStore = profiles.NewMemoryStore()
		registryBackend = linkkit.NewMemoryKVStore()
		logger.Info("using in-memory stores")
	}

	if redisURL != "" {
		redisRegistry, redisErr := linkkit.NewRedisKVStore(startupCtx, redisURL)
		if redisErr != nil {
			return redisErr
		}
		defer func() { _ = redisRegistry.Close() }()
		registryBackend = redisRegistry
		logger.Info("using redis registry store")
	}

	var googleValidator identity.GoogleTokenValidator
	if providerConfig.GoogleWebClientID != "" {
		validator, validatorErr := buildGoogleTokenValidator(command.Context())
		if validatorErr != nil {
			return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
		}
		googleValidator = validator
	}

	stateStore := identity.NewMemoryStateStore(oauthStateTTL)
	provider, providerErr := identity.NewProvider(providerConfig, credentialStore, refreshStore, stateStore, googleValidator, identity.NewSystemClock(), logger)
	if providerErr != nil {
		return providerErr
	}

	metricsRecorder := linkkit.NewCounterMetrics()
	hub := web.NewManagerHub(provider, profileStore, registryBackend, logger, metricsRecorder)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	web.MountLinkRoutes(router, hub, provider, profileStore, logger)

	sessionValidator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: providerConfig.SigningKey,
		Issuer:     providerConfig.Issuer,
	})
	if validatorErr != nil {
		return validatorErr
	}
	protected := router.Group("/api")
	protected.Use(sessionValidator.GinMiddleware(sessionvalidator.DefaultContextKey))
	protected.GET("/me", web.HandleWhoAmI(logger, profileStore))

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
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
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
