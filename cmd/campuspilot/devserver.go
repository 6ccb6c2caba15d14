package main

import (
	"context"
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

	"github.com/tyemirov/campuspilot/internal/devserver"
	"github.com/tyemirov/campuspilot/internal/identity"
	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

var buildFirebaseVerifier = func(ctx context.Context, projectID string) (devserver.TokenVerifier, error) {
	return devserver.NewFirebaseTokenVerifier(ctx, projectID)
}

func newDevServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "devserver",
		Short:   "Run the development backend that serves the Campus Pilot REST API",
		Args:    cobra.NoArgs,
		PreRunE: prepareDevServerConfig,
		RunE:    runDevServer,
	}

	command.Flags().String("listen_addr", ":5000", "HTTP listen address")
	command.Flags().String("database_url", "sqlite://campuspilot-dev.db", "Database URL (sqlite:// or postgres://)")
	command.Flags().String("api_prefix", devserver.DefaultPrefix, "Route prefix for the API")
	command.Flags().String("signing_key", "", "HS256 key for the sign-in emulator and the ID tokens it mints")
	command.Flags().String("issuer", "campuspilot-memory", "Issuer of emulator ID tokens")
	command.Flags().String("audience", "", "Audience of emulator ID tokens")
	command.Flags().String("firebase_project_id", "", "Firebase project whose ID tokens are accepted")
	command.Flags().Bool("enable_cors", false, "Enable CORS for browser clients")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	_ = viper.BindPFlag("listen_addr", command.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("database_url", command.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("api_prefix", command.Flags().Lookup("api_prefix"))
	_ = viper.BindPFlag("signing_key", command.Flags().Lookup("signing_key"))
	_ = viper.BindPFlag("issuer", command.Flags().Lookup("issuer"))
	_ = viper.BindPFlag("audience", command.Flags().Lookup("audience"))
	_ = viper.BindPFlag("firebase_project_id", command.Flags().Lookup("firebase_project_id"))
	_ = viper.BindPFlag("enable_cors", command.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", command.Flags().Lookup("cors_allowed_origins"))
	return command
}

func buildTokenVerifier(ctx context.Context, configuration devServerConfig) (devserver.TokenVerifier, error) {
	if configuration.FirebaseProjectID != "" {
		verifier, err := buildFirebaseVerifier(ctx, configuration.FirebaseProjectID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", configCodeTokenVerifierInit, err)
		}
		return verifier, nil
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(configuration.SigningKey),
		Issuer:     configuration.Issuer,
		Audience:   configuration.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configCodeTokenVerifierInit, err)
	}
	return devserver.NewSessionTokenVerifier(validator), nil
}

// buildEmulator returns nil when ID tokens come from a Firebase project.
func buildEmulator(configuration devServerConfig, logger *zap.Logger) (*devserver.Emulator, error) {
	if configuration.FirebaseProjectID != "" || configuration.SigningKey == "" {
		return nil, nil
	}
	emulator, err := devserver.NewEmulator(devserver.EmulatorConfig{
		Directory:  identity.NewAccountDirectory(identity.AccountDirectoryConfig{}),
		SigningKey: []byte(configuration.SigningKey),
		Issuer:     configuration.Issuer,
		Audience:   configuration.Audience,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configCodeEmulatorInit, err)
	}
	return emulator, nil
}

func runDevServer(command *cobra.Command, arguments []string) error {
	configuration, err := devServerConfigFrom(command)
	if err != nil {
		return err
	}
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	ctx := commandContext(command)
	if err := ensureSQLiteDirectory(configuration.DatabaseURL); err != nil {
		return fmt.Errorf("devserver.database_directory: %w", err)
	}
	store, err := devserver.NewStore(ctx, configuration.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	logger.Info("using devserver store", zap.String("driver", store.Driver()))

	verifier, err := buildTokenVerifier(ctx, configuration)
	if err != nil {
		return err
	}

	emulator, err := buildEmulator(configuration, logger)
	if err != nil {
		return err
	}
	if emulator != nil {
		logger.Info("sign-in emulator enabled",
			zap.String("code", "devserver.emulator.enabled"),
			zap.String("identity_endpoint", devserver.EmulatorPrefix+devserver.EmulatorIdentityPath),
			zap.String("secure_token_endpoint", devserver.EmulatorPrefix),
		)
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := devserver.NewRouter(devserver.Config{
		Prefix:             configuration.Prefix,
		Store:              store,
		Verifier:           verifier,
		Emulator:           emulator,
		Logger:             logger,
		EnableCORS:         configuration.EnableCORS,
		CORSAllowedOrigins: configuration.CORSAllowedOrigins,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              configuration.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	signalContext, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := devserver.Serve(signalContext, server, serveHTTP, logger); err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
