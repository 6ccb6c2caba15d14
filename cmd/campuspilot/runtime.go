package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tyemirov/campuspilot/internal/identity"
	"github.com/tyemirov/campuspilot/internal/quiz"
	"github.com/tyemirov/campuspilot/internal/session"
)

var errNotSignedIn = errors.New("session.not_signed_in: run `campuspilot login` first")

var buildLogger = func(level zapcore.Level) (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	return loggerConfig.Build()
}

// buildProvider returns the identity provider and a release func for its resources.
var buildProvider = func(ctx context.Context, configuration clientConfig, logger *zap.Logger, out io.Writer) (identity.Provider, func() error, error) {
	if err := ensureSQLiteDirectory(configuration.SessionDatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("cli.session_store: %w", err)
	}
	store, err := identity.NewDatabaseSessionStore(ctx, configuration.SessionDatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	var flow identity.FederatedFlow
	if configuration.GoogleOAuthClientID != "" {
		validator, validatorErr := identity.NewGoogleTokenValidator(ctx)
		if validatorErr != nil {
			_ = store.Close()
			return nil, nil, validatorErr
		}
		loopback, flowErr := identity.NewLoopbackFlow(identity.LoopbackFlowConfig{
			ClientID:     configuration.GoogleOAuthClientID,
			ClientSecret: configuration.GoogleOAuthClientSecret,
			Validator:    validator,
			Logger:       logger,
			OpenURL: func(authorizationURL string) error {
				_, writeErr := fmt.Fprintf(out, "Open the following URL to continue signing in:\n%s\n", authorizationURL)
				return writeErr
			},
		})
		if flowErr != nil {
			_ = store.Close()
			return nil, nil, flowErr
		}
		flow = loopback
	}

	provider, err := identity.NewFirebaseProvider(ctx, identity.FirebaseConfig{
		APIKey:              configuration.APIKey,
		IdentityEndpoint:    configuration.IdentityEndpoint,
		SecureTokenEndpoint: configuration.SecureTokenEndpoint,
		Profile:             configuration.Profile,
		Store:               store,
		FederatedFlow:       flow,
		Logger:              logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return provider, store.Close, nil
}

var buildQuestionSource = func(configuration clientConfig, logger *zap.Logger) quiz.QuestionSource {
	return quiz.NewClient(quiz.ClientConfig{Endpoint: configuration.QuizEndpoint, Logger: logger})
}

// clientRuntime is the signed-in context handed to every session-backed command.
type clientRuntime struct {
	configuration clientConfig
	logger        *zap.Logger
	manager       *session.Manager
	printer       *printer
}

func (runtime *clientRuntime) requireUser() (*identity.Identity, error) {
	current := runtime.manager.CurrentUser()
	if current == nil {
		return nil, errNotSignedIn
	}
	return current, nil
}

// withSession builds the provider and session manager, waits for the first identity
// check and runs the command body.
func withSession(command *cobra.Command, run func(ctx context.Context, runtime *clientRuntime) error) error {
	configuration, err := clientConfigFrom(command)
	if err != nil {
		return err
	}
	logger, err := buildLogger(configuration.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := commandContext(command)
	provider, release, err := buildProvider(ctx, configuration, logger, command.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := release(); releaseErr != nil {
			logger.Warn("release provider resources", zap.String("code", "cli.release.failed"), zap.Error(releaseErr))
		}
	}()

	events := session.NewEventCounter()
	defer func() {
		if fields := events.Fields(); len(fields) > 0 {
			logger.Info("session events", append([]zap.Field{zap.String("code", "cli.session.events")}, fields...)...)
		}
	}()

	manager, err := session.New(provider, session.Config{
		BaseURL:     configuration.BackendBaseURL,
		HTTPTimeout: configuration.HTTPTimeout,
		Metrics:     events,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	readyContext, cancel := context.WithTimeout(ctx, configuration.HTTPTimeout)
	defer cancel()
	if err := manager.WaitReady(readyContext); err != nil {
		return fmt.Errorf("session.wait_ready: %w", err)
	}

	return run(ctx, &clientRuntime{
		configuration: configuration,
		logger:        logger,
		manager:       manager,
		printer:       newPrinter(command.OutOrStdout(), command.ErrOrStderr()),
	})
}

// sessionCommand wires the shared config preparation into a session-backed command.
func sessionCommand(command *cobra.Command, run func(command *cobra.Command, arguments []string, runtime *clientRuntime) error) *cobra.Command {
	command.PreRunE = prepareClientConfig
	command.RunE = func(command *cobra.Command, arguments []string) error {
		return withSession(command, func(ctx context.Context, runtime *clientRuntime) error {
			return run(command, arguments, runtime)
		})
	}
	return command
}
