package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix = "CAMPUSPILOT"

	configCodeMissingAPIKey              = "config.missing_api_key"
	configCodeInvalidBackendBaseURL      = "config.invalid_backend_base_url"
	configCodeMissingSessionDatabaseURL  = "config.missing_session_database_url"
	configCodeInvalidHTTPTimeout         = "config.invalid_http_timeout"
	configCodeInvalidLogLevel            = "config.invalid_log_level"
	configCodeUninitializedClientConfig  = "config.uninitialized_client_config"
	configCodeMissingListenAddr          = "config.missing_listen_addr"
	configCodeMissingDatabaseURL         = "config.missing_database_url"
	configCodeMissingTokenVerifier       = "config.missing_token_verifier"
	configCodeMissingIssuer              = "config.missing_issuer"
	configCodeMissingCORSOrigins         = "config.missing_cors_allowed_origins"
	configCodeUninitializedDevServerConf = "config.uninitialized_devserver_config"
	configCodeTokenVerifierInit          = "config.token_verifier_init"
	configCodeEmulatorInit               = "config.emulator_init"
)

type contextKey string

const (
	clientConfigContextKey    contextKey = "clientConfig"
	devServerConfigContextKey contextKey = "devServerConfig"
)

// clientConfig configures the commands that act on the signed-in session.
type clientConfig struct {
	APIKey                  string
	IdentityEndpoint        string
	SecureTokenEndpoint     string
	BackendBaseURL          string
	SessionDatabaseURL      string
	Profile                 string
	GoogleOAuthClientID     string
	GoogleOAuthClientSecret string
	QuizEndpoint            string
	HTTPTimeout             time.Duration
	LogLevel                zapcore.Level
}

// devServerConfig configures the development backend.
type devServerConfig struct {
	ListenAddr         string
	DatabaseURL        string
	Prefix             string
	SigningKey         string
	Issuer             string
	Audience           string
	FirebaseProjectID  string
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the session and backend settings.
func LoadClientConfig() (clientConfig, error) {
	apiKey := strings.TrimSpace(viper.GetString("api_key"))
	if apiKey == "" {
		return clientConfig{}, configError(configCodeMissingAPIKey, "api_key must be provided")
	}

	backendBaseURL := strings.TrimSpace(viper.GetString("backend_base_url"))
	parsedBaseURL, parseErr := url.Parse(backendBaseURL)
	if parseErr != nil || (parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https") || parsedBaseURL.Host == "" {
		return clientConfig{}, configError(configCodeInvalidBackendBaseURL, "backend_base_url must be an absolute http or https URL")
	}

	sessionDatabaseURL := strings.TrimSpace(viper.GetString("session_database_url"))
	if sessionDatabaseURL == "" {
		return clientConfig{}, configError(configCodeMissingSessionDatabaseURL, "session_database_url must be provided")
	}

	httpTimeout := viper.GetDuration("http_timeout")
	if httpTimeout <= 0 {
		return clientConfig{}, configError(configCodeInvalidHTTPTimeout, "http_timeout must be greater than zero")
	}

	logLevel, levelErr := zapcore.ParseLevel(viper.GetString("log_level"))
	if levelErr != nil {
		return clientConfig{}, configError(configCodeInvalidLogLevel, "log_level must be one of debug, info, warn, error")
	}

	return clientConfig{
		APIKey:                  apiKey,
		IdentityEndpoint:        strings.TrimSpace(viper.GetString("identity_endpoint")),
		SecureTokenEndpoint:     strings.TrimSpace(viper.GetString("secure_token_endpoint")),
		BackendBaseURL:          backendBaseURL,
		SessionDatabaseURL:      sessionDatabaseURL,
		Profile:                 strings.TrimSpace(viper.GetString("profile")),
		GoogleOAuthClientID:     strings.TrimSpace(viper.GetString("google_oauth_client_id")),
		GoogleOAuthClientSecret: viper.GetString("google_oauth_client_secret"),
		QuizEndpoint:            strings.TrimSpace(viper.GetString("quiz_endpoint")),
		HTTPTimeout:             httpTimeout,
		LogLevel:                logLevel,
	}, nil
}

// LoadDevServerConfig reads and validates the development backend settings.
func LoadDevServerConfig() (devServerConfig, error) {
	listenAddr := strings.TrimSpace(viper.GetString("listen_addr"))
	if listenAddr == "" {
		return devServerConfig{}, configError(configCodeMissingListenAddr, "listen_addr must be provided")
	}
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return devServerConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	signingKey := viper.GetString("signing_key")
	firebaseProjectID := strings.TrimSpace(viper.GetString("firebase_project_id"))
	if signingKey == "" && firebaseProjectID == "" {
		return devServerConfig{}, configError(configCodeMissingTokenVerifier, "either signing_key or firebase_project_id must be provided")
	}
	issuer := strings.TrimSpace(viper.GetString("issuer"))
	if signingKey != "" && issuer == "" {
		return devServerConfig{}, configError(configCodeMissingIssuer, "issuer must be provided with signing_key")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return devServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	return devServerConfig{
		ListenAddr:         listenAddr,
		DatabaseURL:        databaseURL,
		Prefix:             viper.GetString("api_prefix"),
		SigningKey:         signingKey,
		Issuer:             issuer,
		Audience:           strings.TrimSpace(viper.GetString("audience")),
		FirebaseProjectID:  firebaseProjectID,
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: corsAllowedOrigins,
	}, nil
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	configuration, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), clientConfigContextKey, configuration))
	return nil
}

func prepareDevServerConfig(command *cobra.Command, arguments []string) error {
	configuration, loadErr := LoadDevServerConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), devServerConfigContextKey, configuration))
	return nil
}

func clientConfigFrom(command *cobra.Command) (clientConfig, error) {
	configuration, ok := commandContext(command).Value(clientConfigContextKey).(clientConfig)
	if !ok {
		return clientConfig{}, configError(configCodeUninitializedClientConfig, "client configuration not prepared; PreRunE must execute before RunE")
	}
	return configuration, nil
}

func devServerConfigFrom(command *cobra.Command) (devServerConfig, error) {
	configuration, ok := commandContext(command).Value(devServerConfigContextKey).(devServerConfig)
	if !ok {
		return devServerConfig{}, configError(configCodeUninitializedDevServerConf, "devserver configuration not prepared; PreRunE must execute before RunE")
	}
	return configuration, nil
}

func commandContext(command *cobra.Command) context.Context {
	if existing := command.Context(); existing != nil {
		return existing
	}
	return context.Background()
}

func defaultSessionDatabaseURL() string {
	directory, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return "sqlite://" + filepath.Join(directory, "campuspilot", "session.db")
}

// ensureSQLiteDirectory creates the parent directory of a file-backed sqlite URL.
func ensureSQLiteDirectory(databaseURL string) error {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "sqlite" && scheme != "sqlite3") || parsed.Host != "" || parsed.Path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(parsed.Path), 0o700)
}
