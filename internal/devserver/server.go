package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix is the route group that mirrors the backend base URL path.
	DefaultPrefix = "/api"

	shutdownTimeout = 10 * time.Second
)

var (
	errMissingStore    = errors.New("devserver.missing_store")
	errMissingVerifier = errors.New("devserver.missing_verifier")
)

// Config wires the development backend router.
type Config struct {
	Prefix             string
	Store              *Store
	Verifier           TokenVerifier
	// Emulator, when set, serves sign-in under EmulatorPrefix without a bearer token.
	Emulator           *Emulator
	Metrics            *Metrics
	Logger             *zap.Logger
	EnableCORS         bool
	CORSAllowedOrigins []string
}

// NewRouter builds the gin engine serving the backend contract, health and metrics.
func NewRouter(configuration Config) (*gin.Engine, error) {
	if configuration.Store == nil {
		return nil, errMissingStore
	}
	if configuration.Verifier == nil {
		return nil, errMissingVerifier
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(configuration.Prefix), "/")
	if prefix == "/" {
		prefix = DefaultPrefix
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	router.Use(metrics.Middleware())
	if configuration.EnableCORS {
		corsMiddleware, err := ConfigureCORS(logger, configuration.CORSAllowedOrigins)
		if err != nil {
			return nil, err
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		if err := configuration.Store.Ping(contextGin.Request.Context()); err != nil {
			logger.Error("health check failed", zap.String("code", "devserver.health.failed"), zap.Error(err))
			contextGin.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok", "driver": configuration.Store.Driver()})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if configuration.Emulator != nil {
		configuration.Emulator.register(router.Group(EmulatorPrefix))
	}

	api := router.Group(prefix)
	api.Use(RequireBearer(configuration.Verifier, metrics, logger))
	handlers := &apiHandlers{store: configuration.Store, metrics: metrics, logger: logger}
	handlers.register(api)
	return router, nil
}

// Serve runs the server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, server *http.Server, listen func(*http.Server) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		serverErrors <- listen(server)
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownContext); err != nil {
			return err
		}
		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
