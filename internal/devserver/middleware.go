package devserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

const principalContextKey = "campuspilot_principal"

// RequireBearer verifies the Authorization bearer token and injects the Principal.
func RequireBearer(verifier TokenVerifier, metrics *Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		token, ok := sessionvalidator.BearerToken(contextGin.GetHeader("Authorization"))
		if !ok {
			metrics.recordAuthFailure("missing_token")
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		principal, err := verifier.Verify(contextGin.Request.Context(), token)
		if err != nil || principal.UID == "" {
			metrics.recordAuthFailure("invalid_token")
			logger.Warn("bearer token rejected",
				zap.String("code", "devserver.auth.invalid_token"),
				zap.String("path", contextGin.Request.URL.Path),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		contextGin.Set(principalContextKey, principal)
		contextGin.Next()
	}
}

func principalFrom(contextGin *gin.Context) (Principal, bool) {
	value, found := contextGin.Get(principalContextKey)
	if !found {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok && principal.UID != ""
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
