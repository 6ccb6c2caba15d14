package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

const (
	defaultLoopbackAddress = "127.0.0.1:0"
	loopbackCallbackPath   = "/callback"
	defaultStateTTL        = 10 * time.Minute
	oauthDeniedError       = "access_denied"
)

var (
	// ErrFederatedCancelled indicates the user abandoned the federated sign-in.
	ErrFederatedCancelled = errors.New("federated.cancelled")
	// ErrFederatedDenied indicates the user or provider rejected the authorization request.
	ErrFederatedDenied = errors.New("federated.denied")

	errFederatedMissingClientID = errors.New("federated.missing_client_id")
	errFederatedMissingIDToken  = errors.New("federated.missing_id_token")
	errFederatedMissingCode     = errors.New("federated.missing_code")
	errFederatedEmptyToken      = errors.New("federated.empty_token")
)

// FederatedFlow obtains a Google ID token for the user.
type FederatedFlow interface {
	Authorize(ctx context.Context) (string, error)
}

// StaticFlow returns a Google ID token that was obtained out of band.
type StaticFlow struct {
	IDToken string
}

// Authorize returns the configured token.
func (flow StaticFlow) Authorize(ctx context.Context) (string, error) {
	if strings.TrimSpace(flow.IDToken) == "" {
		return "", fmt.Errorf("federated.static: %w", errFederatedEmptyToken)
	}
	return flow.IDToken, nil
}

// GoogleTokenValidator verifies Google-issued ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator constructs a validator backed by Google's public certificates.
func NewGoogleTokenValidator(ctx context.Context, options ...option.ClientOption) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("federated.validator: %w", err)
	}
	return validator, nil
}

// LoopbackFlowConfig configures the OAuth 2.0 authorization-code flow with a loopback redirect.
type LoopbackFlowConfig struct {
	ClientID      string
	ClientSecret  string
	Scopes        []string
	Endpoint      oauth2.Endpoint
	ListenAddress string
	// OpenURL presents the authorization URL to the user.
	OpenURL    func(authorizationURL string) error
	States     NonceStore
	HTTPClient *http.Client
	Validator  GoogleTokenValidator
	Logger     *zap.Logger
}

// LoopbackFlow runs Google sign-in through the system browser and a 127.0.0.1 callback.
type LoopbackFlow struct {
	configuration LoopbackFlowConfig
	logger        *zap.Logger
}

type callbackResult struct {
	code string
	err  error
}

// NewLoopbackFlow validates the configuration and applies defaults.
func NewLoopbackFlow(configuration LoopbackFlowConfig) (*LoopbackFlow, error) {
	if strings.TrimSpace(configuration.ClientID) == "" {
		return nil, fmt.Errorf("federated.loopback: %w", errFederatedMissingClientID)
	}
	if configuration.Endpoint.AuthURL == "" {
		configuration.Endpoint = google.Endpoint
	}
	if len(configuration.Scopes) == 0 {
		configuration.Scopes = []string{"openid", "email", "profile"}
	}
	if strings.TrimSpace(configuration.ListenAddress) == "" {
		configuration.ListenAddress = defaultLoopbackAddress
	}
	if configuration.States == nil {
		configuration.States = NewMemoryNonceStore(defaultStateTTL, nil)
	}
	if configuration.OpenURL == nil {
		configuration.OpenURL = func(authorizationURL string) error {
			fmt.Printf("Open the following URL to continue signing in:\n%s\n", authorizationURL)
			return nil
		}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopbackFlow{configuration: configuration, logger: logger}, nil
}

// Authorize waits for the browser redirect, exchanges the code and returns the Google ID token.
func (flow *LoopbackFlow) Authorize(ctx context.Context) (string, error) {
	listener, listenErr := net.Listen("tcp", flow.configuration.ListenAddress)
	if listenErr != nil {
		return "", fmt.Errorf("federated.loopback.listen: %w", listenErr)
	}
	redirectURL := fmt.Sprintf("http://%s%s", listener.Addr().String(), loopbackCallbackPath)
	oauthConfig := &oauth2.Config{
		ClientID:     flow.configuration.ClientID,
		ClientSecret: flow.configuration.ClientSecret,
		Endpoint:     flow.configuration.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       flow.configuration.Scopes,
	}

	state, stateErr := flow.configuration.States.Issue(ctx)
	if stateErr != nil {
		listener.Close()
		return "", fmt.Errorf("federated.loopback.state: %w", stateErr)
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	server := &http.Server{Handler: flow.callbackRouter(state, results)}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			flow.logger.Warn("federated callback server stopped", zap.String("code", "federated.loopback.serve"), zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownContext, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownContext)
	}()

	authorizationURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	if openErr := flow.configuration.OpenURL(authorizationURL); openErr != nil {
		return "", fmt.Errorf("federated.loopback.open: %w", openErr)
	}

	var result callbackResult
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("federated.loopback: %w: %v", ErrFederatedCancelled, ctx.Err())
	case result = <-results:
	}
	if result.err != nil {
		return "", result.err
	}

	exchangeContext := ctx
	if flow.configuration.HTTPClient != nil {
		exchangeContext = context.WithValue(ctx, oauth2.HTTPClient, flow.configuration.HTTPClient)
	}
	token, exchangeErr := oauthConfig.Exchange(exchangeContext, result.code, oauth2.VerifierOption(verifier))
	if exchangeErr != nil {
		return "", fmt.Errorf("federated.loopback.exchange: %w", exchangeErr)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", fmt.Errorf("federated.loopback.exchange: %w", errFederatedMissingIDToken)
	}
	if flow.configuration.Validator != nil {
		if _, validateErr := flow.configuration.Validator.Validate(ctx, idToken, flow.configuration.ClientID); validateErr != nil {
			return "", fmt.Errorf("federated.loopback.validate: %w", validateErr)
		}
	}
	return idToken, nil
}

// callbackRouter switches gin out of debug mode so route banners never reach the terminal
// during an interactive sign-in.
func (flow *LoopbackFlow) callbackRouter(expectedState string, results chan<- callbackResult) http.Handler {
	if gin.IsDebugging() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.GET(loopbackCallbackPath, func(contextGin *gin.Context) {
		deliver := func(result callbackResult) {
			select {
			case results <- result:
			default:
			}
		}
		state := contextGin.Query("state")
		if state != expectedState {
			contextGin.String(http.StatusBadRequest, "Sign-in state mismatch. You can close this window.")
			return
		}
		if consumeErr := flow.configuration.States.Consume(contextGin.Request.Context(), state); consumeErr != nil {
			deliver(callbackResult{err: fmt.Errorf("federated.loopback.state: %w", consumeErr)})
			contextGin.String(http.StatusBadRequest, "Sign-in request expired. You can close this window.")
			return
		}
		if providerError := contextGin.Query("error"); providerError != "" {
			if providerError == oauthDeniedError {
				deliver(callbackResult{err: fmt.Errorf("federated.loopback: %w", ErrFederatedDenied)})
			} else {
				deliver(callbackResult{err: fmt.Errorf("federated.loopback.%s: %w", providerError, ErrFederatedCancelled)})
			}
			contextGin.String(http.StatusOK, "Sign-in was not completed. You can close this window.")
			return
		}
		code := contextGin.Query("code")
		if code == "" {
			deliver(callbackResult{err: fmt.Errorf("federated.loopback: %w", errFederatedMissingCode)})
			contextGin.String(http.StatusBadRequest, "Sign-in response was incomplete. You can close this window.")
			return
		}
		deliver(callbackResult{code: code})
		contextGin.String(http.StatusOK, "Signed in. You can close this window.")
	})
	return router
}

// federatedAuthError maps federated flow failures onto AuthError codes.
func federatedAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrFederatedCancelled):
		return NewAuthError(CodePopupClosedByUser, "The sign-in window was closed before finalizing the operation.", err)
	case errors.Is(err, ErrFederatedDenied):
		return NewAuthError(CodeCancelledPopup, "The sign-in request was cancelled.", err)
	case isNetworkError(err):
		return NewAuthError(CodeNetworkRequestFailed, "A network error has occurred.", err)
	default:
		return AsAuthError(err)
	}
}

func isNetworkError(err error) bool {
	var networkError net.Error
	return errors.As(err, &networkError)
}
