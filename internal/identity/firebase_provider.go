package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultSecureTokenEndpoint serves refresh-token exchanges.
	DefaultSecureTokenEndpoint = "https://securetoken.googleapis.com"
	// DefaultProfile keys the persisted session when no profile is configured.
	DefaultProfile = "default"

	tokenRefreshMargin   = 5 * time.Minute
	passwordResetRequest = "PASSWORD_RESET"
	federatedRequestURI  = "http://localhost"
)

var (
	errFirebaseMissingAPIKey  = errors.New("firebase_provider.missing_api_key")
	errFirebaseMissingIDToken = errors.New("firebase_provider.missing_id_token")
	errFirebaseMissingUserID  = errors.New("firebase_provider.missing_user_id")
	errFirebaseMalformedToken = errors.New("firebase_provider.malformed_token")
	errFirebaseMissingRefresh = errors.New("firebase_provider.missing_refresh_token")
)

// FirebaseConfig configures the Identity Toolkit backed provider.
type FirebaseConfig struct {
	APIKey string
	// IdentityEndpoint overrides the Identity Toolkit relyingparty base URL.
	IdentityEndpoint    string
	SecureTokenEndpoint string
	Profile             string
	Store               SessionStore
	FederatedFlow       FederatedFlow
	HTTPClient          *http.Client
	Clock               Clock
	Logger              *zap.Logger
}

// FirebaseProvider talks to Firebase Authentication over its REST surface.
type FirebaseProvider struct {
	configuration FirebaseConfig
	service       *identitytoolkit.Service
	refreshConfig *oauth2.Config
	hub           *broadcaster
	logger        *zap.Logger

	mutex   sync.Mutex
	session *PersistedSession
}

type firebaseClaims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
	jwt.RegisteredClaims
}

// NewFirebaseProvider builds the Identity Toolkit client and restores any persisted session.
func NewFirebaseProvider(ctx context.Context, configuration FirebaseConfig) (*FirebaseProvider, error) {
	if strings.TrimSpace(configuration.APIKey) == "" {
		return nil, fmt.Errorf("firebase_provider.new: %w", errFirebaseMissingAPIKey)
	}
	if strings.TrimSpace(configuration.SecureTokenEndpoint) == "" {
		configuration.SecureTokenEndpoint = DefaultSecureTokenEndpoint
	}
	if strings.TrimSpace(configuration.Profile) == "" {
		configuration.Profile = DefaultProfile
	}
	if configuration.Clock == nil {
		configuration.Clock = NewSystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := []option.ClientOption{option.WithAPIKey(configuration.APIKey)}
	if endpoint := strings.TrimSpace(configuration.IdentityEndpoint); endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	service, serviceErr := identitytoolkit.NewService(ctx, clientOptions...)
	if serviceErr != nil {
		return nil, fmt.Errorf("firebase_provider.service: %w", serviceErr)
	}

	tokenURL := strings.TrimSuffix(configuration.SecureTokenEndpoint, "/") + "/v1/token?key=" + url.QueryEscape(configuration.APIKey)
	provider := &FirebaseProvider{
		configuration: configuration,
		service:       service,
		refreshConfig: &oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		hub:    newBroadcaster(),
		logger: logger,
	}

	if configuration.Store != nil {
		restored, loadErr := configuration.Store.Load(ctx, configuration.Profile)
		switch {
		case loadErr == nil:
			provider.session = restored
		case errors.Is(loadErr, ErrSessionNotFound):
		default:
			return nil, fmt.Errorf("firebase_provider.restore: %w", loadErr)
		}
	}
	return provider, nil
}

// CreateAccount registers a new email/password account and signs it in.
func (provider *FirebaseProvider) CreateAccount(ctx context.Context, email string, password string) (*Identity, error) {
	response, err := provider.service.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, authErrorFromProvider(err)
	}
	return provider.establish(ctx, nil, response.IdToken, response.RefreshToken, func(created *Identity) {
		created.ProviderID = PasswordProviderID
		created.CreatedAt = provider.configuration.Clock.Now().UTC()
	})
}

// SignInWithPassword signs in with email and password.
func (provider *FirebaseProvider) SignInWithPassword(ctx context.Context, email string, password string) (*Identity, error) {
	response, err := provider.service.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, authErrorFromProvider(err)
	}
	return provider.establish(ctx, nil, response.IdToken, response.RefreshToken, func(signedIn *Identity) {
		if signedIn.ProviderID == "" {
			signedIn.ProviderID = PasswordProviderID
		}
	})
}

// SignInWithFederated exchanges a Google ID token for a Firebase session.
func (provider *FirebaseProvider) SignInWithFederated(ctx context.Context) (*Identity, error) {
	if provider.configuration.FederatedFlow == nil {
		return nil, NewAuthError(CodeOperationNotAllowed, "Federated sign-in is not enabled.", nil)
	}
	googleToken, flowErr := provider.configuration.FederatedFlow.Authorize(ctx)
	if flowErr != nil {
		return nil, federatedAuthError(flowErr)
	}
	postBody := url.Values{}
	postBody.Set("id_token", googleToken)
	postBody.Set("providerId", GoogleProviderID)
	response, err := provider.service.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          postBody.Encode(),
		RequestUri:        federatedRequestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, authErrorFromProvider(err)
	}
	if response.ErrorMessage != "" {
		return nil, authErrorFromProviderCode(response.ErrorMessage, nil)
	}
	return provider.establish(ctx, nil, response.IdToken, response.RefreshToken, func(signedIn *Identity) {
		signedIn.ProviderID = GoogleProviderID
	})
}

// SignOut discards the local session.
func (provider *FirebaseProvider) SignOut(ctx context.Context) error {
	provider.clearSession(ctx, nil)
	return nil
}

// SendPasswordReset asks the provider to email a password reset link.
func (provider *FirebaseProvider) SendPasswordReset(ctx context.Context, email string) error {
	_, err := provider.service.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Email:       email,
		RequestType: passwordResetRequest,
	}).Context(ctx).Do()
	if err != nil {
		return authErrorFromProvider(err)
	}
	return nil
}

// UpdateProfile sets the display name and photo of the signed-in user.
func (provider *FirebaseProvider) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Identity, error) {
	credential, credentialErr := provider.Credential(ctx, false)
	if credentialErr != nil {
		return nil, credentialErr
	}
	provider.mutex.Lock()
	current := provider.session
	provider.mutex.Unlock()
	if current == nil {
		return nil, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	response, err := provider.service.Relyingparty.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:           credential.Token,
		DisplayName:       update.DisplayName,
		PhotoUrl:          update.PhotoURL,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, authErrorFromProvider(err)
	}

	apply := func(updated *Identity) {
		updated.DisplayName = update.DisplayName
		updated.PhotoURL = update.PhotoURL
	}
	if response.IdToken != "" {
		return provider.establish(ctx, current, response.IdToken, response.RefreshToken, apply)
	}

	next := *current
	apply(&next.Identity)
	if !provider.commit(ctx, current, next) {
		return nil, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	return next.Identity.Clone(), nil
}

// Credential returns the cached ID token or exchanges the refresh token for a new one.
func (provider *FirebaseProvider) Credential(ctx context.Context, forceRefresh bool) (Credential, error) {
	provider.mutex.Lock()
	current := provider.session
	provider.mutex.Unlock()
	if current == nil {
		return Credential{}, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	now := provider.configuration.Clock.Now()
	if !forceRefresh && now.Add(tokenRefreshMargin).Before(current.ExpiresAt) {
		return Credential{Token: current.IDToken, ExpiresAt: current.ExpiresAt}, nil
	}
	if current.RefreshToken == "" {
		return Credential{}, NewAuthError(CodeInvalidUserToken, "The user's credential is no longer valid. The user must sign in again.", errFirebaseMissingRefresh)
	}

	refreshContext := ctx
	if provider.configuration.HTTPClient != nil {
		refreshContext = context.WithValue(ctx, oauth2.HTTPClient, provider.configuration.HTTPClient)
	}
	token, refreshErr := provider.refreshConfig.TokenSource(refreshContext, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if refreshErr != nil {
		authError := authErrorFromProvider(refreshErr)
		if _, fatal := fatalRefreshCodes[refreshErrorCode(refreshErr)]; fatal {
			provider.logger.Warn("session ended by token endpoint",
				zap.String("code", "firebase_provider.refresh.fatal"),
				zap.String("auth_code", authError.Code),
			)
			provider.clearSession(ctx, current)
		}
		return Credential{}, authError
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		idToken = token.AccessToken
	}
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}
	refreshed, parseErr := provider.sessionFromTokens(idToken, refreshToken)
	if parseErr != nil {
		return Credential{}, NewAuthError(CodeInternalError, "The token endpoint returned an unreadable token.", parseErr)
	}
	refreshed.Identity.ProviderID = current.Identity.ProviderID
	refreshed.Identity.CreatedAt = current.Identity.CreatedAt
	if !provider.commit(ctx, current, refreshed) {
		provider.logger.Info("refreshed token discarded",
			zap.String("code", "firebase_provider.refresh.superseded"),
			zap.String("uid", current.Identity.UID),
		)
		return provider.currentCredential(current.Identity.UID)
	}
	return Credential{Token: refreshed.IDToken, ExpiresAt: refreshed.ExpiresAt}, nil
}

// currentCredential returns the installed token when it still belongs to uid.
func (provider *FirebaseProvider) currentCredential(uid string) (Credential, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if provider.session == nil || provider.session.Identity.UID != uid {
		return Credential{}, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	return Credential{Token: provider.session.IDToken, ExpiresAt: provider.session.ExpiresAt}, nil
}

// Subscribe delivers the current identity and every later change.
func (provider *FirebaseProvider) Subscribe(listener Listener) func() {
	return provider.hub.subscribe(listener, provider.currentIdentity)
}

func (provider *FirebaseProvider) currentIdentity() *Identity {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if provider.session == nil {
		return nil
	}
	return provider.session.Identity.Clone()
}

func (provider *FirebaseProvider) establish(ctx context.Context, expected *PersistedSession, idToken string, refreshToken string, adjust func(*Identity)) (*Identity, error) {
	established, err := provider.sessionFromTokens(idToken, refreshToken)
	if err != nil {
		return nil, NewAuthError(CodeInternalError, "The provider returned an unreadable token.", err)
	}
	if adjust != nil {
		adjust(&established.Identity)
	}
	if !provider.commit(ctx, expected, established) {
		return nil, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	return established.Identity.Clone(), nil
}

func (provider *FirebaseProvider) sessionFromTokens(idToken string, refreshToken string) (PersistedSession, error) {
	if strings.TrimSpace(idToken) == "" {
		return PersistedSession{}, errFirebaseMissingIDToken
	}
	claims := &firebaseClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return PersistedSession{}, fmt.Errorf("%w: %v", errFirebaseMalformedToken, err)
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return PersistedSession{}, errFirebaseMissingUserID
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}
	return PersistedSession{
		Identity: Identity{
			UID:           userID,
			DisplayName:   claims.Name,
			Email:         claims.Email,
			PhotoURL:      claims.Picture,
			EmailVerified: claims.EmailVerified,
			ProviderID:    claims.Firebase.SignInProvider,
		},
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// commit stores the session and notifies listeners. With a non-nil expected session the
// write is dropped when the installed session is no longer the one expected names.
func (provider *FirebaseProvider) commit(ctx context.Context, expected *PersistedSession, next PersistedSession) bool {
	committed := false
	provider.hub.publishIf(func() (*Identity, bool) {
		if !provider.holds(expected) {
			return nil, false
		}
		if provider.configuration.Store != nil {
			if err := provider.configuration.Store.Save(ctx, provider.configuration.Profile, next); err != nil {
				provider.logger.Warn("session persistence failed",
					zap.String("code", "firebase_provider.session.save"),
					zap.Error(err),
				)
			}
		}
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		stored := next
		provider.session = &stored
		committed = true
		return &stored.Identity, true
	})
	return committed
}

func (provider *FirebaseProvider) clearSession(ctx context.Context, expected *PersistedSession) {
	provider.hub.publishIf(func() (*Identity, bool) {
		if !provider.holds(expected) {
			return nil, false
		}
		if provider.configuration.Store != nil {
			if err := provider.configuration.Store.Clear(ctx, provider.configuration.Profile); err != nil {
				provider.logger.Warn("session removal failed",
					zap.String("code", "firebase_provider.session.clear"),
					zap.Error(err),
				)
			}
		}
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		provider.session = nil
		return nil, true
	})
}

// holds reports whether the installed session is still expected: same uid and refresh token.
// A nil expected session always holds.
func (provider *FirebaseProvider) holds(expected *PersistedSession) bool {
	if expected == nil {
		return true
	}
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	current := provider.session
	return current != nil && current.Identity.UID == expected.Identity.UID && current.RefreshToken == expected.RefreshToken
}
