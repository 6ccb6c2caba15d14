package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

const (
	defaultMemoryTokenTTL = time.Hour
	defaultMemoryIssuer   = "campuspilot-memory"
)

var errMemoryProviderMissingSigningKey = errors.New("memory_provider.missing_signing_key")

// Operation names a provider call that can be scripted to fail.
type Operation string

// Scriptable provider operations.
const (
	OperationCreateAccount Operation = "create_account"
	OperationSignIn        Operation = "sign_in"
	OperationFederated     Operation = "federated"
	OperationSignOut       Operation = "sign_out"
	OperationPasswordReset Operation = "password_reset"
	OperationUpdateProfile Operation = "update_profile"
	OperationCredential    Operation = "credential"
)

// TokenMinter issues a bearer token for the identity.
type TokenMinter func(identity Identity, now time.Time) (string, time.Time, error)

// MemoryProviderConfig configures the in-process identity emulator.
type MemoryProviderConfig struct {
	SigningKey   []byte
	Issuer       string
	Audience     string
	TokenTTL     time.Duration
	Clock        Clock
	BcryptCost   int
	UIDGenerator func() string
	// TokenMinter replaces HS256 minting when set.
	TokenMinter TokenMinter
	// FederatedFlow obtains a Google ID token; FederatedProfiles maps that token to a profile.
	FederatedFlow     FederatedFlow
	FederatedProfiles map[string]Identity
	// Directory holds the accounts; a private one is built from Clock, BcryptCost and
	// UIDGenerator when nil.
	Directory *AccountDirectory
}

// MemoryProvider signs one user in at a time against an AccountDirectory in process.
type MemoryProvider struct {
	configuration MemoryProviderConfig
	directory     *AccountDirectory
	hub           *broadcaster

	mutex      sync.Mutex
	current    *Identity
	credential Credential
	failures   map[Operation][]error
}

// NewMemoryProvider constructs a MemoryProvider with no accounts and no signed-in user.
func NewMemoryProvider(configuration MemoryProviderConfig) (*MemoryProvider, error) {
	if configuration.TokenMinter == nil && len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("memory_provider.new: %w", errMemoryProviderMissingSigningKey)
	}
	if configuration.Clock == nil {
		configuration.Clock = NewSystemClock()
	}
	if configuration.TokenTTL <= 0 {
		configuration.TokenTTL = defaultMemoryTokenTTL
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = defaultMemoryIssuer
	}
	if configuration.TokenMinter == nil {
		signingKey := configuration.SigningKey
		clock := configuration.Clock
		configuration.TokenMinter = func(identity Identity, now time.Time) (string, time.Time, error) {
			return sessionvalidator.MintIDToken(clock, sessionvalidator.MintInput{
				UserID:        identity.UID,
				Email:         identity.Email,
				EmailVerified: identity.EmailVerified,
				Name:          identity.DisplayName,
				Picture:       identity.PhotoURL,
				Issuer:        configuration.Issuer,
				Audience:      configuration.Audience,
				TTL:           configuration.TokenTTL,
			}, signingKey)
		}
	}
	directory := configuration.Directory
	if directory == nil {
		directory = NewAccountDirectory(AccountDirectoryConfig{
			Clock:        configuration.Clock,
			BcryptCost:   configuration.BcryptCost,
			UIDGenerator: configuration.UIDGenerator,
		})
	}
	return &MemoryProvider{
		configuration: configuration,
		directory:     directory,
		hub:           newBroadcaster(),
		failures:      make(map[Operation][]error),
	}, nil
}

// FailNext makes the next call of the operation return err.
func (provider *MemoryProvider) FailNext(operation Operation, err error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.failures[operation] = append(provider.failures[operation], err)
}

// DisableAccount marks an existing account as disabled.
func (provider *MemoryProvider) DisableAccount(email string) bool {
	return provider.directory.Disable(email)
}

// PasswordResetRequests lists the addresses that were sent a reset message, in order.
func (provider *MemoryProvider) PasswordResetRequests() []string {
	return provider.directory.PasswordResetRequests()
}

// CreateAccount registers an email/password account and signs it in.
func (provider *MemoryProvider) CreateAccount(ctx context.Context, email string, password string) (*Identity, error) {
	if err := provider.takeFailure(OperationCreateAccount); err != nil {
		return nil, err
	}
	created, err := provider.directory.Create(email, password)
	if err != nil {
		return nil, err
	}
	return provider.signIn(created)
}

// SignInWithPassword signs in an existing email/password account.
func (provider *MemoryProvider) SignInWithPassword(ctx context.Context, email string, password string) (*Identity, error) {
	if err := provider.takeFailure(OperationSignIn); err != nil {
		return nil, err
	}
	existing, err := provider.directory.Authenticate(email, password)
	if err != nil {
		return nil, err
	}
	return provider.signIn(existing)
}

// SignInWithFederated completes the configured federated flow and signs in the mapped profile.
func (provider *MemoryProvider) SignInWithFederated(ctx context.Context) (*Identity, error) {
	if err := provider.takeFailure(OperationFederated); err != nil {
		return nil, err
	}
	if provider.configuration.FederatedFlow == nil {
		return nil, NewAuthError(CodeOperationNotAllowed, "Federated sign-in is not enabled.", nil)
	}
	googleToken, flowErr := provider.configuration.FederatedFlow.Authorize(ctx)
	if flowErr != nil {
		return nil, federatedAuthError(flowErr)
	}
	profile, ok := provider.configuration.FederatedProfiles[googleToken]
	if !ok {
		return nil, NewAuthError(CodeInvalidCredential, "The supplied auth credential is malformed or has expired.", nil)
	}

	signedIn, err := provider.directory.Federated(profile)
	if err != nil {
		return nil, err
	}
	return provider.signIn(signedIn)
}

// SignOut ends the current session.
func (provider *MemoryProvider) SignOut(ctx context.Context) error {
	if err := provider.takeFailure(OperationSignOut); err != nil {
		return err
	}
	provider.hub.publish(func() *Identity {
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		provider.current = nil
		provider.credential = Credential{}
		return nil
	})
	return nil
}

// SendPasswordReset records a reset request for a registered address.
func (provider *MemoryProvider) SendPasswordReset(ctx context.Context, email string) error {
	if err := provider.takeFailure(OperationPasswordReset); err != nil {
		return err
	}
	return provider.directory.RequestPasswordReset(email)
}

// UpdateProfile changes the signed-in user's display name and photo.
func (provider *MemoryProvider) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Identity, error) {
	if err := provider.takeFailure(OperationUpdateProfile); err != nil {
		return nil, err
	}
	provider.mutex.Lock()
	signedIn := provider.current != nil
	provider.mutex.Unlock()
	if !signedIn {
		return nil, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	var updated *Identity
	provider.hub.publish(func() *Identity {
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		if provider.current == nil {
			return nil
		}
		provider.current.DisplayName = update.DisplayName
		provider.current.PhotoURL = update.PhotoURL
		_, _ = provider.directory.UpdateProfile(provider.current.UID, update)
		updated = provider.current.Clone()
		return provider.current
	})
	if updated == nil {
		return nil, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	return updated, nil
}

// Credential returns the cached token, minting and publishing a new one when forced or expired.
func (provider *MemoryProvider) Credential(ctx context.Context, forceRefresh bool) (Credential, error) {
	if err := provider.takeFailure(OperationCredential); err != nil {
		return Credential{}, err
	}
	provider.mutex.Lock()
	if provider.current == nil {
		provider.mutex.Unlock()
		return Credential{}, NewAuthError(CodeNoCurrentUser, "No user is currently signed in.", nil)
	}
	cached := provider.credential
	current := *provider.current
	provider.mutex.Unlock()

	now := provider.configuration.Clock.Now()
	if !forceRefresh && !cached.IsExpired(now) {
		return cached, nil
	}
	token, expiresAt, err := provider.configuration.TokenMinter(current, now)
	if err != nil {
		return Credential{}, NewAuthError(CodeInternalError, "Unable to mint a token.", err)
	}
	refreshed := Credential{Token: token, ExpiresAt: expiresAt}
	provider.hub.publish(func() *Identity {
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		if provider.current != nil && provider.current.UID == current.UID {
			provider.credential = refreshed
		}
		return provider.current
	})
	return refreshed, nil
}

// Subscribe delivers the current identity and every later change.
func (provider *MemoryProvider) Subscribe(listener Listener) func() {
	return provider.hub.subscribe(listener, provider.currentIdentity)
}

func (provider *MemoryProvider) currentIdentity() *Identity {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return provider.current.Clone()
}

func (provider *MemoryProvider) signIn(signedIn Identity) (*Identity, error) {
	token, expiresAt, err := provider.configuration.TokenMinter(signedIn, provider.configuration.Clock.Now())
	if err != nil {
		return nil, NewAuthError(CodeInternalError, "Unable to mint a token.", err)
	}
	provider.hub.publish(func() *Identity {
		provider.mutex.Lock()
		defer provider.mutex.Unlock()
		current := signedIn
		provider.current = &current
		provider.credential = Credential{Token: token, ExpiresAt: expiresAt}
		return provider.current
	})
	return signedIn.Clone(), nil
}

func (provider *MemoryProvider) takeFailure(operation Operation) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	queued := provider.failures[operation]
	if len(queued) == 0 {
		return nil
	}
	provider.failures[operation] = queued[1:]
	return queued[0]
}
