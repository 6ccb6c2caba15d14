package identity

import (
	"context"
	"time"
)

// Identity represents the signed-in principal as reported by the identity provider.
type Identity struct {
	UID           string
	DisplayName   string
	Email         string
	PhotoURL      string
	EmailVerified bool
	ProviderID    string
	CreatedAt     time.Time
}

// Clone returns a copy so callers never share provider-owned state.
func (identity *Identity) Clone() *Identity {
	if identity == nil {
		return nil
	}
	clone := *identity
	return &clone
}

// Credential is a short-lived bearer token for the current Identity.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Authorization renders the credential as an Authorization header value.
func (credential Credential) Authorization() string {
	return "Bearer " + credential.Token
}

// IsExpired reports whether the credential is expired at the supplied instant.
func (credential Credential) IsExpired(now time.Time) bool {
	return credential.ExpiresAt.IsZero() || !now.Before(credential.ExpiresAt)
}

// ProfileUpdate carries mutable profile fields.
type ProfileUpdate struct {
	DisplayName string
	PhotoURL    string
}

// Listener receives the current identity, or nil when signed out.
// Listeners run on the publishing goroutine and must not block.
type Listener func(current *Identity)

// Provider is the external identity service bridged by the session manager.
type Provider interface {
	CreateAccount(ctx context.Context, email string, password string) (*Identity, error)
	SignInWithPassword(ctx context.Context, email string, password string) (*Identity, error)
	SignInWithFederated(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*Identity, error)
	// Credential returns the current bearer token; forceRefresh bypasses the cached token.
	Credential(ctx context.Context, forceRefresh bool) (Credential, error)
	// Subscribe delivers the current identity immediately and every later change in order.
	Subscribe(listener Listener) (unsubscribe func())
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}
