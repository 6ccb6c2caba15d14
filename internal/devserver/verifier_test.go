package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"

	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

type fixedClock struct {
	now time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.now
}

type stubFirebaseClient struct {
	token *auth.Token
	err   error
}

func (client stubFirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	return client.token, client.err
}

func TestSessionTokenVerifier(t *testing.T) {
	signingKey := []byte("devserver-signing-key")
	clock := fixedClock{now: time.Now().UTC()}
	validator, err := sessionvalidator.New(sessionvalidator.Config{SigningKey: signingKey, Issuer: "campuspilot-test", Audience: "campuspilot"})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	verifier := NewSessionTokenVerifier(validator)

	token, _, err := sessionvalidator.MintIDToken(clock, sessionvalidator.MintInput{
		UserID:   "u1",
		Email:    "a@b.com",
		Name:     "Ada",
		Issuer:   "campuspilot-test",
		Audience: "campuspilot",
		TTL:      time.Hour,
	}, signingKey)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	principal, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal != (Principal{UID: "u1", Email: "a@b.com", Name: "Ada"}) {
		t.Fatalf("unexpected principal %+v", principal)
	}

	forged, _, _ := sessionvalidator.MintIDToken(clock, sessionvalidator.MintInput{
		UserID:   "u1",
		Issuer:   "campuspilot-test",
		Audience: "campuspilot",
		TTL:      time.Hour,
	}, []byte("another-key"))
	if _, err := verifier.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestFirebaseTokenVerifier(t *testing.T) {
	verifier := &FirebaseTokenVerifier{client: stubFirebaseClient{token: &auth.Token{
		UID:    "fb-1",
		Claims: map[string]interface{}{"email": "a@b.com", "name": "Ada"},
	}}}
	principal, err := verifier.Verify(context.Background(), "token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.UID != "fb-1" || principal.Email != "a@b.com" || principal.Name != "Ada" {
		t.Fatalf("unexpected principal %+v", principal)
	}

	failing := &FirebaseTokenVerifier{client: stubFirebaseClient{err: errors.New("expired")}}
	if _, err := failing.Verify(context.Background(), "token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestNewFirebaseTokenVerifierRequiresProject(t *testing.T) {
	if _, err := NewFirebaseTokenVerifier(context.Background(), " "); !errors.Is(err, errMissingProjectID) {
		t.Fatalf("expected missing project error, got %v", err)
	}
}
