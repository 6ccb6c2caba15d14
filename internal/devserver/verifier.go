package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

var (
	// ErrInvalidToken indicates a bearer token that failed verification.
	ErrInvalidToken = errors.New("devserver.invalid_token")

	errMissingProjectID = errors.New("devserver.firebase.missing_project_id")
)

// Principal is the verified caller of a protected route.
type Principal struct {
	UID   string
	Email string
	Name  string
}

// TokenVerifier turns a bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// SessionTokenVerifier verifies HS256 ID tokens minted by the in-memory provider.
type SessionTokenVerifier struct {
	validator *sessionvalidator.Validator
}

// NewSessionTokenVerifier wraps a session validator.
func NewSessionTokenVerifier(validator *sessionvalidator.Validator) *SessionTokenVerifier {
	return &SessionTokenVerifier{validator: validator}
}

// Verify validates the token signature, issuer and audience.
func (verifier *SessionTokenVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	claims, err := verifier.validator.ValidateToken(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return Principal{UID: claims.GetUserID(), Email: claims.GetEmail(), Name: claims.GetName()}, nil
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseTokenVerifier verifies Firebase ID tokens with the Admin SDK.
type FirebaseTokenVerifier struct {
	client idTokenVerifier
}

// NewFirebaseTokenVerifier initialises a Firebase app for the project and returns its token verifier.
func NewFirebaseTokenVerifier(ctx context.Context, projectID string, options ...option.ClientOption) (*FirebaseTokenVerifier, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errMissingProjectID
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, options...)
	if err != nil {
		return nil, fmt.Errorf("devserver.firebase.app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("devserver.firebase.auth: %w", err)
	}
	return &FirebaseTokenVerifier{client: client}, nil
}

// Verify checks the token against Firebase public keys.
func (verifier *FirebaseTokenVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	verified, err := verifier.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	email, _ := verified.Claims["email"].(string)
	name, _ := verified.Claims["name"].(string)
	return Principal{UID: verified.UID, Email: email, Name: name}, nil
}
