package sessionvalidator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errEmptySubject = errors.New("subject must be non-empty")

// MintInput describes the identity embedded in a minted ID token.
type MintInput struct {
	UserID        string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Issuer        string
	Audience      string
	TTL           time.Duration
}

// MintIDToken creates a signed HS256 ID token.
func MintIDToken(clock Clock, input MintInput, signingKey []byte) (string, time.Time, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	if clock == nil {
		clock = systemClock{}
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(input.TTL)
	registered := jwt.RegisteredClaims{
		Issuer:    input.Issuer,
		Subject:   input.UserID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if input.Audience != "" {
		registered.Audience = jwt.ClaimStrings{input.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           input.UserID,
		Email:            input.Email,
		EmailVerified:    input.EmailVerified,
		Name:             input.Name,
		Picture:          input.Picture,
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.sign: %w", err)
	}
	return signed, expiresAt, nil
}
