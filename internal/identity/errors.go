package identity

import (
	"errors"
	"fmt"
)

// Error codes carried by AuthError.
const (
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeWeakPassword         = "auth/weak-password"
	CodeInvalidEmail         = "auth/invalid-email"
	CodeMissingEmail         = "auth/missing-email"
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeUserDisabled         = "auth/user-disabled"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeOperationNotAllowed  = "auth/operation-not-allowed"
	CodePopupClosedByUser    = "auth/popup-closed-by-user"
	CodeCancelledPopup       = "auth/cancelled-popup-request"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeUserTokenExpired     = "auth/user-token-expired"
	CodeInvalidUserToken     = "auth/invalid-user-token"
	CodeNoCurrentUser        = "auth/no-current-user"
	CodeInternalError        = "auth/internal-error"
)

// AuthError reports a failure from the identity provider during an identity operation.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (authError *AuthError) Error() string {
	if authError.Code == "" {
		return authError.Message
	}
	return fmt.Sprintf("%s: %s", authError.Code, authError.Message)
}

func (authError *AuthError) Unwrap() error {
	return authError.Err
}

// NewAuthError builds an AuthError.
func NewAuthError(code string, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: cause}
}

// AsAuthError returns err as an AuthError, wrapping foreign errors as internal failures.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authError *AuthError
	if errors.As(err, &authError) {
		return authError
	}
	return &AuthError{Code: CodeInternalError, Message: err.Error(), Err: err}
}

// IsAuthErrorCode reports whether err is an AuthError with the supplied code.
func IsAuthErrorCode(err error, code string) bool {
	var authError *AuthError
	return errors.As(err, &authError) && authError.Code == code
}
