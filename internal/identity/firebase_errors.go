package identity

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

type providerErrorMapping struct {
	code    string
	message string
}

var providerErrorMappings = map[string]providerErrorMapping{
	"EMAIL_EXISTS":                   {CodeEmailAlreadyInUse, "The email address is already in use by another account."},
	"WEAK_PASSWORD":                  {CodeWeakPassword, "Password should be at least 6 characters."},
	"INVALID_EMAIL":                  {CodeInvalidEmail, "The email address is badly formatted."},
	"MISSING_EMAIL":                  {CodeMissingEmail, "An email address must be provided."},
	"EMAIL_NOT_FOUND":                {CodeUserNotFound, "There is no user record corresponding to this identifier."},
	"USER_NOT_FOUND":                 {CodeUserNotFound, "There is no user record corresponding to this identifier."},
	"INVALID_PASSWORD":               {CodeWrongPassword, "The password is invalid or the user does not have a password."},
	"INVALID_LOGIN_CREDENTIALS":      {CodeInvalidCredential, "The supplied auth credential is incorrect, malformed or has expired."},
	"INVALID_IDP_RESPONSE":           {CodeInvalidCredential, "The supplied auth credential is incorrect, malformed or has expired."},
	"USER_DISABLED":                  {CodeUserDisabled, "The user account has been disabled by an administrator."},
	"TOO_MANY_ATTEMPTS_TRY_LATER":    {CodeTooManyRequests, "Access has been temporarily disabled due to many failed attempts."},
	"OPERATION_NOT_ALLOWED":          {CodeOperationNotAllowed, "This sign-in method is not enabled for the project."},
	"TOKEN_EXPIRED":                  {CodeUserTokenExpired, "The user's credential is no longer valid. The user must sign in again."},
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": {CodeUserTokenExpired, "The user's credential is no longer valid. The user must sign in again."},
	"INVALID_REFRESH_TOKEN":          {CodeInvalidUserToken, "The user's credential is no longer valid. The user must sign in again."},
	"INVALID_ID_TOKEN":               {CodeInvalidUserToken, "The user's credential is no longer valid. The user must sign in again."},
}

var providerMessagesByCode = map[string]string{
	CodeEmailAlreadyInUse:   "EMAIL_EXISTS",
	CodeInvalidEmail:        "INVALID_EMAIL",
	CodeMissingEmail:        "MISSING_EMAIL",
	CodeUserNotFound:        "EMAIL_NOT_FOUND",
	CodeWrongPassword:       "INVALID_PASSWORD",
	CodeInvalidCredential:   "INVALID_LOGIN_CREDENTIALS",
	CodeUserDisabled:        "USER_DISABLED",
	CodeTooManyRequests:     "TOO_MANY_ATTEMPTS_TRY_LATER",
	CodeOperationNotAllowed: "OPERATION_NOT_ALLOWED",
	CodeUserTokenExpired:    "TOKEN_EXPIRED",
	CodeInvalidUserToken:    "INVALID_ID_TOKEN",
}

// ProviderMessage renders an AuthError as the Identity Toolkit error message that maps back onto it.
func ProviderMessage(authError *AuthError) string {
	if authError == nil {
		return "INTERNAL_ERROR"
	}
	if authError.Code == CodeWeakPassword {
		return "WEAK_PASSWORD : " + strings.TrimSuffix(authError.Message, ".")
	}
	if message, ok := providerMessagesByCode[authError.Code]; ok {
		return message
	}
	return "INTERNAL_ERROR"
}

// fatalRefreshCodes end the local session when returned by the token endpoint.
var fatalRefreshCodes = map[string]struct{}{
	"TOKEN_EXPIRED":         {},
	"USER_DISABLED":         {},
	"USER_NOT_FOUND":        {},
	"INVALID_REFRESH_TOKEN": {},
}

// splitProviderMessage separates "CODE : detail" provider messages.
func splitProviderMessage(raw string) (string, string) {
	code, detail, found := strings.Cut(strings.TrimSpace(raw), " : ")
	if !found {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(code), strings.TrimSpace(detail)
}

func authErrorFromProviderCode(raw string, cause error) *AuthError {
	code, detail := splitProviderMessage(raw)
	mapping, ok := providerErrorMappings[code]
	if !ok {
		message := raw
		if message == "" {
			message = "An internal error has occurred."
		}
		return NewAuthError(CodeInternalError, message, cause)
	}
	message := mapping.message
	if detail != "" && mapping.code == CodeWeakPassword {
		message = detail
	}
	return NewAuthError(mapping.code, message, cause)
}

// authErrorFromProvider maps Identity Toolkit and transport failures onto AuthError.
func authErrorFromProvider(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authError *AuthError
	if errors.As(err, &authError) {
		return authError
	}
	var apiError *googleapi.Error
	if errors.As(err, &apiError) {
		return authErrorFromProviderCode(apiError.Message, err)
	}
	if code := refreshErrorCode(err); code != "" {
		return authErrorFromProviderCode(code, err)
	}
	if isNetworkError(err) {
		return NewAuthError(CodeNetworkRequestFailed, "A network error has occurred.", err)
	}
	return NewAuthError(CodeInternalError, err.Error(), err)
}

type secureTokenErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// refreshErrorCode extracts the provider code from a token endpoint failure.
func refreshErrorCode(err error) string {
	var retrieveError *oauth2.RetrieveError
	if !errors.As(err, &retrieveError) {
		return ""
	}
	var body secureTokenErrorBody
	if jsonErr := json.Unmarshal(retrieveError.Body, &body); jsonErr == nil && body.Error.Message != "" {
		code, _ := splitProviderMessage(body.Error.Message)
		return code
	}
	if retrieveError.ErrorCode != "" {
		return strings.ToUpper(retrieveError.ErrorCode)
	}
	return ""
}
