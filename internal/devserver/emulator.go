package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/internal/identity"
	"github.com/tyemirov/campuspilot/pkg/sessionvalidator"
)

const (
	// EmulatorPrefix hosts the sign-in emulator next to the backend routes.
	EmulatorPrefix = "/emulator"
	// EmulatorIdentityPath is the relyingparty base path below EmulatorPrefix.
	EmulatorIdentityPath = "/identitytoolkit/v3/relyingparty"

	defaultEmulatorTokenTTL = time.Hour
	passwordResetRequest    = "PASSWORD_RESET"
)

var (
	errEmulatorMissingDirectory  = errors.New("devserver.emulator.missing_directory")
	errEmulatorMissingSigningKey = errors.New("devserver.emulator.missing_signing_key")
)

// EmulatorConfig configures the sign-in emulator.
type EmulatorConfig struct {
	Directory  *identity.AccountDirectory
	SigningKey []byte
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
	Clock      identity.Clock
	Logger     *zap.Logger
}

// Emulator answers the Identity Toolkit and Secure Token calls the Firebase provider makes,
// so the CLI can sign in against the development backend without a Firebase project.
type Emulator struct {
	directory  *identity.AccountDirectory
	validator  *sessionvalidator.Validator
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
	clock      identity.Clock
	logger     *zap.Logger

	mutex         sync.Mutex
	refreshTokens map[string]string
}

// NewEmulator constructs an Emulator whose tokens pass a SessionTokenVerifier built from
// the same key, issuer and audience.
func NewEmulator(configuration EmulatorConfig) (*Emulator, error) {
	if configuration.Directory == nil {
		return nil, errEmulatorMissingDirectory
	}
	if len(configuration.SigningKey) == 0 {
		return nil, errEmulatorMissingSigningKey
	}
	if configuration.Clock == nil {
		configuration.Clock = identity.NewSystemClock()
	}
	if configuration.TokenTTL <= 0 {
		configuration.TokenTTL = defaultEmulatorTokenTTL
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		Audience:   configuration.Audience,
		Clock:      configuration.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("devserver.emulator.validator: %w", err)
	}
	return &Emulator{
		directory:     configuration.Directory,
		validator:     validator,
		signingKey:    configuration.SigningKey,
		issuer:        configuration.Issuer,
		audience:      strings.TrimSpace(configuration.Audience),
		tokenTTL:      configuration.TokenTTL,
		clock:         configuration.Clock,
		logger:        logger,
		refreshTokens: make(map[string]string),
	}, nil
}

type emulatorCredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emulatorResetRequest struct {
	Email       string `json:"email"`
	RequestType string `json:"requestType"`
}

type emulatorAccountInfoRequest struct {
	IDToken     string `json:"idToken"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

type emulatorSession struct {
	idToken      string
	refreshToken string
	expiresIn    int64
}

func (emulator *Emulator) register(group *gin.RouterGroup) {
	group.Use(emulator.requireAPIKey)
	group.POST(EmulatorIdentityPath+"/:method", emulator.relyingParty)
	group.POST("/v1/token", emulator.refresh)
}

func (emulator *Emulator) requireAPIKey(contextGin *gin.Context) {
	if strings.TrimSpace(contextGin.Query("key")) == "" {
		emulator.fail(contextGin, http.StatusBadRequest, "API_KEY_INVALID")
		contextGin.Abort()
		return
	}
	contextGin.Next()
}

func (emulator *Emulator) relyingParty(contextGin *gin.Context) {
	switch contextGin.Param("method") {
	case "signupNewUser":
		emulator.signUp(contextGin)
	case "verifyPassword":
		emulator.verifyPassword(contextGin)
	case "getOobConfirmationCode":
		emulator.sendOobCode(contextGin)
	case "setAccountInfo":
		emulator.setAccountInfo(contextGin)
	case "verifyAssertion":
		emulator.fail(contextGin, http.StatusBadRequest, "OPERATION_NOT_ALLOWED")
	default:
		emulator.fail(contextGin, http.StatusNotFound, "NOT_FOUND")
	}
}

func (emulator *Emulator) signUp(contextGin *gin.Context) {
	var request emulatorCredentialsRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	created, err := emulator.directory.Create(request.Email, request.Password)
	if err != nil {
		emulator.failAuth(contextGin, err)
		return
	}
	session, ok := emulator.issue(contextGin, created, true)
	if !ok {
		return
	}
	emulator.logger.Info("emulator account created",
		zap.String("code", "devserver.emulator.account_created"),
		zap.String("uid", created.UID),
	)
	contextGin.JSON(http.StatusOK, gin.H{
		"kind":         "identitytoolkit#SignupNewUserResponse",
		"localId":      created.UID,
		"email":        created.Email,
		"idToken":      session.idToken,
		"refreshToken": session.refreshToken,
		"expiresIn":    fmt.Sprint(session.expiresIn),
	})
}

func (emulator *Emulator) verifyPassword(contextGin *gin.Context) {
	var request emulatorCredentialsRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	account, err := emulator.directory.Authenticate(request.Email, request.Password)
	if err != nil {
		emulator.failAuth(contextGin, err)
		return
	}
	session, ok := emulator.issue(contextGin, account, true)
	if !ok {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"kind":         "identitytoolkit#VerifyPasswordResponse",
		"localId":      account.UID,
		"email":        account.Email,
		"displayName":  account.DisplayName,
		"registered":   true,
		"idToken":      session.idToken,
		"refreshToken": session.refreshToken,
		"expiresIn":    fmt.Sprint(session.expiresIn),
	})
}

func (emulator *Emulator) sendOobCode(contextGin *gin.Context) {
	var request emulatorResetRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if request.RequestType != passwordResetRequest {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_REQ_TYPE")
		return
	}
	if err := emulator.directory.RequestPasswordReset(request.Email); err != nil {
		emulator.failAuth(contextGin, err)
		return
	}
	emulator.logger.Info("emulator password reset requested",
		zap.String("code", "devserver.emulator.password_reset"),
		zap.String("email", strings.ToLower(strings.TrimSpace(request.Email))),
	)
	contextGin.JSON(http.StatusOK, gin.H{
		"kind":  "identitytoolkit#GetOobConfirmationCodeResponse",
		"email": request.Email,
	})
}

func (emulator *Emulator) setAccountInfo(contextGin *gin.Context) {
	var request emulatorAccountInfoRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	claims, err := emulator.validator.ValidateToken(request.IDToken)
	if err != nil {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_ID_TOKEN")
		return
	}
	updated, err := emulator.directory.UpdateProfile(claims.GetUserID(), identity.ProfileUpdate{
		DisplayName: request.DisplayName,
		PhotoURL:    request.PhotoURL,
	})
	if err != nil {
		emulator.failAuth(contextGin, err)
		return
	}
	session, ok := emulator.issue(contextGin, updated, true)
	if !ok {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"kind":         "identitytoolkit#SetAccountInfoResponse",
		"localId":      updated.UID,
		"email":        updated.Email,
		"displayName":  updated.DisplayName,
		"photoUrl":     updated.PhotoURL,
		"idToken":      session.idToken,
		"refreshToken": session.refreshToken,
		"expiresIn":    fmt.Sprint(session.expiresIn),
	})
}

func (emulator *Emulator) refresh(contextGin *gin.Context) {
	if contextGin.PostForm("grant_type") != "refresh_token" {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}
	refreshToken := contextGin.PostForm("refresh_token")
	emulator.mutex.Lock()
	uid, known := emulator.refreshTokens[refreshToken]
	emulator.mutex.Unlock()
	if !known {
		emulator.fail(contextGin, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}
	account, err := emulator.directory.Lookup(uid)
	if err != nil {
		emulator.revoke(refreshToken)
		message := "USER_NOT_FOUND"
		if identity.IsAuthErrorCode(err, identity.CodeUserDisabled) {
			message = "USER_DISABLED"
		}
		emulator.fail(contextGin, http.StatusBadRequest, message)
		return
	}
	session, ok := emulator.issue(contextGin, account, false)
	if !ok {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"access_token":  session.idToken,
		"id_token":      session.idToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    session.expiresIn,
		"user_id":       account.UID,
	})
}

// issue mints an ID token for the account and, when withRefresh is set, a new refresh token.
func (emulator *Emulator) issue(contextGin *gin.Context, account identity.Identity, withRefresh bool) (emulatorSession, bool) {
	idToken, _, err := sessionvalidator.MintIDToken(emulator.clock, sessionvalidator.MintInput{
		UserID:        account.UID,
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
		Name:          account.DisplayName,
		Picture:       account.PhotoURL,
		Issuer:        emulator.issuer,
		Audience:      emulator.audience,
		TTL:           emulator.tokenTTL,
	}, emulator.signingKey)
	if err != nil {
		emulator.logger.Error("emulator token mint failed",
			zap.String("code", "devserver.emulator.mint_failed"),
			zap.Error(err),
		)
		emulator.fail(contextGin, http.StatusInternalServerError, "INTERNAL_ERROR")
		return emulatorSession{}, false
	}
	session := emulatorSession{idToken: idToken, expiresIn: int64(emulator.tokenTTL / time.Second)}
	if withRefresh {
		session.refreshToken = uuid.NewString()
		emulator.mutex.Lock()
		emulator.refreshTokens[session.refreshToken] = account.UID
		emulator.mutex.Unlock()
	}
	return session, true
}

func (emulator *Emulator) revoke(refreshToken string) {
	emulator.mutex.Lock()
	defer emulator.mutex.Unlock()
	delete(emulator.refreshTokens, refreshToken)
}

func (emulator *Emulator) failAuth(contextGin *gin.Context, err error) {
	emulator.fail(contextGin, http.StatusBadRequest, identity.ProviderMessage(identity.AsAuthError(err)))
}

func (emulator *Emulator) fail(contextGin *gin.Context, status int, message string) {
	contextGin.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"errors":  []gin.H{{"message": message, "domain": "global", "reason": "invalid"}},
		},
	})
}
