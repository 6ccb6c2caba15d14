package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGoogleTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := request.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if request.PostForm.Get("code") != "auth-code" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		if request.PostForm.Get("code_verifier") == "" {
			t.Errorf("expected PKCE verifier in token exchange")
		}
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"access_token": "google-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "google-id-token",
		})
	}))
}

func newTestLoopbackFlow(t *testing.T, tokenServer *httptest.Server, openURL func(string) error) *LoopbackFlow {
	t.Helper()
	flow, err := NewLoopbackFlow(LoopbackFlowConfig{
		ClientID: "client-id",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenServer.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		OpenURL: openURL,
	})
	if err != nil {
		t.Fatalf("new loopback flow: %v", err)
	}
	return flow
}

func redirectWithQuery(t *testing.T, authorizationURL string, extra url.Values) {
	t.Helper()
	parsed, err := url.Parse(authorizationURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	query := parsed.Query()
	if query.Get("code_challenge") == "" || query.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected PKCE challenge in %s", authorizationURL)
	}
	extra.Set("state", query.Get("state"))
	response, err := http.Get(query.Get("redirect_uri") + "?" + extra.Encode())
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	response.Body.Close()
}

func TestLoopbackFlowExchangesCode(t *testing.T) {
	tokenServer := newGoogleTokenServer(t)
	defer tokenServer.Close()

	flow := newTestLoopbackFlow(t, tokenServer, func(authorizationURL string) error {
		redirectWithQuery(t, authorizationURL, url.Values{"code": {"auth-code"}})
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := flow.Authorize(ctx)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if token != "google-id-token" {
		t.Fatalf("expected google-id-token, got %q", token)
	}
}

func TestLoopbackFlowDenied(t *testing.T) {
	tokenServer := newGoogleTokenServer(t)
	defer tokenServer.Close()

	flow := newTestLoopbackFlow(t, tokenServer, func(authorizationURL string) error {
		redirectWithQuery(t, authorizationURL, url.Values{"error": {"access_denied"}})
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := flow.Authorize(ctx)
	if !errors.Is(err, ErrFederatedDenied) {
		t.Fatalf("expected ErrFederatedDenied, got %v", err)
	}
	if authError := federatedAuthError(err); authError.Code != CodeCancelledPopup {
		t.Fatalf("expected cancelled-popup-request, got %s", authError.Code)
	}
}

func TestLoopbackFlowCancelledByContext(t *testing.T) {
	tokenServer := newGoogleTokenServer(t)
	defer tokenServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	flow := newTestLoopbackFlow(t, tokenServer, func(string) error {
		cancel()
		return nil
	})

	_, err := flow.Authorize(ctx)
	if !errors.Is(err, ErrFederatedCancelled) {
		t.Fatalf("expected ErrFederatedCancelled, got %v", err)
	}
	if authError := federatedAuthError(err); authError.Code != CodePopupClosedByUser {
		t.Fatalf("expected popup-closed-by-user, got %s", authError.Code)
	}
}

type rejectingValidator struct{}

func (rejectingValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return nil, errors.New("idtoken: invalid audience")
}

func TestLoopbackFlowValidatesGoogleToken(t *testing.T) {
	tokenServer := newGoogleTokenServer(t)
	defer tokenServer.Close()

	flow := newTestLoopbackFlow(t, tokenServer, func(authorizationURL string) error {
		redirectWithQuery(t, authorizationURL, url.Values{"code": {"auth-code"}})
		return nil
	})
	flow.configuration.Validator = rejectingValidator{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := flow.Authorize(ctx); err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestNewLoopbackFlowRequiresClientID(t *testing.T) {
	if _, err := NewLoopbackFlow(LoopbackFlowConfig{}); !errors.Is(err, errFederatedMissingClientID) {
		t.Fatalf("expected missing client id error, got %v", err)
	}
}

func TestStaticFlow(t *testing.T) {
	token, err := StaticFlow{IDToken: "google-token"}.Authorize(context.Background())
	if err != nil || token != "google-token" {
		t.Fatalf("expected google-token, got %q (%v)", token, err)
	}
	if _, err := (StaticFlow{}).Authorize(context.Background()); !errors.Is(err, errFederatedEmptyToken) {
		t.Fatalf("expected empty token error, got %v", err)
	}
}

func TestCallbackRouterPrintsNoDebugBanner(t *testing.T) {
	previousWriter := gin.DefaultWriter
	var printed bytes.Buffer
	gin.DefaultWriter = &printed
	gin.SetMode(gin.DebugMode)
	defer func() {
		gin.DefaultWriter = previousWriter
		gin.SetMode(gin.TestMode)
	}()

	tokenServer := newGoogleTokenServer(t)
	defer tokenServer.Close()
	flow := newTestLoopbackFlow(t, tokenServer, func(string) error { return nil })

	handler := flow.callbackRouter("state", make(chan callbackResult, 1))
	if handler == nil {
		t.Fatalf("expected callback handler")
	}
	if gin.Mode() != gin.ReleaseMode {
		t.Fatalf("expected release mode, got %s", gin.Mode())
	}
	if printed.Len() != 0 {
		t.Fatalf("expected no gin output, got %q", printed.String())
	}
}
