package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/campuspilot/internal/backend"
)

type tokenTable map[string]Principal

func (table tokenTable) Verify(ctx context.Context, token string) (Principal, error) {
	principal, found := table[token]
	if !found {
		return Principal{}, ErrInvalidToken
	}
	return principal, nil
}

var testTokens = tokenTable{
	"tok1": {UID: "u1", Email: "a@b.com"},
	"tok2": {UID: "u2", Email: "c@d.com"},
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, logger *zap.Logger) (*gin.Engine, *Store) {
	t.Helper()
	store := newTestStore(t)
	router, err := NewRouter(Config{Store: store, Verifier: testTokens, Logger: logger})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router, store
}

func performRequest(router http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func TestNewRouterValidatesConfig(t *testing.T) {
	if _, err := NewRouter(Config{Verifier: testTokens}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store, got %v", err)
	}
	if _, err := NewRouter(Config{Store: &Store{}}); !errors.Is(err, errMissingVerifier) {
		t.Fatalf("expected missing verifier, got %v", err)
	}
	if _, err := NewRouter(Config{Store: &Store{}, Verifier: testTokens, EnableCORS: true}); !errors.Is(err, errEmptyAllowedOrigins) {
		t.Fatalf("expected cors origin error, got %v", err)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	router, _ := newTestRouter(t, zap.New(core))

	testCases := []struct {
		name   string
		token  string
		status int
	}{
		{name: "missing", token: "", status: http.StatusUnauthorized},
		{name: "unknown", token: "forged", status: http.StatusUnauthorized},
		{name: "valid", token: "tok1", status: http.StatusOK},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := performRequest(router, http.MethodGet, "/api/transactions/u1", testCase.token, nil)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
		})
	}
	if len(logs.FilterField(zap.String("code", "devserver.auth.invalid_token")).All()) != 1 {
		t.Fatalf("expected one invalid token log")
	}
}

func TestUIDMismatchIsForbidden(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	requests := []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodGet, path: "/api/transactions/u2"},
		{method: http.MethodGet, path: "/api/classes?uid=u2"},
		{method: http.MethodGet, path: "/api/tasks?uid=u2"},
		{method: http.MethodGet, path: "/api/scores/u2"},
		{method: http.MethodPost, path: "/api/users", body: backend.UserRecord{UID: "u2"}},
		{method: http.MethodPost, path: "/api/transactions", body: backend.Transaction{UID: "u2", Type: "income", Amount: 1}},
		{method: http.MethodPost, path: "/api/scores", body: backend.Score{UID: "u2", Score: 1, Total: 5}},
	}
	for _, request := range requests {
		recorder := performRequest(router, request.method, request.path, "tok1", request.body)
		if recorder.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", request.method, request.path, recorder.Code)
		}
		var payload map[string]string
		decodeBody(t, recorder, &payload)
		if payload["error"] != "uid mismatch" {
			t.Fatalf("unexpected error payload %+v", payload)
		}
	}
	recorder := performRequest(router, http.MethodGet, "/api/classes", "tok1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without uid, got %d", recorder.Code)
	}
}

func TestTransactionRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	invalid := performRequest(router, http.MethodPost, "/api/transactions", "tok1", backend.Transaction{UID: "u1", Type: "gift", Amount: 3})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", invalid.Code)
	}

	created := performRequest(router, http.MethodPost, "/api/transactions", "tok1", backend.Transaction{UID: "u1", Type: "expense", Category: "Food", Amount: 12.5, Date: "2025-03-01"})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var envelope struct {
		Success     bool                `json:"success"`
		Transaction backend.Transaction `json:"transaction"`
	}
	decodeBody(t, created, &envelope)
	if !envelope.Success || envelope.Transaction.ID == "" || envelope.Transaction.Category != "Food" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}

	listed := performRequest(router, http.MethodGet, "/api/transactions/u1", "tok1", nil)
	var transactions []backend.Transaction
	decodeBody(t, listed, &transactions)
	if len(transactions) != 1 || transactions[0].ID != envelope.Transaction.ID {
		t.Fatalf("unexpected list %+v", transactions)
	}
}

func TestTaskRoutesScopeIDsToCaller(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	created := performRequest(router, http.MethodPost, "/api/tasks", "tok1", backend.Task{UID: "u1", Subject: "Math", Day: "Mon"})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.Code)
	}
	var task backend.Task
	decodeBody(t, created, &task)
	if task.Status != backend.TaskPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}

	foreign := performRequest(router, http.MethodPut, "/api/tasks/"+task.ID, "tok2", map[string]string{"status": backend.TaskCompleted})
	if foreign.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's task, got %d", foreign.Code)
	}
	badStatus := performRequest(router, http.MethodPut, "/api/tasks/"+task.ID, "tok1", map[string]string{"status": "Done"})
	if badStatus.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", badStatus.Code)
	}
	updated := performRequest(router, http.MethodPut, "/api/tasks/"+task.ID, "tok1", map[string]string{"status": backend.TaskCompleted})
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", updated.Code)
	}
	deleted := performRequest(router, http.MethodDelete, "/api/tasks/"+task.ID, "tok1", nil)
	if deleted.Code != http.StatusOK {
		t.Fatalf("expected 200 delete, got %d", deleted.Code)
	}
	missing := performRequest(router, http.MethodDelete, "/api/tasks/"+task.ID, "tok1", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", missing.Code)
	}
}

func TestScoreAndUserRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	mirrored := performRequest(router, http.MethodPost, "/api/users", "tok1", backend.UserRecord{UID: "u1", Email: "a@b.com", CreatedAt: "2025-03-01T09:30:00Z"})
	if mirrored.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", mirrored.Code)
	}
	fetched := performRequest(router, http.MethodGet, "/api/users/u1", "tok1", nil)
	var record backend.UserRecord
	decodeBody(t, fetched, &record)
	if record.Email != "a@b.com" || record.CreatedAt != "2025-03-01T09:30:00Z" {
		t.Fatalf("unexpected record %+v", record)
	}

	invalid := performRequest(router, http.MethodPost, "/api/scores", "tok1", backend.Score{UID: "u1", Score: 6, Total: 5})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for score above total, got %d", invalid.Code)
	}
	saved := performRequest(router, http.MethodPost, "/api/scores", "tok1", backend.Score{UID: "u1", Subject: "math", Difficulty: "easy", Score: 4, Total: 5})
	if saved.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", saved.Code)
	}
	listed := performRequest(router, http.MethodGet, "/api/scores/u1", "tok1", nil)
	var envelope struct {
		Scores []backend.Score `json:"scores"`
	}
	decodeBody(t, listed, &envelope)
	if len(envelope.Scores) != 1 || envelope.Scores[0].Score != 4 {
		t.Fatalf("unexpected scores %+v", envelope.Scores)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	health := performRequest(router, http.MethodGet, "/healthz", "", nil)
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"driver":"sqlite"`) {
		t.Fatalf("unexpected health response %d %s", health.Code, health.Body.String())
	}
	performRequest(router, http.MethodGet, "/api/scores/u1", "", nil)

	metrics := performRequest(router, http.MethodGet, "/metrics", "", nil)
	body := metrics.Body.String()
	if !strings.Contains(body, `campuspilot_devserver_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected health request counted, got:\n%s", body)
	}
	if !strings.Contains(body, `campuspilot_devserver_auth_failures_total{reason="missing_token"} 1`) {
		t.Fatalf("expected auth failure counted, got:\n%s", body)
	}
}

func TestConfigureCORS(t *testing.T) {
	testCases := []struct {
		name        string
		origins     []string
		expectedErr error
	}{
		{name: "wildcard", origins: []string{"*"}, expectedErr: errWildcardOrigin},
		{name: "empty", origins: []string{" "}, expectedErr: errEmptyAllowedOrigins},
		{name: "path", origins: []string{"https://app.example.com/login"}, expectedErr: errInvalidOrigin},
		{name: "scheme", origins: []string{"ftp://app.example.com"}, expectedErr: errInvalidOrigin},
		{name: "valid", origins: []string{"http://localhost:5173", "https://app.example.com"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ConfigureCORS(nil, testCase.origins)
			if testCase.expectedErr == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if testCase.expectedErr != nil && !errors.Is(err, testCase.expectedErr) {
				t.Fatalf("expected %v, got %v", testCase.expectedErr, err)
			}
		})
	}
}

func TestNormalizeOriginsDeduplicatesAndWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	origins, err := normalizeOrigins(zap.New(core), []string{"https://App.Example.com", "https://app.example.com/", "http://intranet.example.com"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(origins) != 2 || origins[0] != "http://intranet.example.com" || origins[1] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", origins)
	}
	if len(logs.FilterField(zap.String("code", "devserver.cors.origin_insecure")).All()) != 1 {
		t.Fatalf("expected insecure origin warning")
	}
}
