package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the development backend address.
	DefaultBaseURL = "http://localhost:5000/api"

	defaultTimeout = 10 * time.Second
)

// CredentialSource supplies the Authorization header for each outgoing request.
type CredentialSource interface {
	// WaitReady blocks until the first identity check has settled.
	WaitReady(ctx context.Context) error
	// AuthorizationHeader returns the header value for a request about to be sent.
	AuthorizationHeader(ctx context.Context) (string, bool)
}

// Config configures the backend client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Transport   http.RoundTripper
	Credentials CredentialSource
	Logger      *zap.Logger
}

// Client is the shared HTTP client for the Campus Pilot backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client whose requests carry the current credential.
func New(configuration Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := configuration.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := configuration.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if configuration.Credentials != nil {
		transport = &authorizingTransport{base: transport, credentials: configuration.Credentials}
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		logger:  logger,
	}
}

// BaseURL reports the configured base URL.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// authorizingTransport attaches the credential at send time.
type authorizingTransport struct {
	base        http.RoundTripper
	credentials CredentialSource
}

func (transport *authorizingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if err := transport.credentials.WaitReady(request.Context()); err != nil {
		if request.Body != nil {
			request.Body.Close()
		}
		return nil, err
	}
	outgoing := request.Clone(request.Context())
	if header, ok := transport.credentials.AuthorizationHeader(request.Context()); ok {
		outgoing.Header.Set("Authorization", header)
	} else {
		outgoing.Header.Del("Authorization")
	}
	return transport.base.RoundTrip(outgoing)
}

func (client *Client) do(ctx context.Context, operation string, method string, path string, query url.Values, payload any, out any) error {
	endpoint := client.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("backend.%s.encode: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint, body)
	if requestErr != nil {
		return fmt.Errorf("backend.%s.request: %w", operation, requestErr)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		client.logger.Error("backend request failed",
			zap.String("code", "backend.request.failed"),
			zap.String("operation", operation),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("backend.%s: %w", operation, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiError := decodeAPIError(response)
		client.logger.Error("backend request failed",
			zap.String("code", "backend.request.failed"),
			zap.String("operation", operation),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", apiError.StatusCode),
			zap.String("message", apiError.Message),
		)
		return fmt.Errorf("backend.%s: %w", operation, apiError)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("backend.%s.decode: %w", operation, err)
	}
	return nil
}
