package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrUnexpectedResponse indicates a 2xx reply that did not carry the expected payload.
	ErrUnexpectedResponse = errors.New("backend.unexpected_response")
	// ErrMissingIdentifier indicates a blank uid or record id.
	ErrMissingIdentifier = errors.New("backend.missing_identifier")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("backend: %s (status %d)", apiError.Message, apiError.StatusCode)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeAPIError(response *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	message := http.StatusText(response.StatusCode)
	var decoded errorResponse
	if json.Unmarshal(body, &decoded) == nil {
		switch {
		case decoded.Error != "":
			message = decoded.Error
		case decoded.Message != "":
			message = decoded.Message
		}
	}
	return &APIError{StatusCode: response.StatusCode, Message: message}
}

// StatusCode extracts the HTTP status from an APIError chain, or 0.
func StatusCode(err error) int {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.StatusCode
	}
	return 0
}
