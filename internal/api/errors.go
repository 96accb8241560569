package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sim-control/simbridge/internal/command"
	"github.com/sim-control/simbridge/internal/simulator"
)

// APIError is an API-layer error with its HTTP status.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new API error.
func NewAPIError(code, message string, statusCode int, details interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, StatusCode: statusCode}
}

// ErrBadRequest marks malformed client input.
var ErrBadRequest = errors.New("BAD_REQUEST")

// ToAPIError maps err to a status code and envelope.
func ToAPIError(err error) (int, *Response) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, ErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse("BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, simulator.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorResponse("INVALID_ARGUMENT", "Simulator rejected the command arguments", nil)
	case errors.Is(err, simulator.ErrBusy):
		return http.StatusServiceUnavailable, ErrorResponse("BUSY", "Simulator is busy, retry with backoff", nil)
	case errors.Is(err, simulator.ErrUnavailable), errors.Is(err, command.ErrNoMotion):
		return http.StatusServiceUnavailable, ErrorResponse("UNAVAILABLE", "Simulator is temporarily unavailable", nil)
	default:
		return http.StatusInternalServerError, ErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
			"original": err.Error(),
		})
	}
}

// writeAPIError writes err in the envelope.
func writeAPIError(w http.ResponseWriter, err error) {
	status, resp := ToAPIError(err)
	writeResponse(w, status, resp)
}
