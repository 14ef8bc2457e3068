package routes

import (
	"errors"
	"net/http"

	"terminal-log-sync/internal/forward"
	"terminal-log-sync/internal/registry"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/syncer"
	"terminal-log-sync/internal/terminal"
	"terminal-log-sync/internal/token"
)

// HTTPError carries an HTTP status code and a user-facing message alongside
// the underlying error.
type HTTPError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(statusCode int, err error, message string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
	}
}

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidDeviceID  = errors.New("invalid device id")
	ErrDeliveryDisabled = errors.New("log delivery is not configured")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:          http.StatusBadRequest,
	ErrInvalidDeviceID:         http.StatusBadRequest,
	registry.ErrInvalidName:    http.StatusBadRequest,
	registry.ErrInvalidAddress: http.StatusBadRequest,

	// 401 Unauthorized
	ErrUnauthorized:        http.StatusUnauthorized,
	token.ErrNonValidToken: http.StatusUnauthorized,

	// 404 Not Found
	storage.ErrDeviceNotFound: http.StatusNotFound,

	// 409 Conflict
	syncer.ErrAlreadyMonitoring: http.StatusConflict,

	// 502 Bad Gateway: the terminal or the monitor misbehaved
	terminal.ErrSessionExpired: http.StatusBadGateway,
	terminal.ErrEmptySession:   http.StatusBadGateway,
	terminal.ErrSessionActive:  http.StatusBadGateway,

	// 503 Service Unavailable
	ErrDeliveryDisabled: http.StatusServiceUnavailable,
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	var apiErr *terminal.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	var deliveryErr *forward.DeliveryError
	if errors.As(err, &deliveryErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// GetErrorMessage returns a user-facing message for an error. Internal
// errors keep their details out of the response.
func GetErrorMessage(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message
	}

	if GetErrorStatus(err) >= 500 {
		return "An internal error occurred"
	}
	return err.Error()
}
