package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/declaro/internal/common"
)

var (
	ErrUnavailable     = errors.New("server unavailable")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response")
)

// Error is a non-2xx answer. Payload is the decoded JSON body when it parsed,
// the raw text otherwise, or nil for an empty body.
type Error struct {
	Status  int
	Payload any
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is lets callers treat gateway failures as unavailability and 401 as
// common.ErrorUnauthorized.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Status == http.StatusBadGateway ||
			e.Status == http.StatusServiceUnavailable ||
			e.Status == http.StatusGatewayTimeout
	case common.ErrorUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsTransient reports whether err means the server could not be reached in
// time, as opposed to the server answering with a rejection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// detailMessage extracts the "detail" message of a payload. FastAPI style
// nested details ({"detail": {"message": ...}}) are supported.
func detailMessage(payload any, status int) string {
	if m, ok := payload.(map[string]any); ok {
		switch d := m["detail"].(type) {
		case string:
			if d != "" {
				return d
			}
		case map[string]any:
			if msg, ok := d["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
