package v1

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/chatloom/chatloom/server/chat"
)

// apiError is the structured error body for all non-2xx responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpError maps domain errors onto status codes. Validation, authorization
// and quota failures happen before any write; they are safe to retry after
// fixing the request.
func httpError(err error) error {
	var ve *chat.ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, apiError{Code: "bad_request", Message: ve.Error()})
	}
	var pe *chat.PersistError
	if errors.As(err, &pe) {
		return echo.NewHTTPError(http.StatusInternalServerError, apiError{Code: "persistence_error", Message: pe.Error()})
	}

	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, apiError{Code: "forbidden", Message: err.Error()})
	case errors.Is(err, chat.ErrChatNotFound), errors.Is(err, chat.ErrNoActiveStream):
		return echo.NewHTTPError(http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()})
	case errors.Is(err, chat.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, apiError{Code: "rate_limited", Message: err.Error()})
	case errors.Is(err, chat.ErrChatBusy):
		return echo.NewHTTPError(http.StatusConflict, apiError{Code: "conflict", Message: err.Error()})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, apiError{Code: "internal", Message: err.Error()})
	}
}

func newID() string {
	return shortuuid.New()
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
