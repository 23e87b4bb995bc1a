package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/devtrack/eventpipeline/pkg/apperr"
)

// mapError translates a domain error into an echo.HTTPError, keeping
// internal detail (query text, driver errors) out of the response body
// (spec.md §7's "never leak internals" rule).
func mapError(err error) *echo.HTTPError {
	var valErr *apperr.ValidationError
	switch {
	case errors.As(err, &valErr):
		return echo.NewHTTPError(http.StatusBadRequest, valErr.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, apperr.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, apperr.ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, "concurrent modification, retry")
	case errors.Is(err, apperr.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, apperr.ErrTransientDependency):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dependency unavailable, retry")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
