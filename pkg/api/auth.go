package api

import (
	"crypto/subtle"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// wsPolicyViolationCode is the WebSocket close code used when the upgrade
// request's bearer token is missing or wrong (spec.md §4.G/§7).
const wsPolicyViolationCode = 4401

// bearerAuth returns middleware requiring "Authorization: Bearer <token>"
// to match cfg.APIKey exactly. Applies to every route under the group it
// is mounted on; /api/health is registered outside that group and stays
// open so load balancers can probe it without credentials.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !tokenMatches(bearerFromHeader(c.Request().Header.Get("Authorization")), s.cfg.APIKey) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
			}
			return next(c)
		}
	}
}

// tokenMatches compares in constant time so response latency can't leak
// how many leading bytes of the token were correct.
func tokenMatches(token, apiKey string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}
