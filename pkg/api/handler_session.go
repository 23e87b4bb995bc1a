package api

import (
	"database/sql"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/devtrack/eventpipeline/pkg/apperr"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// listSessionsHandler returns sessions, optionally filtered to one
// workspace via ?workspace_id=.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.sessions.List(c.Request().Context(), c.QueryParam("workspace_id"))
	if err != nil {
		return mapError(err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler returns a single session by id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return mapError(apperr.ErrNotFound)
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// getTimelineHandler returns a session's events in timestamp order.
func (s *Server) getTimelineHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if _, err := s.sessions.Get(c.Request().Context(), sessionID); errors.Is(err, sql.ErrNoRows) {
		return mapError(apperr.ErrNotFound)
	} else if err != nil {
		return mapError(err)
	}

	events, err := s.sessions.Timeline(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

// listWorkspacesHandler returns every known workspace.
func (s *Server) listWorkspacesHandler(c *echo.Context) error {
	workspaces, err := s.identity.ListWorkspaces(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	if workspaces == nil {
		workspaces = []models.Workspace{}
	}
	return c.JSON(http.StatusOK, workspaces)
}
