package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtrack/eventpipeline/pkg/models"
)

func TestListSessionsRequiresAuthAndReturnsSeededSession(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S1")

	unauth := doRequest(t, http.MethodGet, deps.ts.URL+"/api/sessions", "", nil)
	defer unauth.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, unauth.StatusCode)

	resp := doRequest(t, http.MethodGet, deps.ts.URL+"/api/sessions", testAPIKey, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "S1", sessions[0].ID)
}

func TestGetSessionReturns404ForUnknownID(t *testing.T) {
	deps := newTestDeps(t, false)
	resp := doRequest(t, http.MethodGet, deps.ts.URL+"/api/sessions/nope", testAPIKey, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkspacesReturnsResolvedWorkspace(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S1")

	resp := doRequest(t, http.MethodGet, deps.ts.URL+"/api/workspaces", testAPIKey, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workspaces []models.Workspace
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&workspaces))
	require.Len(t, workspaces, 1)
	assert.Equal(t, "github.com/o/r", workspaces[0].CanonicalID)
}
