package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/session"
)

func TestUploadTranscriptRejectsZeroContentLength(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S1")

	req, err := http.NewRequest(http.MethodPost, deps.ts.URL+"/api/sessions/S1/transcript/upload", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.ContentLength = 0
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadTranscriptReturns404ForUnknownSession(t *testing.T) {
	deps := newTestDeps(t, false)
	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/sessions/nope/transcript/upload", testAPIKey, []byte("a line\n"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadTranscriptIsIdempotentOnSecondUpload(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S1")

	payload := []byte(`{"role":"user","timestamp":"2025-01-01T00:00:00Z"}` + "\n")
	first := doRequest(t, http.MethodPost, deps.ts.URL+"/api/sessions/S1/transcript/upload", testAPIKey, payload)
	defer first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	var firstResp UploadResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&firstResp))
	assert.Equal(t, "uploaded", firstResp.Status)

	second := doRequest(t, http.MethodPost, deps.ts.URL+"/api/sessions/S1/transcript/upload", testAPIKey, payload)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)
	var secondResp UploadResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&secondResp))
	assert.Equal(t, "already_uploaded", secondResp.Status)
	assert.Equal(t, firstResp.S3Key, secondResp.S3Key)
}

func TestUploadTranscriptSkipsPipelineTriggerWhileSessionStillDetected(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S1")

	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/sessions/S1/transcript/upload", testAPIKey, []byte("line\n"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var uploadResp UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploadResp))
	require.NotNil(t, uploadResp.PipelineTriggered)
	assert.False(t, *uploadResp.PipelineTriggered, "session is still detected, not ended")
}

func TestUploadTranscriptTriggersPipelineWhenSessionAlreadyEnded(t *testing.T) {
	deps := newTestDeps(t, false)
	seedStartedSession(t, deps, "S2")

	ctx := context.Background()
	endedAt := time.Now().UTC()
	durationMs := int64(1000)
	endReason := "exit"
	result, err := deps.sessions.Transition(ctx, "S2",
		[]models.Lifecycle{models.LifecycleDetected, models.LifecycleCapturing},
		models.LifecycleEnded,
		session.TransitionFields{EndedAt: &endedAt, EndReason: &endReason, DurationMs: &durationMs})
	require.NoError(t, err)
	require.True(t, result.Success)

	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/sessions/S2/transcript/upload", testAPIKey, []byte("line\n"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var uploadResp UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploadResp))
	require.NotNil(t, uploadResp.PipelineTriggered)
	assert.True(t, *uploadResp.PipelineTriggered)
}
