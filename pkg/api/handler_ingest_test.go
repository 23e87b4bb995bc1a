package api

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtrack/eventpipeline/pkg/models"
)

func sampleEnvelope(id string) models.Envelope {
	return models.Envelope{
		ID:          id,
		Type:        models.EventTypeSessionStart,
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DeviceID:    "D1",
		WorkspaceID: "github.com/o/r",
		Data: map[string]any{
			"cc_session_id": "S1",
			"cwd":           "/tmp",
		},
		BlobRefs: []models.BlobRef{},
	}
}

func TestIngestHandlerRequiresBearerToken(t *testing.T) {
	deps := newTestDeps(t, false)
	body, _ := json.Marshal(ingestRequest{Events: []models.Envelope{sampleEnvelope("01ARZ3NDEKTSV4RRFFQ69G5FAV")}})

	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/events/ingest", "", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestHandlerRejectsEmptyAndOversizedBatches(t *testing.T) {
	deps := newTestDeps(t, true)

	emptyBody, _ := json.Marshal(ingestRequest{Events: []models.Envelope{}})
	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/events/ingest", testAPIKey, emptyBody)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	tooMany := make([]models.Envelope, 101)
	for i := range tooMany {
		tooMany[i] = sampleEnvelope("01ARZ3NDEKTSV4RRFFQ69G5FA" + string(rune('A'+i%26)))
	}
	bigBody, _ := json.Marshal(ingestRequest{Events: tooMany})
	resp2 := doRequest(t, http.MethodPost, deps.ts.URL+"/api/events/ingest", testAPIKey, bigBody)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestIngestHandlerReturnsPerIndexErrorsOnInvalidEnvelope(t *testing.T) {
	deps := newTestDeps(t, true)

	valid := sampleEnvelope("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	invalid := sampleEnvelope("not-a-ulid")
	body, _ := json.Marshal(ingestRequest{Events: []models.Envelope{valid, invalid}})

	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/events/ingest", testAPIKey, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp IngestErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.Len(t, errResp.Errors, 1)
	assert.Equal(t, 1, errResp.Errors[0].Index)
}

func TestIngestHandlerAppendsValidBatchAndReturns202(t *testing.T) {
	deps := newTestDeps(t, true)
	body, _ := json.Marshal(ingestRequest{Events: []models.Envelope{sampleEnvelope("01ARZ3NDEKTSV4RRFFQ69G5FAV")}})

	resp := doRequest(t, http.MethodPost, deps.ts.URL+"/api/events/ingest", testAPIKey, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ingested IngestResponse
	require.NoError(t, json.Unmarshal(data, &ingested))
	assert.Equal(t, 1, ingested.Ingested)
}
