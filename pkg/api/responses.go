package api

import (
	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/metrics"
	"github.com/devtrack/eventpipeline/pkg/pipeline"
)

// HealthResponse is the body of GET /api/health, surfacing every
// dependency's own health shape plus process counters rather than
// re-deriving a separate set of fields for them.
type HealthResponse struct {
	Status            string               `json:"status"`
	Database          *database.HealthStatus `json:"database"`
	Pipeline          pipeline.Health      `json:"pipeline"`
	ActiveConnections int                  `json:"active_websocket_connections"`
	Metrics           metrics.Stats        `json:"metrics"`
}

// IngestResponse is the body of a successful POST /api/events/ingest.
type IngestResponse struct {
	Ingested int `json:"ingested"`
}

// IngestErrorDetail reports one invalid element of an ingest batch.
type IngestErrorDetail struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// IngestErrorResponse is the body of a 400 from POST /api/events/ingest.
type IngestErrorResponse struct {
	Errors []IngestErrorDetail `json:"errors"`
}

// UploadResponse is the body of a transcript upload response, both the
// idempotent "already uploaded" case and the freshly-uploaded case.
type UploadResponse struct {
	Status            string `json:"status"`
	S3Key             string `json:"s3_key"`
	PipelineTriggered *bool  `json:"pipeline_triggered,omitempty"`
}
