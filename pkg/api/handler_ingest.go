package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/devtrack/eventpipeline/pkg/ingest"
	"github.com/devtrack/eventpipeline/pkg/models"
)

const (
	minBatchSize = 1
	maxBatchSize = 100
)

// ingestRequest is the body of POST /api/events/ingest.
type ingestRequest struct {
	Events []models.Envelope `json:"events"`
}

// ingestHandler validates a batch of envelopes and appends each to the
// durable log, leaving processing itself to the log consumer
// (spec.md §4.I). Append failures surface as 5xx; the caller retains
// responsibility to retry from its own local queue.
func (s *Server) ingestHandler(c *echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if len(req.Events) < minBatchSize || len(req.Events) > maxBatchSize {
		return echo.NewHTTPError(http.StatusBadRequest, "events: batch size must be between 1 and 100")
	}

	var errs []IngestErrorDetail
	for i, env := range req.Events {
		if err := ingest.ValidateEnvelope(&env); err != nil {
			errs = append(errs, IngestErrorDetail{Index: i, Field: "envelope", Message: err.Error()})
			continue
		}
		if err := ingest.ValidatePayload(env.Type, env.Data); err != nil {
			errs = append(errs, IngestErrorDetail{Index: i, Field: "data", Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return c.JSON(http.StatusBadRequest, IngestErrorResponse{Errors: errs})
	}

	ctx := c.Request().Context()
	for _, env := range req.Events {
		if _, err := s.log.Append(ctx, env); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to append to durable log")
		}
	}

	return c.JSON(http.StatusAccepted, IngestResponse{Ingested: len(req.Events)})
}
