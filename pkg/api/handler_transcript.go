package api

import (
	"bytes"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/objectstore"
)

// maxTranscriptBytes is the exact Content-Length ceiling spec.md §4.I
// point 1 requires (enforced here in addition to the router-wide body
// limit, so the oversized case gets the specific 413 the spec names).
const maxTranscriptBytes = 200 * 1024 * 1024

// uploadTranscriptHandler implements the idempotent transcript-upload
// algorithm (spec.md §4.I): content-length bounds, session lookup,
// idempotent short-circuit, buffer-then-put discipline, and the
// RETURNING-based race avoidance against a concurrent session.end.
func (s *Server) uploadTranscriptHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	req := c.Request()

	contentLength := req.ContentLength
	if contentLength <= 0 {
		if hdr := req.Header.Get("Content-Length"); hdr != "" {
			if n, err := strconv.ParseInt(hdr, 10, 64); err == nil {
				contentLength = n
			}
		}
	}
	if contentLength <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Content-Length is required and must be non-zero")
	}
	if contentLength > maxTranscriptBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "transcript exceeds 200 MiB")
	}

	ctx := req.Context()
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return mapError(err)
	}

	if sess.TranscriptS3Key != nil {
		return c.JSON(http.StatusOK, UploadResponse{Status: "already_uploaded", S3Key: *sess.TranscriptS3Key})
	}

	workspace, err := s.identity.GetWorkspace(ctx, sess.WorkspaceID)
	if err != nil {
		return mapError(err)
	}
	s3Key := objectstore.RawTranscriptKey(workspace.CanonicalID, sessionID)

	body, err := io.ReadAll(io.LimitReader(req.Body, contentLength))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed reading request body")
	}

	if err := s.store.Put(ctx, s3Key, bytes.NewReader(body), "application/x-ndjson"); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to store transcript")
	}

	lifecycle, err := s.sessions.SetTranscriptKey(ctx, sessionID, s3Key)
	if err != nil {
		return mapError(err)
	}

	triggered := false
	if lifecycle == models.LifecycleEnded {
		triggered = s.pool.EnqueueSession(sessionID)
	}

	return c.JSON(http.StatusAccepted, UploadResponse{
		Status:            "uploaded",
		S3Key:             s3Key,
		PipelineTriggered: &triggered,
	})
}
