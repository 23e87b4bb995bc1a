package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/gitcorrelate"
	"github.com/devtrack/eventpipeline/pkg/identity"
	"github.com/devtrack/eventpipeline/pkg/ingest"
	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/session"
)

func newTestProcessor(t *testing.T) (*ingest.Processor, *session.Store) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, testcontainers.TerminateContainer(container)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	resolver := identity.New(client.DB())
	sessions := session.New(client.DB())
	git := gitcorrelate.New(client.DB())

	p := ingest.New(client.DB(), resolver)
	p.RegisterDefaultHandlers(sessions, git, nil)

	return p, sessions
}

func sessionStartEnvelope() models.Envelope {
	return models.Envelope{
		ID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Type:        models.EventTypeSessionStart,
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DeviceID:    "D1",
		WorkspaceID: "github.com/o/r",
		Data: map[string]any{
			"cc_session_id": "S1",
			"cwd":           "/tmp",
			"git_branch":    "main",
			"git_remote":    "git@github.com:o/r.git",
		},
	}
}

func TestProcessCreatesWorkspaceDeviceAndSession(t *testing.T) {
	p, sessions := newTestProcessor(t)
	ctx := context.Background()

	result, err := p.Process(ctx, sessionStartEnvelope())
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusProcessed, result.Status)
	assert.NoError(t, result.HandlerErr)

	sess, err := sessions.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, models.LifecycleDetected, sess.Lifecycle)
}

func TestProcessIsIdempotent(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	env := sessionStartEnvelope()
	first, err := p.Process(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusProcessed, first.Status)

	second, err := p.Process(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDuplicate, second.Status)
}

func TestProcessRejectsInvalidEnvelope(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	env := sessionStartEnvelope()
	env.ID = "not-a-ulid"

	_, err := p.Process(ctx, env)
	require.Error(t, err)
}
