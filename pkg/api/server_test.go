package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	goredis "github.com/redis/go-redis/v9"

	"github.com/devtrack/eventpipeline/pkg/config"
	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/eventlog"
	"github.com/devtrack/eventpipeline/pkg/gitcorrelate"
	"github.com/devtrack/eventpipeline/pkg/identity"
	"github.com/devtrack/eventpipeline/pkg/ingest"
	"github.com/devtrack/eventpipeline/pkg/pipeline"
	"github.com/devtrack/eventpipeline/pkg/session"
	"github.com/devtrack/eventpipeline/pkg/ws"
)

const testAPIKey = "test-api-key"

// fakeStore is an in-memory objectstore.Store, avoiding a second
// testcontainer for handler tests that only need Put/Get to round-trip.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// noopRunner never actually runs pipeline steps; handler tests only
// assert on whether a session was enqueued, not on parse output.
type noopRunner struct{}

func (noopRunner) Run(context.Context, string) error { return nil }

type testDeps struct {
	server   *Server
	sessions *session.Store
	store    *fakeStore
	pool     *pipeline.Pool
	ts       *httptest.Server
}

// newTestDeps wires a full Server against a real Postgres testcontainer
// and an in-memory object store. withLog additionally wires a real Redis
// testcontainer-backed eventlog.Log for tests exercising the ingest route.
func newTestDeps(t *testing.T, withLog bool) *testDeps {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
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
	t.Cleanup(func() { require.NoError(t, testcontainers.TerminateContainer(pgContainer)) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	client, err := database.NewClient(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	resolver := identity.New(client.DB())
	sessions := session.New(client.DB())
	git := gitcorrelate.New(client.DB())

	processor := ingest.New(client.DB(), resolver)
	processor.RegisterDefaultHandlers(sessions, git, nil)

	pool := pipeline.NewPool(1, 8, noopRunner{})
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	wsManager := ws.NewConnectionManager(30*time.Second, 10*time.Second, nil)
	store := newFakeStore()
	cfg := &config.Config{APIKey: testAPIKey}

	var log *eventlog.Log
	if withLog {
		redisContainer, err := redis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, testcontainers.TerminateContainer(redisContainer)) })
		connStr, err := redisContainer.ConnectionString(ctx)
		require.NoError(t, err)
		opts, err := goredis.ParseURL(connStr)
		require.NoError(t, err)
		log = eventlog.New(goredis.NewClient(opts))
		require.NoError(t, log.EnsureGroup(ctx))
		t.Cleanup(func() { _ = log.Close() })
	}

	server := NewServer(cfg, client, sessions, resolver, processor, log, store, pool, wsManager)
	ts := httptest.NewServer(server.echo)
	t.Cleanup(ts.Close)

	return &testDeps{server: server, sessions: sessions, store: store, pool: pool, ts: ts}
}

func doRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func seedStartedSession(t *testing.T, deps *testDeps, sessionID string) {
	t.Helper()
	ctx := context.Background()
	resolver := identity.New(deps.server.db.DB())
	workspaceID, err := resolver.ResolveOrCreateWorkspace(ctx, "github.com/o/r", identity.Hints{})
	require.NoError(t, err)
	require.NoError(t, resolver.ResolveOrCreateDevice(ctx, "D1"))
	require.NoError(t, deps.sessions.HandleStart(ctx, workspaceID, "D1", time.Now().UTC(), session.StartPayload{
		CCSessionID: sessionID,
		CWD:         "/tmp",
	}))
}
