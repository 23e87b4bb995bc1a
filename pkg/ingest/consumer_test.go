package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/devtrack/eventpipeline/pkg/eventlog"
	"github.com/devtrack/eventpipeline/pkg/ingest"
)

func newTestLog(t *testing.T) *eventlog.Log {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, testcontainers.TerminateContainer(container)) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	log := eventlog.New(redis.NewClient(opts))
	require.NoError(t, log.EnsureGroup(ctx))
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestConsumerProcessesAndAcksAppendedEnvelope(t *testing.T) {
	processor, sessions := newTestProcessor(t)
	log := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())

	env := sessionStartEnvelope()
	_, err := log.Append(ctx, env)
	require.NoError(t, err)

	consumer := &ingest.Consumer{Log: log, Processor: processor, Name: "worker-1"}
	go consumer.Run(ctx)
	t.Cleanup(cancel)

	assert.Eventually(t, func() bool {
		_, err := sessions.Get(ctx, "S1")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}
