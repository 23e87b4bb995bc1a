// Command devtrack-server runs the developer-activity backend: the HTTP
// ingest/read API, the WebSocket fanout, the durable-log consumer, and the
// post-session processing pipeline, all against one Postgres database and
// one Redis instance (spec.md §5/§6).
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/devtrack/eventpipeline/pkg/api"
	"github.com/devtrack/eventpipeline/pkg/config"
	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/eventlog"
	"github.com/devtrack/eventpipeline/pkg/gitcorrelate"
	"github.com/devtrack/eventpipeline/pkg/identity"
	"github.com/devtrack/eventpipeline/pkg/ingest"
	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/objectstore"
	"github.com/devtrack/eventpipeline/pkg/pipeline"
	"github.com/devtrack/eventpipeline/pkg/session"
	"github.com/devtrack/eventpipeline/pkg/summarizer"
	"github.com/devtrack/eventpipeline/pkg/version"
	"github.com/devtrack/eventpipeline/pkg/ws"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting", "version", version.Full())

	cfg, err := config.Initialize()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 1. Database pool, migrated and pinged.
	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("connected to postgres")

	// 2. Durable log (Redis Streams) plus its consumer group.
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	log := eventlog.New(goredis.NewClient(redisOpts))
	if err := log.EnsureGroup(ctx); err != nil {
		slog.Error("failed to create consumer group", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	slog.Info("connected to redis")

	// 3. Object store for raw/parsed transcripts and externalized blobs.
	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:         cfg.S3.Bucket,
		Region:         cfg.S3.Region,
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		slog.Error("failed to build object store", "error", err)
		os.Exit(1)
	}

	// 4. Domain stores.
	resolver := identity.New(dbClient.DB())
	sessions := session.New(dbClient.DB())
	git := gitcorrelate.New(dbClient.DB())

	// 5. WebSocket fanout: local connection manager, cross-process relay
	// over LISTEN/NOTIFY, catch-up querier backed by the event table.
	wsManager := ws.NewConnectionManager(cfg.WS.PingInterval, cfg.WS.PongTimeout, ws.NewDBCatchupQuerier(dbClient.DB()))
	notifyListener := ws.NewNotifyListener(cfg.DatabaseURL, wsManager)
	go notifyListener.Run(ctx)
	broadcaster := ws.NewBroadcaster(dbClient.DB(), wsManager)

	// 6. Optional summary generator.
	var generator summarizer.Generator
	if cfg.Summary.Enabled {
		generator = summarizer.NewClient(cfg.Summary.Endpoint, cfg.Summary.APIKey)
	}

	// 7. Post-processing pipeline: bounded worker pool plus the orphan
	// reclaimer that re-enqueues sessions a dropped trigger left stuck.
	steps := pipeline.NewSteps(dbClient.DB(), store, sessions, generator, broadcaster)
	pool := pipeline.NewPool(cfg.Pipeline.MaxConcurrency, cfg.Pipeline.QueueCapacity, steps)
	pool.Start(ctx)
	reclaimer := pipeline.NewReclaimer(dbClient.DB(), pool)
	go reclaimer.Run(ctx)

	// 8. Ingest processor, wired so a completed session.end enqueues the
	// pipeline, plus the durable-log consumer and its stale-entry reclaimer.
	processor := ingest.New(dbClient.DB(), resolver)
	processor.RegisterDefaultHandlers(sessions, git, func(sessionID string) {
		pool.EnqueueSession(sessionID)
	})

	consumer := &ingest.Consumer{Log: log, Processor: processor, Name: getEnv("HOSTNAME", "devtrack-server")}
	go consumer.Run(ctx)

	ingestReclaimer := &eventlog.Reclaimer{
		Log:               log,
		Consumer:          consumer.Name,
		VisibilityTimeout: 30 * time.Second,
		PollInterval:      10 * time.Second,
		Handler: func(ctx context.Context, rec eventlog.Record) error {
			var env models.Envelope
			if err := json.Unmarshal(rec.Payload, &env); err != nil {
				return nil // malformed payload, never decodable, nothing to retry
			}
			_, err := processor.Process(ctx, env)
			return err
		},
	}
	go ingestReclaimer.Run(ctx)

	// 9. HTTP/WebSocket server.
	server := api.NewServer(cfg, dbClient, sessions, resolver, processor, log, store, pool, wsManager)

	addr := getEnv("HTTP_ADDR", ":8080")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}
	slog.Info("listening", "addr", addr)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.StartWithListener(ln) }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during http shutdown", "error", err)
	}
	pool.Stop()
	slog.Info("shutdown complete")
}
