// Package metrics exposes process counters for the ingest/process/
// broadcast pipeline. There is no separate Prometheus scrape endpoint —
// the counters are surfaced as fields on the health response instead, so
// the public HTTP surface stays small.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var registry = prometheus.NewRegistry()

var (
	EventsIngestedTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "devtrack_events_ingested_total",
		Help: "Events accepted by the ingest endpoint, by type.",
	}, []string{"type"})

	EventsRejectedTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "devtrack_events_rejected_total",
		Help: "Events rejected during ingest validation, by reason.",
	}, []string{"reason"})

	SessionsProcessedTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "devtrack_sessions_processed_total",
		Help: "Sessions that completed the parse/summarize pipeline, by outcome.",
	}, []string{"outcome"})

	SessionsEnqueueDroppedTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "devtrack_sessions_enqueue_dropped_total",
		Help: "Sessions dropped from the pipeline queue because it was full.",
	})

	BroadcastsSentTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "devtrack_broadcasts_sent_total",
		Help: "WebSocket frames sent to subscribed clients, by message type.",
	}, []string{"type"})

	TranscriptCompactSequenceRejectedTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "devtrack_transcript_compact_sequence_rejected_total",
		Help: "Transcript lines whose compact_sequence regressed below the running high-water mark and were silently clamped.",
	})

	ActiveWebSocketConnections = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "devtrack_websocket_connections",
		Help: "Currently connected WebSocket clients.",
	})
)

// Stats is the subset of counters surfaced on GET /api/health.
type Stats struct {
	EventsIngested          float64 `json:"events_ingested_total"`
	EventsRejected          float64 `json:"events_rejected_total"`
	SessionsProcessed       float64 `json:"sessions_processed_total"`
	SessionsDropped         float64 `json:"sessions_enqueue_dropped_total"`
	ActiveConnections       float64 `json:"active_websocket_connections"`
	CompactSequenceRejected float64 `json:"transcript_compact_sequence_rejected_total"`
}

// Gather reads the current counter/gauge values straight from the
// registry, so the health handler doesn't need its own running totals.
func Gather() Stats {
	families, err := registry.Gather()
	if err != nil {
		return Stats{}
	}

	var s Stats
	for _, f := range families {
		switch f.GetName() {
		case "devtrack_events_ingested_total":
			s.EventsIngested = sumCounters(f.GetMetric())
		case "devtrack_events_rejected_total":
			s.EventsRejected = sumCounters(f.GetMetric())
		case "devtrack_sessions_processed_total":
			s.SessionsProcessed = sumCounters(f.GetMetric())
		case "devtrack_sessions_enqueue_dropped_total":
			s.SessionsDropped = sumCounters(f.GetMetric())
		case "devtrack_websocket_connections":
			s.ActiveConnections = sumGauges(f.GetMetric())
		case "devtrack_transcript_compact_sequence_rejected_total":
			s.CompactSequenceRejected = sumCounters(f.GetMetric())
		}
	}
	return s
}

func sumCounters(metrics []*dto.Metric) float64 {
	var total float64
	for _, m := range metrics {
		if c := m.GetCounter(); c != nil {
			total += c.GetValue()
		}
	}
	return total
}

func sumGauges(metrics []*dto.Metric) float64 {
	var total float64
	for _, m := range metrics {
		if g := m.GetGauge(); g != nil {
			total += g.GetValue()
		}
	}
	return total
}
