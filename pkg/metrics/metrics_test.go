package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devtrack/eventpipeline/pkg/metrics"
)

func TestGatherReflectsIncrementedCounters(t *testing.T) {
	before := metrics.Gather()

	metrics.EventsIngestedTotal.WithLabelValues("tool_use").Inc()
	metrics.SessionsEnqueueDroppedTotal.Inc()
	metrics.ActiveWebSocketConnections.Set(3)

	after := metrics.Gather()
	assert.Equal(t, before.EventsIngested+1, after.EventsIngested)
	assert.Equal(t, before.SessionsDropped+1, after.SessionsDropped)
	assert.Equal(t, float64(3), after.ActiveConnections)
}
