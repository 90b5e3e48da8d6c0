package telemetry

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sagostin/dynotune/internal/klhdv"
	"github.com/sagostin/dynotune/internal/livequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerServesRegisteredSeries(t *testing.T) {
	m := New()
	m.FramesReceived.WithLabelValues("channel_values").Inc()
	m.QueueDepth.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dynotune_klhdv_frames_received_total")
	assert.Contains(t, rec.Body.String(), "dynotune_livequeue_depth 3")
}

func TestBreakerStateValueMapping(t *testing.T) {
	assert.Equal(t, 0.0, BreakerStateValue("closed"))
	assert.Equal(t, 1.0, BreakerStateValue("half_open"))
	assert.Equal(t, 2.0, BreakerStateValue("open"))
}

func TestPollQueueDrainsSealedWindows(t *testing.T) {
	q := livequeue.New[klhdv.Sample](5*time.Millisecond, 4)
	q.Add(klhdv.Sample{ChannelName: "Engine RPM", Value: 4500}, time.Now())
	time.Sleep(10 * time.Millisecond)
	q.Flush(time.Now())
	require.Equal(t, 1, q.Stats().QueueDepth)

	stream := NewStream()
	m := New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	PollQueue(ctx, stream, q, m, 5*time.Millisecond)

	assert.Equal(t, 0, q.Stats().QueueDepth, "PollQueue should have drained the sealed window")
}
