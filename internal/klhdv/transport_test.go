package klhdv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// TestPublishRespectsRateLimiter exercises Publish against a real
// golang.org/x/time/rate.Limiter: with a limiter capped at 10 events/sec and
// a burst of 1, publishing 3 samples must take at least 200ms (2 waits at
// ~100ms apart), proving the limiter is actually consulted per sample rather
// than just accepted and ignored.
func TestPublishRespectsRateLimiter(t *testing.T) {
	cfg := TransportConfig{Group: "239.192.1.50", Port: 22355}
	samples := []Sample{
		{ChannelID: 1, TimestampMs: 0, Value: 3000},
		{ChannelID: 1, TimestampMs: 10, Value: 3100},
		{ChannelID: 1, TimestampMs: 20, Value: 3200},
	}
	limiter := rate.NewLimiter(rate.Limit(10), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := Publish(ctx, cfg, 0x1, samples, PublishOptions{}, limiter)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "publish should have been paced by the rate limiter")
}

// TestPublishWithoutLimiterIsUnpaced confirms a nil Limiter is a valid
// as-fast-as-possible mode, matching Publish's documented nil-limiter behaviour.
func TestPublishWithoutLimiterIsUnpaced(t *testing.T) {
	cfg := TransportConfig{Group: "239.192.1.50", Port: 22356}
	samples := []Sample{{ChannelID: 1, TimestampMs: 0, Value: 3000}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := Publish(ctx, cfg, 0x1, samples, PublishOptions{}, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Less(t, elapsed, 100*time.Millisecond)
}
