//go:build integration

package httpx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/testutil/containers"
)

func TestRedisRateLimiterSharesWindow(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := NewRedisRateLimiter(rc.Addr, "", 0, logger)
	require.NoError(t, err)
	defer first.Close()
	second, err := NewRedisRateLimiter(rc.Addr, "", 0, logger)
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, first.Allow("login:10.0.0.1", 2, time.Minute).allowed)
	assert.True(t, second.Allow("login:10.0.0.1", 2, time.Minute).allowed)
	denied := first.Allow("login:10.0.0.1", 2, time.Minute)
	assert.False(t, denied.allowed)
	assert.Equal(t, 3, denied.count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), denied.windowEnd, 5*time.Second)

	assert.True(t, second.Allow("login:10.0.0.2", 2, time.Minute).allowed)

	ttl, err := rc.Client.TTL(context.Background(), "replicas:ratelimit:login:10.0.0.1").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
