package redis_test

import (
	"context"
	"testing"
	"time"

	rediswrap "ms-settlement/internal/settlement/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestProcessedCacheIntegration exercises the replay cache against a real
// Redis container.
func TestProcessedCacheIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	cache := rediswrap.NewProcessedCache(client, time.Minute)

	// Unseen event id reads as not processed.
	seen, err := cache.WasProcessed(ctx, "evt_unseen")
	require.NoError(t, err)
	assert.False(t, seen)

	// Marking flips it; marking twice is harmless.
	require.NoError(t, cache.MarkProcessed(ctx, "evt_1"))
	require.NoError(t, cache.MarkProcessed(ctx, "evt_1"))

	seen, err = cache.WasProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Entries expire with the configured TTL.
	shortLived := rediswrap.NewProcessedCache(client, time.Second)
	require.NoError(t, shortLived.MarkProcessed(ctx, "evt_2"))
	time.Sleep(1500 * time.Millisecond)

	seen, err = shortLived.WasProcessed(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen, "expired entries fall back to the database gate")
}
