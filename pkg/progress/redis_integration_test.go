//go:build integration

package progress

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns its URL.
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		redisContainer.Terminate(context.Background())
	})

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestIntegration_RedisMarkerSurvivesReconnect(t *testing.T) {
	url := setupRedisContainer(t)
	ctx := context.Background()

	first, err := NewRedisBackendFromURL(ctx, url, "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := NewTracker(first, zerolog.Nop()).Write(ctx, sales, 40); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	first.Close()

	second, err := NewRedisBackendFromURL(ctx, url, "")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer second.Close()

	if got := NewTracker(second, zerolog.Nop()).Read(ctx, sales); got != 40 {
		t.Errorf("Read after reconnect = %d, want 40", got)
	}
}
