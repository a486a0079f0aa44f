package checkpoint

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	s := NewRedisStoreWith(client)

	if err := s.Put(ctx, "graph", "t1", "state", []byte(`{"node":"planner"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	val, ok, err := s.Get(ctx, "graph", "t1", "state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(val) != `{"node":"planner"}` {
		t.Fatalf("get returned ok=%v val=%s", ok, val)
	}

	for i := 1; i <= 3; i++ {
		seq, err := s.Append(ctx, "messages", "t1", []byte(fmt.Sprintf("event-%d", i)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != int64(i) {
			t.Fatalf("append %d: seq = %d", i, seq)
		}
	}
	entries, err := s.ReadLog(ctx, "messages", "t1", 0, -1)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 3 || string(entries[1]) != "event-2" {
		t.Fatalf("unexpected log: %q", entries)
	}

	c1, err := s.NextCursor(ctx, "messages", "t1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	c2, _ := s.NextCursor(ctx, "messages", "t1")
	if c1 != 1 || c2 != 2 {
		t.Fatalf("cursors = %d, %d", c1, c2)
	}

	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "graph", "t1", "state"); ok {
		t.Fatal("state survived delete")
	}
	if entries, _ := s.ReadLog(ctx, "messages", "t1", 0, -1); len(entries) != 0 {
		t.Fatal("log survived delete")
	}
}
