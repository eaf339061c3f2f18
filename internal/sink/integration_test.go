//go:build integration

package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/hibiken/asynq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs image and returns host:port for the given container port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate %s container: %v", req.Image, err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestPostgresSink_Integration(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "forumtap",
			"POSTGRES_PASSWORD": "forumtap",
			"POSTGRES_DB":       "forumtap",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}, nat.Port("5432/tcp"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, fmt.Sprintf("postgres://forumtap:forumtap@%s/forumtap?sslmode=disable", addr))
	if err != nil {
		t.Fatalf("Failed to open postgres sink: %v", err)
	}
	defer s.Close()

	first := testRecord(501, []byte("old"))
	second := testRecord(501, []byte("new"), []byte("more"))
	if err := s.Emit(ctx, first); err != nil {
		t.Fatalf("Emit first: %v", err)
	}
	if err := s.Emit(ctx, second); err != nil {
		t.Fatalf("Emit second: %v", err)
	}

	if _, err := s.Get(ctx, first.ID); err == nil {
		t.Fatalf("Expected replaced record %s to be gone", first.ID)
	}
	got, err := s.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Article.Attachments) != 2 || string(got.Article.Attachments[1].Data) != "more" {
		t.Fatalf("Unexpected attachments: %+v", got.Article.Attachments)
	}
}

func TestBlobSink_Integration(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "forumtap",
			"MINIO_ROOT_PASSWORD": "forumtap-secret",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}, nat.Port("9000/tcp"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewBlobSink(BlobConfig{
		Endpoint:  addr,
		AccessKey: "forumtap",
		SecretKey: "forumtap-secret",
		Bucket:    "forumtap-records",
	})
	if err != nil {
		t.Fatalf("Failed to create blob sink: %v", err)
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := s.Emit(ctx, testRecord(501, []byte("bytes"))); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}

func TestQueueSink_Integration(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, nat.Port("6379/tcp"))

	redisURL := "redis://" + addr
	s, err := NewQueueSink(redisURL, 2)
	if err != nil {
		t.Fatalf("Failed to create queue sink: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	r := testRecord(501, []byte("bytes"))
	if err := s.Emit(ctx, r); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	target := &memSink{name: "mem"}
	done := make(chan struct{})
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{Concurrency: 1})
	mux := asynq.NewServeMux()
	mux.HandleFunc(MirrorRecordTask, func(ctx context.Context, task *asynq.Task) error {
		err := NewProcessor(target, nil).HandleMirror(ctx, task)
		close(done)
		return err
	})
	if err := server.Start(mux); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	defer server.Shutdown()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Timed out waiting for the mirror task")
	}
	if len(target.records) != 1 || target.records[0].ID != r.ID {
		t.Fatalf("Unexpected mirrored records: %+v", target.records)
	}
}
