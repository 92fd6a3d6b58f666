package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestExportKey(t *testing.T) {
	if got := ExportKey("doc-123", "task-1", ".pdf"); got != "exports/doc-123/task-1.pdf" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Bucket: "exports"}); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := New(Config{Endpoint: "localhost:9000", Bucket: "exports"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreRoundTripMinio(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("CHRONICLE_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("CHRONICLE_TEST_MINIO_ENDPOINT is not set")
	}

	store, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("CHRONICLE_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("CHRONICLE_TEST_MINIO_SECRET_KEY"),
		Bucket:    "chronicle-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	key := ExportKey("doc-123", "task-1", ".md")
	if err := store.Put(ctx, key, []byte("# Plan\n"), "text/markdown"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	r, size, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	body, _ := io.ReadAll(r)
	if string(body) != "# Plan\n" || size != int64(len(body)) {
		t.Fatalf("unexpected object %q (%d bytes)", body, size)
	}

	if _, _, err := store.Open(ctx, ExportKey("doc-123", "missing", ".md")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	u, err := store.PresignGet(ctx, key, "plan.md", time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	if !strings.Contains(u.RawQuery, "response-content-disposition") {
		t.Fatalf("presigned url missing disposition: %s", u)
	}
}
