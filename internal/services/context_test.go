package services_test

import (
	"context"
	"testing"

	"lectern/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithEntityID(ctx, "lecture-042")
	ctx = services.WithRunID(ctx, "run-abc")
	ctx = services.WithSource(ctx, "transcript")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.EntityIDFromContext(ctx); !ok || id != "lecture-042" {
		t.Fatalf("unexpected entity id: %v %v", id, ok)
	}
	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-abc" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if source, ok := services.SourceFromContext(ctx); !ok || source != "transcript" {
		t.Fatalf("unexpected source: %v %v", source, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestSourceBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSource(ctx, "")
	if _, ok := services.SourceFromContext(ctx); ok {
		t.Fatal("expected no source value")
	}
}
