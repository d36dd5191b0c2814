package services_test

import (
	"errors"
	"strings"
	"testing"

	"lectern/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "slides", "extract", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"slides", "extract", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassifyMapping(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "transcript", "fetch", "invalid", nil)
	if kind := services.Classify(validationErr); kind != "validation" {
		t.Fatalf("expected validation, got %s", kind)
	}

	toolErr := services.Wrap(services.ErrExternalTool, "slides", "ffmpeg", "exit 1", errors.New("io"))
	if kind := services.Classify(toolErr); kind != "external_tool" {
		t.Fatalf("expected external_tool, got %s", kind)
	}

	if kind := services.Classify(errors.New("plain")); kind != "transient" {
		t.Fatalf("expected transient for untagged error, got %s", kind)
	}

	if kind := services.Classify(nil); kind != "" {
		t.Fatalf("expected empty for nil error, got %s", kind)
	}
}
