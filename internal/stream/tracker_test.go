package stream

import (
	"errors"
	"testing"
)

func TestTrackerRejectsEventsAfterTerminal(t *testing.T) {
	tr := NewTracker()
	if err := tr.Observe(NewProgress(SourceAnalysis, "prompting", "")); err != nil {
		t.Fatalf("Observe progress: %v", err)
	}
	if err := tr.Observe(NewComplete(SourceAnalysis, "run-1", 0, nil)); err != nil {
		t.Fatalf("Observe complete: %v", err)
	}
	err := tr.Observe(NewPartial(SourceAnalysis, []byte(`{"summary":"late"}`)))
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected protocol violation for post-terminal event, got %v", err)
	}
	// A second terminal is the same violation.
	if err := tr.Observe(NewError(SourceAnalysis, "boom")); err == nil {
		t.Fatal("expected violation for second terminal")
	}
}

func TestTrackerTracksSourcesIndependently(t *testing.T) {
	tr := NewTracker()
	if err := tr.Observe(NewComplete(SourceTranscript, "run-1", 0, nil)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := tr.Observe(NewProgress(SourceSlides, "probing", "")); err != nil {
		t.Fatalf("events on another source must still be accepted: %v", err)
	}
	if !tr.Terminated(SourceTranscript) {
		t.Fatal("transcript should be terminated")
	}
	if tr.Terminated(SourceSlides) {
		t.Fatal("slides should still be open")
	}
	open := tr.Open()
	if len(open) != 1 || open[0] != SourceSlides {
		t.Fatalf("expected open=[slides], got %v", open)
	}
	if typ, ok := tr.TerminalType(SourceTranscript); !ok || typ != EventComplete {
		t.Fatalf("expected complete terminal, got %v ok=%v", typ, ok)
	}
}

func TestTrackerObserveValidates(t *testing.T) {
	tr := NewTracker()
	if err := tr.Observe(Envelope{Type: "bogus", Source: SourceUnified}); err == nil {
		t.Fatal("expected validation error")
	}
}
