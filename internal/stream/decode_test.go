package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader yields the underlying data a fixed number of bytes at a time so
// tests can force line splits at arbitrary positions.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collectEvents(t *testing.T, d *Decoder) []Envelope {
	t.Helper()
	var events []Envelope
	for {
		env, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		events = append(events, env)
	}
}

func TestDecoderReassemblesSplitLines(t *testing.T) {
	wire := "data: {\"type\":\"progress\",\"source\":\"analysis\",\"phase\":\"prompting\",\"message\":\"working\",\"progress\":10}\n\n" +
		"data: {\"type\":\"partial\",\"source\":\"analysis\",\"data\":{\"summary\":\"a\"}}\n\n" +
		"data: {\"type\":\"complete\",\"source\":\"unified\",\"runId\":\"run-1\",\"version\":1}\n\n"
	for _, size := range []int{1, 2, 3, 7, 16, len(wire)} {
		d := NewDecoder(&chunkReader{data: []byte(wire), size: size})
		events := collectEvents(t, d)
		if len(events) != 3 {
			t.Fatalf("chunk size %d: expected 3 events, got %d", size, len(events))
		}
		if events[0].Type != EventProgress || events[0].Progress == nil || *events[0].Progress != 10 {
			t.Fatalf("chunk size %d: unexpected first event %+v", size, events[0])
		}
		if events[1].Type != EventPartial || events[1].Source != SourceAnalysis {
			t.Fatalf("chunk size %d: unexpected second event %+v", size, events[1])
		}
		if events[2].Type != EventComplete || events[2].Version != 1 {
			t.Fatalf("chunk size %d: unexpected third event %+v", size, events[2])
		}
	}
}

func TestDecoderSkipsNoise(t *testing.T) {
	wire := ": keepalive\n\n" +
		"data: {not json at all\n" +
		"event: custom\n" +
		"data: {\"type\":\"progress\",\"source\":\"transcript\",\"phase\":\"fetching\"}\n\n" +
		":\n" +
		"data:\n" +
		"data: {\"type\":\"complete\",\"source\":\"unified\",\"runId\":\"run-9\"}\n\n"
	d := NewDecoder(strings.NewReader(wire))
	events := collectEvents(t, d)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Phase != "fetching" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].RunID != "run-9" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestDecoderSurfacesProtocolViolation(t *testing.T) {
	// Parses as JSON but the type is not in the closed set.
	wire := "data: {\"type\":\"chunk\",\"source\":\"analysis\"}\n\n"
	d := NewDecoder(strings.NewReader(wire))
	_, err := d.Next()
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestDecoderHandlesCRLFAndTrailingLine(t *testing.T) {
	// Final data line has no trailing newline; it must still decode at EOF.
	wire := "data: {\"type\":\"progress\",\"source\":\"slides\",\"phase\":\"probing\"}\r\n\r\n" +
		"data: {\"type\":\"complete\",\"source\":\"unified\",\"runId\":\"run-2\",\"version\":2}"
	d := NewDecoder(strings.NewReader(wire))
	events := collectEvents(t, d)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].RunID != "run-2" || events[1].Version != 2 {
		t.Fatalf("unexpected trailing event %+v", events[1])
	}
}

func TestDecoderReturnsEOFOnce(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on repeat call, got %v", err)
	}
}

func TestWriteEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := NewPartial(SourceAnalysis, []byte(`{"takeaways":["x"]}`))
	if err := WriteEvent(&buf, in); err != nil {
		t.Fatalf("WriteEvent returned error: %v", err)
	}
	if err := WriteKeepalive(&buf); err != nil {
		t.Fatalf("WriteKeepalive returned error: %v", err)
	}
	if err := WriteEvent(&buf, NewComplete(SourceUnified, "run-3", 1, nil)); err != nil {
		t.Fatalf("WriteEvent returned error: %v", err)
	}

	d := NewDecoder(&buf)
	events := collectEvents(t, d)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Data) != `{"takeaways":["x"]}` {
		t.Fatalf("unexpected data %s", events[0].Data)
	}
	if events[1].RunID != "run-3" {
		t.Fatalf("unexpected complete %+v", events[1])
	}
}

func TestWriteEventRejectsInvalidEnvelope(t *testing.T) {
	var buf bytes.Buffer
	err := WriteEvent(&buf, Envelope{Type: EventError, Source: SourceUnified})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("invalid envelope reached the wire: %q", buf.String())
	}
}
