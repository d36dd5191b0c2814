package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"lectern/internal/logging"
	"lectern/internal/stream"
)

// Emitter publishes non-terminal envelopes for a single source. Progress
// percentages are clamped so they never regress within the source, matching
// what attached clients assume when rendering progress bars.
type Emitter struct {
	hub    *Hub
	source stream.Source

	mu          sync.Mutex
	lastPercent float64
	hasPercent  bool
	logger      *slog.Logger
	sampler     *logging.ProgressSampler
}

// NewEmitter constructs an emitter publishing to hub under the given source.
func NewEmitter(hub *Hub, source stream.Source) *Emitter {
	return &Emitter{hub: hub, source: source}
}

// WithProgressLog mirrors sampled progress into logger: one line per phase
// change or 10% bucket, so the daemon log tracks long extractions without a
// line per frame.
func (e *Emitter) WithProgressLog(logger *slog.Logger) *Emitter {
	e.mu.Lock()
	e.logger = logger
	e.sampler = logging.NewProgressSampler(10)
	e.mu.Unlock()
	return e
}

// Progress publishes a progress event without a percentage.
func (e *Emitter) Progress(phase, message string) {
	e.logProgress(phase, message, -1)
	e.hub.Publish(stream.NewProgress(e.source, phase, message))
}

// ProgressAt publishes a progress event with a percentage. Values are clamped
// to [0, 100] and never move backwards.
func (e *Emitter) ProgressAt(phase, message string, percent float64) {
	e.mu.Lock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if e.hasPercent && percent < e.lastPercent {
		percent = e.lastPercent
	}
	e.lastPercent = percent
	e.hasPercent = true
	e.mu.Unlock()

	e.logProgress(phase, message, percent)
	e.hub.Publish(stream.NewProgressAt(e.source, phase, message, percent))
}

func (e *Emitter) logProgress(phase, message string, percent float64) {
	e.mu.Lock()
	logger := e.logger
	emit := logger != nil && e.sampler.ShouldLog(percent, phase, message)
	e.mu.Unlock()
	if !emit {
		return
	}
	attrs := []any{
		logging.String("phase", phase),
		logging.String("message", message),
	}
	if percent >= 0 {
		attrs = append(attrs, logging.Float64(logging.FieldProgressPercent, percent))
	}
	logger.Info("progress", attrs...)
}

// Partial publishes a fragment of the source payload. The fragment must
// marshal to a JSON object so listeners can merge it by key.
func (e *Emitter) Partial(fragment any) error {
	data, err := marshalObject(fragment)
	if err != nil {
		return fmt.Errorf("partial payload: %w", err)
	}
	e.hub.Publish(stream.NewPartial(e.source, data))
	return nil
}

// Result publishes the source's full payload ahead of its terminal, replacing
// whatever listeners accumulated from partial fragments.
func (e *Emitter) Result(payload any) error {
	data, err := marshalObject(payload)
	if err != nil {
		return fmt.Errorf("result payload: %w", err)
	}
	e.hub.Publish(stream.NewResult(e.source, data))
	return nil
}

// Slide publishes one extracted slide record.
func (e *Emitter) Slide(slide stream.Slide) {
	e.hub.Publish(stream.NewSlide(e.source, slide))
}

func marshalObject(value any) (json.RawMessage, error) {
	var data json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = json.RawMessage(v)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		data = encoded
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %q", previewJSON(trimmed))
	}
	return data, nil
}

func previewJSON(data []byte) string {
	const max = 40
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
