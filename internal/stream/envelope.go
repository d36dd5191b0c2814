package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies the semantic kind of an event envelope.
type EventType string

const (
	EventProgress EventType = "progress"
	EventPartial  EventType = "partial"
	EventResult   EventType = "result"
	EventSlide    EventType = "slide"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Source identifies which multiplexed sub-task emitted an event. SourceUnified
// is reserved for run-level events owned by the run itself rather than by one
// of its sub-tasks.
type Source string

const (
	SourceTranscript Source = "transcript"
	SourceAnalysis   Source = "analysis"
	SourceSlides     Source = "slides"
	SourceUnified    Source = "unified"
)

var allEventTypes = []EventType{
	EventProgress,
	EventPartial,
	EventResult,
	EventSlide,
	EventComplete,
	EventError,
}

var allSources = []Source{
	SourceTranscript,
	SourceAnalysis,
	SourceSlides,
	SourceUnified,
}

var eventTypeSet = func() map[EventType]struct{} {
	set := make(map[EventType]struct{}, len(allEventTypes))
	for _, t := range allEventTypes {
		set[t] = struct{}{}
	}
	return set
}()

var sourceSet = func() map[Source]struct{} {
	set := make(map[Source]struct{}, len(allSources))
	for _, s := range allSources {
		set[s] = struct{}{}
	}
	return set
}()

// EventTypes returns the ordered closed set of known event types.
func EventTypes() []EventType {
	cp := make([]EventType, len(allEventTypes))
	copy(cp, allEventTypes)
	return cp
}

// Sources returns the ordered closed set of known sources.
func Sources() []Source {
	cp := make([]Source, len(allSources))
	copy(cp, allSources)
	return cp
}

// TaskSources returns the sources that represent real sub-tasks, excluding
// the run-level unified tag.
func TaskSources() []Source {
	return []Source{SourceTranscript, SourceAnalysis, SourceSlides}
}

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	normalized := Source(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := sourceSet[normalized]
	return normalized, ok
}

// KnownEventType reports whether the value is in the closed event type set.
func KnownEventType(t EventType) bool {
	_, ok := eventTypeSet[t]
	return ok
}

// KnownSource reports whether the value is in the closed source set.
func KnownSource(s Source) bool {
	_, ok := sourceSet[s]
	return ok
}

// IsTerminal reports whether the event type ends a source's sequence.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// Slide is the structured record carried by slide events.
type Slide struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Image     string  `json:"image"`
	Title     string  `json:"title,omitempty"`
}

// Envelope is the unit exchanged on the wire. Which fields are populated
// depends on Type; Validate enforces the per-type requirements.
type Envelope struct {
	Type     EventType       `json:"type"`
	Source   Source          `json:"source"`
	Phase    string          `json:"phase,omitempty"`
	Message  string          `json:"message,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Slide    *Slide          `json:"slide,omitempty"`
	RunID    string          `json:"runId,omitempty"`
	Version  int64           `json:"version,omitempty"`
}

// ProtocolError reports an event that decoded as JSON but violates the wire
// contract. Callers distinguish it from transport-level noise, which the
// decoder recovers from silently.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// Violation builds a ProtocolError from a format string.
func Violation(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// NewProgress builds a progress envelope without a numeric value.
func NewProgress(source Source, phase, message string) Envelope {
	return Envelope{Type: EventProgress, Source: source, Phase: phase, Message: message}
}

// NewProgressAt builds a progress envelope carrying a 0-100 percentage.
func NewProgressAt(source Source, phase, message string, percent float64) Envelope {
	return Envelope{Type: EventProgress, Source: source, Phase: phase, Message: message, Progress: &percent}
}

// NewPartial builds a partial envelope carrying an incremental fragment.
func NewPartial(source Source, data json.RawMessage) Envelope {
	return Envelope{Type: EventPartial, Source: source, Data: data}
}

// NewResult builds a result envelope carrying a full snapshot.
func NewResult(source Source, data json.RawMessage) Envelope {
	return Envelope{Type: EventResult, Source: source, Data: data}
}

// NewSlide builds a slide envelope.
func NewSlide(source Source, slide Slide) Envelope {
	return Envelope{Type: EventSlide, Source: source, Slide: &slide}
}

// NewComplete builds a terminal complete envelope. Version is zero for
// per-source completes and set on the run-level unified complete.
func NewComplete(source Source, runID string, version int64, data json.RawMessage) Envelope {
	return Envelope{Type: EventComplete, Source: source, RunID: runID, Version: version, Data: data}
}

// NewError builds a terminal error envelope.
func NewError(source Source, message string) Envelope {
	return Envelope{Type: EventError, Source: source, Message: message}
}

// Validate checks the envelope against the wire contract. A non-nil return is
// always a *ProtocolError.
func (e Envelope) Validate() error {
	if !KnownEventType(e.Type) {
		return Violation("unknown event type %q", string(e.Type))
	}
	if !KnownSource(e.Source) {
		return Violation("unknown source %q for %s event", string(e.Source), e.Type)
	}
	switch e.Type {
	case EventProgress:
		if strings.TrimSpace(e.Phase) == "" {
			return Violation("progress event for source %q missing phase", e.Source)
		}
		if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 100) {
			return Violation("progress value %v for source %q outside 0-100", *e.Progress, e.Source)
		}
	case EventPartial, EventResult:
		if len(e.Data) == 0 {
			return Violation("%s event for source %q missing data", e.Type, e.Source)
		}
	case EventSlide:
		if e.Slide == nil {
			return Violation("slide event for source %q missing slide record", e.Source)
		}
		if strings.TrimSpace(e.Slide.Image) == "" {
			return Violation("slide event for source %q missing image", e.Source)
		}
		if e.Slide.Index < 0 {
			return Violation("slide event for source %q has negative index", e.Source)
		}
	case EventComplete:
		if strings.TrimSpace(e.RunID) == "" {
			return Violation("complete event for source %q missing runId", e.Source)
		}
		if e.Version < 0 {
			return Violation("complete event for source %q has negative version", e.Source)
		}
	case EventError:
		if strings.TrimSpace(e.Message) == "" {
			return Violation("error event for source %q missing message", e.Source)
		}
	}
	return nil
}
