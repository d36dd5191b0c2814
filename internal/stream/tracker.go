package stream

import "sort"

// Tracker enforces the per-source ordering contract: any number of
// progress/partial/slide events, then exactly one terminal, then nothing.
// Both ends of the wire use it, the emitter to refuse bad sequences before
// they are written and the consumer to detect violations and incomplete
// streams.
type Tracker struct {
	opened   map[Source]struct{}
	terminal map[Source]EventType
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		opened:   make(map[Source]struct{}),
		terminal: make(map[Source]EventType),
	}
}

// Observe records one envelope and reports a *ProtocolError when it arrives
// after its source's terminal event or would be a second terminal.
func (t *Tracker) Observe(env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if prior, done := t.terminal[env.Source]; done {
		return Violation("%s event for source %q after terminal %s", env.Type, env.Source, prior)
	}
	t.opened[env.Source] = struct{}{}
	if env.Type.IsTerminal() {
		t.terminal[env.Source] = env.Type
	}
	return nil
}

// Terminated reports whether the source has seen its terminal event.
func (t *Tracker) Terminated(source Source) bool {
	_, done := t.terminal[source]
	return done
}

// TerminalType returns the terminal event type recorded for the source, if any.
func (t *Tracker) TerminalType(source Source) (EventType, bool) {
	typ, done := t.terminal[source]
	return typ, done
}

// Open returns the sources that have emitted events but no terminal yet,
// in stable order. A non-empty result at end-of-stream means the stream was
// cut short.
func (t *Tracker) Open() []Source {
	var open []Source
	for source := range t.opened {
		if _, done := t.terminal[source]; !done {
			open = append(open, source)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
	return open
}
