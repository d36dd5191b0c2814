package client

import (
	"encoding/json"
	"sync"

	"lectern/internal/stream"
)

// Accumulator folds streamed payload fragments into the client's view of the
// run result: a map of section key to JSON value. Fragments are kept as raw
// JSON so values round-trip untouched.
type Accumulator struct {
	mu       sync.Mutex
	sections map[string]json.RawMessage
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{sections: make(map[string]json.RawMessage)}
}

// Apply shallow-merges an object fragment, last write wins per key. Nested
// structures are replaced wholesale, never merged, so applying the same
// fragment twice equals applying it once.
func (a *Accumulator) Apply(data json.RawMessage) error {
	fragment, err := decodeFragment(data)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, value := range fragment {
		a.sections[key] = value
	}
	return nil
}

// Replace swaps the whole view for the given object.
func (a *Accumulator) Replace(data json.RawMessage) error {
	fragment, err := decodeFragment(data)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sections = make(map[string]json.RawMessage, len(fragment))
	for key, value := range fragment {
		a.sections[key] = value
	}
	return nil
}

// Reset clears the view.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sections = make(map[string]json.RawMessage)
}

// Len reports the number of populated sections.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sections)
}

// Snapshot returns a copy of the current sections.
func (a *Accumulator) Snapshot() map[string]json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make(map[string]json.RawMessage, len(a.sections))
	for key, value := range a.sections {
		cp[key] = value
	}
	return cp
}

// JSON marshals the current view as one object with stable key order.
func (a *Accumulator) JSON() json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	encoded, err := json.Marshal(a.sections)
	if err != nil {
		return json.RawMessage("{}")
	}
	return encoded
}

// decodeFragment parses an object payload. A payload that is valid JSON but
// not an object breaks the wire contract.
func decodeFragment(data json.RawMessage) (map[string]json.RawMessage, error) {
	var fragment map[string]json.RawMessage
	if err := json.Unmarshal(data, &fragment); err != nil {
		return nil, stream.Violation("payload fragment is not a JSON object: %v", err)
	}
	return fragment, nil
}
