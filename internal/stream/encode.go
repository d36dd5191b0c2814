package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteEvent serializes the envelope onto w as one SSE data line. The
// envelope is validated first so an invalid event never reaches the wire.
func WriteEvent(w io.Writer, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("stream encode: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

// WriteKeepalive writes an SSE comment that decoders skip. Intermediaries
// drop idle connections without it.
func WriteKeepalive(w io.Writer) error {
	if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("stream keepalive: %w", err)
	}
	return nil
}
